package pricing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	KindCustom   = "custom"
	KindTrial    = "trial"
	KindReferral = "referral"
)

const bytesPerGB = 1024 * 1024 * 1024

// Descriptor is the (duration, data cap, device cap) triple an order carries.
// Exactly one of Months and Days is set.
type Descriptor struct {
	Kind      string
	Months    int
	Days      int
	TrafficGB int
	Devices   int
}

func (d Descriptor) String() string {
	period := fmt.Sprintf("%dm", d.Months)
	if d.Months == 0 {
		period = fmt.Sprintf("%dd", d.Days)
	}
	return fmt.Sprintf("%s_%s_%dgb_%ddev", d.Kind, period, d.TrafficGB, d.Devices)
}

// End returns the coverage end for a window starting at start.
func (d Descriptor) End(start time.Time) time.Time {
	return start.AddDate(0, d.Months, d.Days)
}

func (d Descriptor) TrafficBytes() int64 {
	return int64(d.TrafficGB) * bytesPerGB
}

// ParseDescriptor decodes strings such as "custom_1m_50gb_5dev" or
// "trial_3d_1gb_1dev".
func ParseDescriptor(s string) (Descriptor, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 4 {
		return Descriptor{}, fmt.Errorf("malformed tariff %q", s)
	}

	d := Descriptor{Kind: parts[0]}
	switch d.Kind {
	case KindCustom, KindTrial, KindReferral:
	default:
		return Descriptor{}, fmt.Errorf("unknown tariff kind %q", d.Kind)
	}

	period := parts[1]
	if len(period) < 2 {
		return Descriptor{}, fmt.Errorf("malformed tariff period %q", period)
	}
	n, err := strconv.Atoi(period[:len(period)-1])
	if err != nil || n <= 0 {
		return Descriptor{}, fmt.Errorf("malformed tariff period %q", period)
	}
	switch period[len(period)-1] {
	case 'm':
		d.Months = n
	case 'd':
		d.Days = n
	default:
		return Descriptor{}, fmt.Errorf("malformed tariff period %q", period)
	}

	if d.TrafficGB, err = parseSuffixed(parts[2], "gb"); err != nil {
		return Descriptor{}, err
	}
	if d.Devices, err = parseSuffixed(parts[3], "dev"); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

func parseSuffixed(s, suffix string) (int, error) {
	num, found := strings.CutSuffix(s, suffix)
	if !found {
		return 0, fmt.Errorf("expected %q suffix in %q", suffix, s)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("malformed tariff component %q", s)
	}
	return n, nil
}
