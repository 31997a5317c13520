// Package pricing turns a tariff selection into a reference-currency price.
package pricing

import (
	"github.com/shopspring/decimal"
)

// Option is one entry of a tariff option set. Value is the tier's natural
// unit: months for durations, gigabytes for data, devices for connections.
type Option struct {
	ID             string
	CoefficientKey string
	Value          int
}

var (
	Durations = []Option{
		{ID: "1", CoefficientKey: "month1", Value: 1},
		{ID: "3", CoefficientKey: "month3", Value: 3},
		{ID: "6", CoefficientKey: "month6", Value: 6},
		{ID: "12", CoefficientKey: "month12", Value: 12},
	}
	DataTiers = []Option{
		{ID: "50", CoefficientKey: "gb50", Value: 50},
		{ID: "100", CoefficientKey: "gb100", Value: 100},
		{ID: "250", CoefficientKey: "gb250", Value: 250},
		{ID: "1000", CoefficientKey: "gb1000", Value: 1000},
		{ID: "5000", CoefficientKey: "gb5000", Value: 5000},
	}
	DeviceTiers = []Option{
		{ID: "5", CoefficientKey: "connections5", Value: 5},
		{ID: "10", CoefficientKey: "connections10", Value: 10},
		{ID: "25", CoefficientKey: "connections25", Value: 25},
		{ID: "100", CoefficientKey: "connections100", Value: 100},
	}
)

// Coefficients maps a CoefficientKey to its multiplier (durations, devices)
// or base price (data tiers).
type Coefficients map[string]float64

// Selection holds one option id from each set.
type Selection struct {
	Duration string `json:"duration"`
	Data     string `json:"data"`
	Devices  string `json:"devices"`
}

func DefaultSelection() Selection {
	return Selection{
		Duration: Durations[0].ID,
		Data:     DataTiers[0].ID,
		Devices:  DeviceTiers[0].ID,
	}
}

func Find(options []Option, id string) (Option, bool) {
	for _, opt := range options {
		if opt.ID == id {
			return opt, true
		}
	}
	return Option{}, false
}

func (s Selection) options() (duration, data, devices Option, ok bool) {
	var okD, okG, okC bool
	duration, okD = Find(Durations, s.Duration)
	data, okG = Find(DataTiers, s.Data)
	devices, okC = Find(DeviceTiers, s.Devices)
	return duration, data, devices, okD && okG && okC
}

// Price computes durationCoefficient × dataBasePrice × deviceCoefficient,
// rounded to two decimals. ok is false when the selection or the
// coefficient table is incomplete; the zero price must then not be used.
func Price(sel Selection, coeffs Coefficients) (price decimal.Decimal, ok bool) {
	duration, data, devices, ok := sel.options()
	if !ok {
		return decimal.Zero, false
	}

	factors := make([]decimal.Decimal, 0, 3)
	for _, key := range []string{duration.CoefficientKey, data.CoefficientKey, devices.CoefficientKey} {
		v, found := coeffs[key]
		if !found {
			return decimal.Zero, false
		}
		factors = append(factors, decimal.NewFromFloat(v))
	}

	return factors[0].Mul(factors[1]).Mul(factors[2]).Round(2), true
}

// Descriptor resolves the selection into the encoded tariff stored on orders.
func (s Selection) Descriptor() (Descriptor, bool) {
	duration, data, devices, ok := s.options()
	if !ok {
		return Descriptor{}, false
	}
	return Descriptor{
		Kind:      KindCustom,
		Months:    duration.Value,
		TrafficGB: data.Value,
		Devices:   devices.Value,
	}, true
}
