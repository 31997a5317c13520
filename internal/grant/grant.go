// Package grant issues orders nobody pays for: the one-time trial and
// redemptions of accumulated referral days.
package grant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"remnashop-bot/internal/ledger"
	"remnashop-bot/internal/models"
	"remnashop-bot/internal/pricing"
	"remnashop-bot/internal/users"
)

var (
	ErrTrialDisabled    = errors.New("trial is disabled")
	ErrTrialUsed        = errors.New("trial already used")
	ErrReferralDisabled = errors.New("referral program is disabled")
	ErrNoReferralDays   = errors.New("no referral days available")
)

// Fulfiller provisions and announces an active order.
type Fulfiller interface {
	Fulfil(ctx context.Context, order *models.Order) (*models.User, error)
}

type Notifier interface {
	ProvisioningFailed(ctx context.Context, user *models.User, order *models.Order)
}

type Alerter interface {
	Alert(ctx context.Context, msg string, args ...any)
}

// Limits are the panel limits of a granted order.
type Limits struct {
	Enabled   bool
	Days      int
	TrafficGB int
	Devices   int
}

type Granter struct {
	db        *gorm.DB
	ledger    *ledger.Ledger
	users     *users.Repository
	fulfiller Fulfiller
	notifier  Notifier
	alerter   Alerter
	trial     Limits
	referral  Limits
	now       func() time.Time
}

func New(db *gorm.DB, l *ledger.Ledger, repo *users.Repository, f Fulfiller, n Notifier, a Alerter, trial, referral Limits) *Granter {
	return &Granter{
		db:        db,
		ledger:    l,
		users:     repo,
		fulfiller: f,
		notifier:  n,
		alerter:   a,
		trial:     trial,
		referral:  referral,
		now:       time.Now,
	}
}

// GrantTrial consumes the user's trial and creates an active trial order in
// one transaction, then provisions the panel account.
func (g *Granter) GrantTrial(ctx context.Context, user *models.User) (*models.Order, error) {
	if !g.trial.Enabled {
		return nil, ErrTrialDisabled
	}
	tariff := pricing.Descriptor{
		Kind:      pricing.KindTrial,
		Days:      g.trial.Days,
		TrafficGB: g.trial.TrafficGB,
		Devices:   g.trial.Devices,
	}
	order := g.newOrder(user, models.RailTrial, tariff)
	order.IsTrial = true

	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := g.users.WithTx(tx).ConsumeTrial(ctx, user.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTrialUsed
		}
		return g.ledger.WithTx(tx).Create(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	user.TrialUsed = true

	slog.Info("trial granted", "op", "trial", "order_id", order.ID, "rail", order.Rail, "user_id", user.ID)
	g.fulfil(ctx, order)
	return order, nil
}

// RedeemReferralDays turns every unredeemed bonus day into one active order.
func (g *Granter) RedeemReferralDays(ctx context.Context, user *models.User) (*models.Order, error) {
	if !g.referral.Enabled {
		return nil, ErrReferralDisabled
	}
	fresh, err := g.users.Get(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	days := fresh.AvailableReferralDays()
	if days == 0 {
		return nil, ErrNoReferralDays
	}

	tariff := pricing.Descriptor{
		Kind:      pricing.KindReferral,
		Days:      days,
		TrafficGB: g.referral.TrafficGB,
		Devices:   g.referral.Devices,
	}
	order := g.newOrder(fresh, models.RailReferral, tariff)
	order.ReferralDaysApplied = days

	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := g.users.WithTx(tx).RedeemReferralDays(ctx, fresh.ID, days)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoReferralDays
		}
		return g.ledger.WithTx(tx).Create(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	user.ReferralDaysRedeemed = fresh.ReferralDaysRedeemed + days

	slog.Info("referral days redeemed", "op", "referral_redeem", "order_id", order.ID, "rail", order.Rail, "days", days)
	g.fulfil(ctx, order)
	return order, nil
}

func (g *Granter) newOrder(user *models.User, rail models.Rail, tariff pricing.Descriptor) *models.Order {
	start := g.now()
	end := tariff.End(start)
	return &models.Order{
		UserID:         user.ID,
		Tariff:         tariff.String(),
		Rail:           rail,
		Amount:         decimal.Zero,
		Status:         models.StatusActive,
		StartsAt:       &start,
		EndsAt:         &end,
		TrafficLimitGB: tariff.TrafficGB,
		DeviceLimit:    tariff.Devices,
	}
}

// fulfil provisions a granted order. The grant stands when the panel fails.
func (g *Granter) fulfil(ctx context.Context, order *models.Order) {
	user, err := g.fulfiller.Fulfil(ctx, order)
	if err == nil {
		return
	}
	g.alerter.Alert(ctx, fmt.Sprintf("provisioning failed for %s order", order.Rail), "order_id", order.ID, "rail", order.Rail, "error", err.Error())
	if user != nil {
		g.notifier.ProvisioningFailed(ctx, user, order)
	}
}
