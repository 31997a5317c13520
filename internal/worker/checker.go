// Package worker runs the periodic jobs: sweeping unpaid invoices, retrying
// panel provisioning and reminding users before coverage ends.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"remnashop-bot/internal/ledger"
	"remnashop-bot/internal/models"
	"remnashop-bot/internal/payment"
	"remnashop-bot/internal/users"
)

const (
	sweepGrace   = time.Minute
	sweepBatch   = 50
	retryBatch   = 20
	retryGrace   = 5 * time.Minute
	reminderTTL  = 48 * time.Hour
	jobTimeout   = 2 * time.Minute
	reminderFrom = 23 * time.Hour
	reminderTo   = 25 * time.Hour
)

// Confirmer is the part of the payment router the jobs drive.
type Confirmer interface {
	CheckOrder(ctx context.Context, order *models.Order) (payment.Outcome, error)
	Fulfil(ctx context.Context, order *models.Order) (*models.User, error)
}

type Reminder interface {
	ExpiryReminder(ctx context.Context, user *models.User, order *models.Order) error
}

type Checker struct {
	ledger    *ledger.Ledger
	users     *users.Repository
	confirmer Confirmer
	redis     *redis.Client
	reminder  Reminder
	now       func() time.Time
	cron      *cron.Cron
}

func NewChecker(l *ledger.Ledger, repo *users.Repository, confirmer Confirmer, rdb *redis.Client, reminder Reminder) *Checker {
	return &Checker{
		ledger:    l,
		users:     repo,
		confirmer: confirmer,
		redis:     rdb,
		reminder:  reminder,
		now:       time.Now,
		cron:      cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
	}
}

func (c *Checker) Start() error {
	jobs := map[string]func(context.Context){
		"@every 1m":  c.SweepPending,
		"@every 10m": c.RetryProvisioning,
		"@every 1h":  c.RemindExpiring,
	}
	for schedule, job := range jobs {
		if _, err := c.cron.AddFunc(schedule, withTimeout(job)); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", schedule, err)
		}
	}
	c.cron.Start()
	slog.Info("background worker started", "jobs", len(jobs))
	return nil
}

// Stop waits for running jobs to finish.
func (c *Checker) Stop() {
	<-c.cron.Stop().Done()
}

func withTimeout(job func(context.Context)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		job(ctx)
	}
}

// SweepPending re-checks Crypto Pay orders the webhook has not settled and
// Stars orders charged by Telegram but never activated.
func (c *Checker) SweepPending(ctx context.Context) {
	for _, rail := range []models.Rail{models.RailCryptoBot, models.RailStars} {
		c.sweepRail(ctx, rail)
	}
}

func (c *Checker) sweepRail(ctx context.Context, rail models.Rail) {
	orders, err := c.ledger.ListStalePending(ctx, rail, c.now().Add(-sweepGrace), sweepBatch)
	if err != nil {
		slog.Error("failed to list pending orders", "op", "sweep", "rail", rail, "error", err)
		return
	}
	for i := range orders {
		outcome, err := c.confirmer.CheckOrder(ctx, &orders[i])
		if err != nil {
			slog.Warn("pending order check failed", "op", "sweep", "order_id", orders[i].ID, "rail", orders[i].Rail, "error", err)
			continue
		}
		if outcome != payment.OutcomePending {
			slog.Info("pending order settled", "op", "sweep", "order_id", orders[i].ID, "rail", orders[i].Rail, "outcome", outcome.String())
		}
	}
}

// RetryProvisioning provisions active orders whose panel call failed. An
// order is left alone for retryGrace after its last change, which outlasts
// the panel call of the confirmation that activated it.
func (c *Checker) RetryProvisioning(ctx context.Context) {
	orders, err := c.ledger.ListUnprovisioned(ctx, c.now().Add(-retryGrace), retryBatch)
	if err != nil {
		slog.Error("failed to list unprovisioned orders", "op", "retry_provision", "error", err)
		return
	}
	for i := range orders {
		if _, err := c.confirmer.Fulfil(ctx, &orders[i]); err != nil {
			slog.Warn("provisioning retry failed", "op", "retry_provision", "order_id", orders[i].ID, "rail", orders[i].Rail, "error", err)
			continue
		}
		slog.Info("provisioning retry succeeded", "op", "retry_provision", "order_id", orders[i].ID, "rail", orders[i].Rail)
	}
}

// RemindExpiring notifies users whose coverage ends in about a day, once
// per user per reminder window.
func (c *Checker) RemindExpiring(ctx context.Context) {
	now := c.now()
	orders, err := c.ledger.ListEndingBetween(ctx, now.Add(reminderFrom), now.Add(reminderTo))
	if err != nil {
		slog.Error("failed to list expiring orders", "op", "remind", "error", err)
		return
	}

	for i := range orders {
		order := &orders[i]
		key := fmt.Sprintf("notified_24h_%d", order.UserID)
		first, err := c.redis.SetNX(ctx, key, order.ID, reminderTTL).Result()
		if err != nil {
			slog.Error("failed to claim reminder", "op", "remind", "order_id", order.ID, "error", err)
			continue
		}
		if !first {
			continue
		}

		user, err := c.users.Get(ctx, order.UserID)
		if err == nil {
			err = c.reminder.ExpiryReminder(ctx, user, order)
		}
		if err != nil {
			c.redis.Del(ctx, key)
			slog.Warn("failed to send expiry reminder", "op", "remind", "order_id", order.ID, "error", err)
			continue
		}
		slog.Info("sent expiry reminder", "op", "remind", "order_id", order.ID, "user_id", order.UserID)
	}
}
