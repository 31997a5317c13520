// Package referral credits inviters when a new user arrives with their
// referral token.
package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"remnashop-bot/internal/models"
	"remnashop-bot/internal/users"
)

type Notifier interface {
	ReferralCredited(ctx context.Context, inviter *models.User, invited *models.User, days int)
}

type Ledger struct {
	db        *gorm.DB
	users     *users.Repository
	notifier  Notifier
	bonusDays int
}

func NewLedger(db *gorm.DB, repo *users.Repository, notifier Notifier, bonusDays int) *Ledger {
	return &Ledger{db: db, users: repo, notifier: notifier, bonusDays: bonusDays}
}

// Apply links invited to the owner of token and credits the owner's bonus.
// It reports false when the token is unknown, belongs to invited, or invited
// already has an inviter or used the trial.
func (l *Ledger) Apply(ctx context.Context, invited *models.User, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	inviter, err := l.users.FindByReferralCode(ctx, token)
	if errors.Is(err, users.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if inviter.ID == invited.ID {
		return false, nil
	}

	linked := false
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := l.users.WithTx(tx)
		ok, err := repo.LinkInviter(ctx, invited.ID, inviter.ID)
		if err != nil || !ok {
			return err
		}
		if err := repo.AddReferralBonus(ctx, inviter.ID, l.bonusDays); err != nil {
			return err
		}
		credit := models.ReferralCredit{InviterID: inviter.ID, InvitedUserID: invited.ID, Days: l.bonusDays}
		if err := tx.Create(&credit).Error; err != nil {
			return fmt.Errorf("failed to record referral credit: %w", err)
		}
		linked = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !linked {
		return false, nil
	}

	invited.InviterID = &inviter.ID
	slog.Info("referral credited", "op", "referral", "inviter_id", inviter.ID, "invited_id", invited.ID, "days", l.bonusDays)

	l.notifier.ReferralCredited(ctx, inviter, invited, l.bonusDays)
	return true, nil
}
