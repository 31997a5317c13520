// Package provision makes sure every user who paid owns exactly one panel
// account.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"remnashop-bot/internal/models"
	"remnashop-bot/internal/pricing"
	"remnashop-bot/internal/remnawave"
	"remnashop-bot/internal/users"
)

var ErrPanelUnavailable = errors.New("panel unavailable")

// Panel is the subset of the Remnawave API the provisioner calls.
type Panel interface {
	CreateUser(ctx context.Context, req remnawave.CreateUserRequest) (*remnawave.UserResponse, error)
	GetUserByUsername(ctx context.Context, username string) (*remnawave.UserResponse, error)
}

type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type Provisioner struct {
	panel   Panel
	users   *users.Repository
	locker  Locker
	squad   string
	timeout time.Duration
}

func New(panel Panel, repo *users.Repository, locker Locker, squad string, timeout time.Duration) *Provisioner {
	return &Provisioner{
		panel:   panel,
		users:   repo,
		locker:  locker,
		squad:   squad,
		timeout: timeout,
	}
}

// PanelUsername is the account name derived from the Telegram id.
func PanelUsername(telegramID int64) string {
	return fmt.Sprintf("user_%d", telegramID)
}

// EnsureAccount returns the user's panel account id, creating the account
// with tariff limits when the user has none. A stored id is returned without
// contacting the panel. Failures never touch order state.
func (p *Provisioner) EnsureAccount(ctx context.Context, user *models.User, tariff pricing.Descriptor, expireAt time.Time) (string, error) {
	if user.HasPanelAccount() {
		return *user.PanelAccountID, nil
	}

	release, err := p.locker.Acquire(ctx, fmt.Sprintf("panel:%d", user.ID))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPanelUnavailable, err)
	}
	defer release()

	fresh, err := p.users.Get(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if fresh.HasPanelAccount() {
		*user = *fresh
		return *fresh.PanelAccountID, nil
	}

	account, err := p.create(ctx, fresh, tariff, expireAt)
	if err != nil {
		return "", err
	}

	stored, err := p.users.SetPanelAccount(ctx, fresh.ID, account.UUID, account.SubscriptionURL)
	if err != nil {
		return "", err
	}
	fresh.PanelAccountID = &stored
	if stored == account.UUID {
		fresh.SubscriptionURL = account.SubscriptionURL
	}
	*user = *fresh

	slog.Info("panel account provisioned", "op", "provision", "user_id", fresh.ID, "panel_account_id", stored)
	return stored, nil
}

func (p *Provisioner) create(ctx context.Context, user *models.User, tariff pricing.Descriptor, expireAt time.Time) (*remnawave.UserResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	username := PanelUsername(user.TelegramID)
	req := remnawave.CreateUserRequest{
		Username:             username,
		Status:               remnawave.StatusActive,
		ShortUUID:            randomHex(16),
		SubscriptionUUID:     uuid.NewString(),
		VlessUUID:            uuid.NewString(),
		TrojanPassword:       randomHex(24),
		SsPassword:           randomHex(24),
		TrafficLimitBytes:    tariff.TrafficBytes(),
		TrafficLimitStrategy: remnawave.StrategyNoReset,
		ExpireAt:             expireAt.UTC().Format(time.RFC3339),
		Description:          user.DisplayName(),
		Tag:                  remnawave.TagShop,
		TelegramID:           user.TelegramID,
		HwidDeviceLimit:      tariff.Devices,
	}
	if p.squad != "" {
		req.ActiveInternalSquads = []string{p.squad}
	}

	account, err := p.panel.CreateUser(ctx, req)
	if err == nil {
		return account, nil
	}

	// The account may exist from an attempt that crashed before the id
	// was stored locally.
	existing, lookupErr := p.panel.GetUserByUsername(ctx, username)
	switch {
	case lookupErr == nil:
		slog.Warn("adopting existing panel account", "op", "provision", "user_id", user.ID, "panel_account_id", existing.UUID)
		return existing, nil
	case remnawave.IsNotFound(lookupErr):
		slog.Error("panel account creation failed", "op", "provision", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrPanelUnavailable, err)
	}
	slog.Error("panel account creation and lookup failed", "op", "provision", "user_id", user.ID, "error", err, "lookup_error", lookupErr)
	return nil, fmt.Errorf("%w: %w (lookup: %w)", ErrPanelUnavailable, err, lookupErr)
}

func randomHex(n int) string {
	var b strings.Builder
	for b.Len() < n {
		b.WriteString(strings.ReplaceAll(uuid.NewString(), "-", ""))
	}
	return b.String()[:n]
}
