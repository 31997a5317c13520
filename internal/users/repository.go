// Package users persists bot users. Fields with once-only semantics are only
// written through conditional updates.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"remnashop-bot/internal/models"
)

var ErrNotFound = errors.New("user not found")

var supportedLanguages = map[string]bool{"ru": true, "en": true}

// Profile is the identity data Telegram sends with every update.
type Profile struct {
	TelegramID   int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func NewReferralCode() string {
	return "ref_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func normalizeLanguage(code string) string {
	code = strings.ToLower(code)
	if len(code) > 2 {
		code = code[:2]
	}
	if supportedLanguages[code] {
		return code
	}
	return "ru"
}

// Upsert refreshes display metadata and creates the user with a fresh
// referral code on first contact. created reports whether the row is new.
func (r *Repository) Upsert(ctx context.Context, p Profile) (user *models.User, created bool, err error) {
	var existing models.User
	err = r.db.WithContext(ctx).Where("telegram_id = ?", p.TelegramID).First(&existing).Error
	switch {
	case err == nil:
		err = r.db.WithContext(ctx).Model(&existing).Updates(map[string]any{
			"username":      p.Username,
			"first_name":    p.FirstName,
			"last_name":     p.LastName,
			"language_code": normalizeLanguage(p.LanguageCode),
		}).Error
		if err != nil {
			return nil, false, fmt.Errorf("failed to update user %d: %w", p.TelegramID, err)
		}
		return &existing, false, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, false, fmt.Errorf("failed to load user %d: %w", p.TelegramID, err)
	}

	fresh := models.User{
		TelegramID:   p.TelegramID,
		Username:     p.Username,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		LanguageCode: normalizeLanguage(p.LanguageCode),
		ReferralCode: NewReferralCode(),
	}
	if err := r.db.WithContext(ctx).Create(&fresh).Error; err != nil {
		// A concurrent update for the same chat may have inserted first.
		if again, findErr := r.FindByTelegramID(ctx, p.TelegramID); findErr == nil {
			return again, false, nil
		}
		return nil, false, fmt.Errorf("failed to create user %d: %w", p.TelegramID, err)
	}
	return &fresh, true, nil
}

func (r *Repository) Get(ctx context.Context, id uint) (*models.User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *Repository) FindByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	return r.first(ctx, "telegram_id = ?", telegramID)
}

func (r *Repository) FindByReferralCode(ctx context.Context, code string) (*models.User, error) {
	if code == "" {
		return nil, ErrNotFound
	}
	return r.first(ctx, "referral_code = ?", code)
}

func (r *Repository) first(ctx context.Context, query string, arg any) (*models.User, error) {
	var u models.User
	err := r.db.WithContext(ctx).Where(query, arg).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &u, nil
}

// SetPanelAccount stores the panel account id unless one is already set, and
// returns whichever id the user ends up with.
func (r *Repository) SetPanelAccount(ctx context.Context, id uint, accountID, subscriptionURL string) (string, error) {
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND panel_account_id IS NULL", id).
		Updates(map[string]any{
			"panel_account_id": accountID,
			"subscription_url": subscriptionURL,
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return "", fmt.Errorf("failed to store panel account for user %d: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		return accountID, nil
	}

	u, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !u.HasPanelAccount() {
		return "", fmt.Errorf("panel account for user %d was not stored", id)
	}
	return *u.PanelAccountID, nil
}

// ConsumeTrial flips trial_used from false to true. It reports false when the
// trial was already used.
func (r *Repository) ConsumeTrial(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND trial_used = ?", id, false).
		Updates(map[string]any{"trial_used": true, "updated_at": time.Now()})
	if res.Error != nil {
		return false, fmt.Errorf("failed to consume trial for user %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// LinkInviter records inviterID on the user if they have no inviter yet,
// have not used the trial, and are not inviting themselves.
func (r *Repository) LinkInviter(ctx context.Context, id, inviterID uint) (bool, error) {
	if id == inviterID {
		return false, nil
	}
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND inviter_id IS NULL AND trial_used = ?", id, false).
		Updates(map[string]any{"inviter_id": inviterID, "updated_at": time.Now()})
	if res.Error != nil {
		return false, fmt.Errorf("failed to link inviter for user %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) AddReferralBonus(ctx context.Context, id uint, days int) error {
	if days <= 0 {
		return fmt.Errorf("referral bonus must be positive, got %d", days)
	}
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"referral_bonus_days": gorm.Expr("referral_bonus_days + ?", days),
			"updated_at":          time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to credit referral bonus to user %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RedeemReferralDays marks days of the accumulated bonus as spent. It
// reports false when fewer than days remain.
func (r *Repository) RedeemReferralDays(ctx context.Context, id uint, days int) (bool, error) {
	if days <= 0 {
		return false, nil
	}
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND referral_bonus_days - referral_days_redeemed >= ?", id, days).
		Updates(map[string]any{
			"referral_days_redeemed": gorm.Expr("referral_days_redeemed + ?", days),
			"updated_at":             time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to redeem referral days for user %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CountInvited returns how many users name id as their inviter.
func (r *Repository) CountInvited(ctx context.Context, id uint) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("inviter_id = ?", id).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count invited users: %w", err)
	}
	return n, nil
}
