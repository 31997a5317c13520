// Package ledger is the durable record of purchase attempts. Order status is
// only ever changed through Transition.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"remnashop-bot/internal/models"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrIllegalTransition = errors.New("illegal order transition")
	ErrInvalidOrder      = errors.New("invalid order")
)

type Ledger struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// WithTx returns a ledger bound to an open transaction.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx}
}

// Create inserts a new order. Orders funded by an external rail start
// pending; trial and referral orders are inserted already active with their
// coverage window stamped.
func (l *Ledger) Create(ctx context.Context, o *models.Order) error {
	if err := validateNew(o); err != nil {
		return err
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if err := l.db.WithContext(ctx).Create(o).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func validateNew(o *models.Order) error {
	if !o.Rail.Valid() {
		return fmt.Errorf("%w: unknown rail %q", ErrInvalidOrder, o.Rail)
	}
	if o.UserID == 0 || o.Tariff == "" {
		return fmt.Errorf("%w: user and tariff are required", ErrInvalidOrder)
	}
	if o.Rail.External() {
		if o.Status != models.StatusPending {
			return fmt.Errorf("%w: %s orders start pending", ErrInvalidOrder, o.Rail)
		}
		if !o.Amount.IsPositive() {
			return fmt.Errorf("%w: paid order needs a positive amount", ErrInvalidOrder)
		}
		return nil
	}
	if o.Status != models.StatusActive || o.StartsAt == nil || o.EndsAt == nil {
		return fmt.Errorf("%w: %s orders are created active with coverage", ErrInvalidOrder, o.Rail)
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	err := l.db.WithContext(ctx).Where("id = ?", id).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", id, err)
	}
	return &o, nil
}

func (l *Ledger) FindByPaymentRef(ctx context.Context, rail models.Rail, ref string) (*models.Order, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	var o models.Order
	err := l.db.WithContext(ctx).Where("rail = ? AND payment_ref = ?", rail, ref).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s order %s: %w", rail, ref, err)
	}
	return &o, nil
}

// ListPending returns the user's most recent pending orders on rail that
// already carry an external reference.
func (l *Ledger) ListPending(ctx context.Context, userID uint, rail models.Rail, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := l.db.WithContext(ctx).
		Where("user_id = ? AND rail = ? AND status = ? AND payment_ref <> ''", userID, rail, models.StatusPending).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending orders: %w", err)
	}
	return orders, nil
}

// ListStalePending returns pending orders on rail created before cutoff,
// oldest first.
func (l *Ledger) ListStalePending(ctx context.Context, rail models.Rail, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := l.db.WithContext(ctx).
		Where("rail = ? AND status = ? AND payment_ref <> '' AND created_at < ?", rail, models.StatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending orders: %w", err)
	}
	return orders, nil
}

// ListUnprovisioned returns active orders that never got a panel account and
// have not changed since cutoff. Orders touched later may still be inside
// the confirmation that activated them.
func (l *Ledger) ListUnprovisioned(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := l.db.WithContext(ctx).
		Where("status = ? AND panel_account_id IS NULL AND updated_at < ?", models.StatusActive, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unprovisioned orders: %w", err)
	}
	return orders, nil
}

// ListEndingBetween returns active orders whose coverage ends in [from, to].
func (l *Ledger) ListEndingBetween(ctx context.Context, from, to time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := l.db.WithContext(ctx).
		Where("status = ? AND ends_at BETWEEN ? AND ?", models.StatusActive, from, to).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring orders: %w", err)
	}
	return orders, nil
}

// AssignPaymentRef records the rail's reference on a pending order that has
// none yet.
func (l *Ledger) AssignPaymentRef(ctx context.Context, id, ref string) error {
	res := l.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ? AND payment_ref = ''", id, models.StatusPending).
		Updates(map[string]any{"payment_ref": ref, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to assign payment ref: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: order %s is not awaiting a payment reference", ErrIllegalTransition, id)
	}
	return nil
}

// Discard deletes a pending order that never reached the rail. Anything with
// an external reference is kept.
func (l *Ledger) Discard(ctx context.Context, id string) (bool, error) {
	res := l.db.WithContext(ctx).
		Where("id = ? AND status = ? AND payment_ref = ''", id, models.StatusPending).
		Delete(&models.Order{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to discard order: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Activation carries the fields stamped when an order becomes active.
// Start and End only fill empty columns; PaymentRef only fills an empty
// reference.
type Activation struct {
	Start      time.Time
	End        time.Time
	PaymentRef string
}

// Transition moves order id to status to as one conditional update. It
// returns applied=false without error when the order is already past the
// states that may precede to.
func (l *Ledger) Transition(ctx context.Context, id string, to models.OrderStatus, act *Activation) (applied bool, err error) {
	from := predecessors(to)
	if len(from) == 0 {
		return false, fmt.Errorf("%w: nothing transitions to %s", ErrIllegalTransition, to)
	}

	updates := map[string]any{"status": to, "updated_at": time.Now()}
	if to == models.StatusActive {
		if act == nil {
			return false, fmt.Errorf("%w: activation requires a coverage window", ErrIllegalTransition)
		}
		updates["starts_at"] = gorm.Expr("COALESCE(starts_at, ?)", act.Start)
		updates["ends_at"] = gorm.Expr("COALESCE(ends_at, ?)", act.End)
		if act.PaymentRef != "" {
			updates["payment_ref"] = gorm.Expr("COALESCE(NULLIF(payment_ref, ''), ?)", act.PaymentRef)
		}
	}

	res := l.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to move order %s to %s: %w", id, to, res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var count int64
	if err := l.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to load order %s: %w", id, err)
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

func predecessors(to models.OrderStatus) []models.OrderStatus {
	var out []models.OrderStatus
	for _, s := range []models.OrderStatus{models.StatusPending, models.StatusActive, models.StatusExpired} {
		if s.CanTransition(to) {
			out = append(out, s)
		}
	}
	return out
}

// AttachPanelAccount stores the panel account snapshot once.
func (l *Ledger) AttachPanelAccount(ctx context.Context, id, accountID string) error {
	err := l.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND panel_account_id IS NULL", id).
		Updates(map[string]any{"panel_account_id": accountID, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to attach panel account to order %s: %w", id, err)
	}
	return nil
}
