package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending OrderStatus = "pending"
	StatusActive  OrderStatus = "active"
	StatusExpired OrderStatus = "expired"
)

// CanTransition reports whether s may move to next. Pending is the only
// state with outgoing edges; active and expired are terminal.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	return s == StatusPending && (next == StatusActive || next == StatusExpired)
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusExpired:
		return true
	}
	return false
}

// Rail identifies how an order is funded.
type Rail string

const (
	RailCryptoBot Rail = "cryptobot"
	RailStars     Rail = "telegram_stars"
	RailTrial     Rail = "trial"
	RailReferral  Rail = "referral"
)

// External reports whether money for the order is collected by a third party
// and therefore has to pass through the pending phase.
func (r Rail) External() bool {
	return r == RailCryptoBot || r == RailStars
}

func (r Rail) Valid() bool {
	switch r {
	case RailCryptoBot, RailStars, RailTrial, RailReferral:
		return true
	}
	return false
}

type Order struct {
	ID                  string          `gorm:"primaryKey;size:36"`
	UserID              uint            `gorm:"not null;index"`
	PanelAccountID      *string         `gorm:"size:64"`
	Tariff              string          `gorm:"size:64;not null"`
	Rail                Rail            `gorm:"size:32;not null;index:idx_orders_rail_ref"`
	PaymentRef          string          `gorm:"size:128;index:idx_orders_rail_ref"`
	Amount              decimal.Decimal `gorm:"type:numeric(24,8);not null"`
	Currency            string          `gorm:"size:16"`
	ReferencePrice      decimal.Decimal `gorm:"type:numeric(24,2);not null;default:0"`
	Status              OrderStatus     `gorm:"size:16;not null;default:'pending';index"`
	StartsAt            *time.Time
	EndsAt              *time.Time `gorm:"index"`
	TrafficLimitGB      int
	DeviceLimit         int
	ReferralDaysApplied int `gorm:"not null;default:0"`
	IsTrial             bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
