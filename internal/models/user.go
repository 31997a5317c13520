package models

import (
	"time"
)

type User struct {
	ID                   uint    `gorm:"primaryKey"`
	TelegramID           int64   `gorm:"uniqueIndex;not null"`
	Username             string  `gorm:"size:255"`
	FirstName            string  `gorm:"size:255"`
	LastName             string  `gorm:"size:255"`
	LanguageCode         string  `gorm:"size:8;default:'ru'"`
	ReferralCode         string  `gorm:"size:32;uniqueIndex"`
	InviterID            *uint   `gorm:"index"`
	ReferralBonusDays    int     `gorm:"not null;default:0"`
	ReferralDaysRedeemed int     `gorm:"not null;default:0"`
	TrialUsed            bool    `gorm:"not null;default:false"`
	PanelAccountID       *string `gorm:"size:64;index"`
	SubscriptionURL      string  `gorm:"size:512"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DisplayName picks the most human-readable identity Telegram gave us.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return "@" + u.Username
	default:
		return "user"
	}
}

func (u *User) HasPanelAccount() bool {
	return u.PanelAccountID != nil && *u.PanelAccountID != ""
}

// AvailableReferralDays is the bonus not yet turned into an order.
func (u *User) AvailableReferralDays() int {
	if n := u.ReferralBonusDays - u.ReferralDaysRedeemed; n > 0 {
		return n
	}
	return 0
}
