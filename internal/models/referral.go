package models

import (
	"time"
)

// ReferralCredit records one inviter bonus grant, one row per invited user.
type ReferralCredit struct {
	ID            uint `gorm:"primaryKey"`
	InviterID     uint `gorm:"not null;index"`
	InvitedUserID uint `gorm:"not null;uniqueIndex"`
	Days          int  `gorm:"not null"`
	CreatedAt     time.Time
}
