package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// TokenAccount mirrors the token_accounts table, one row per device.
type TokenAccount struct {
	DeviceID           string     `gorm:"primaryKey"`
	PurchasedTotal     int64      `gorm:"not null;default:0"`
	PurchasedUsed      int64      `gorm:"not null;default:0"`
	FreeQuota          int64      `gorm:"not null;default:0"`
	FreeUsed           int64      `gorm:"not null;default:0"`
	Unlimited          bool       `gorm:"not null;default:false"`
	UnlimitedExpiresAt *time.Time `gorm:""`
	CreatedAt          time.Time  `gorm:"not null"`
	UpdatedAt          time.Time  `gorm:"not null"`
}

func (TokenAccount) TableName() string { return "token_accounts" }

// PaymentEvent records processed webhook event ids so a redelivered event is
// never credited twice.
type PaymentEvent struct {
	EventID   string         `gorm:"primaryKey"`
	Payload   datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null"`
}

func (PaymentEvent) TableName() string { return "payment_events" }
