package models

import "time"

// ConsultantRate is a consultant's published price for one session mode, in
// credits per minute.
type ConsultantRate struct {
	ConsultantID   string      `gorm:"column:consultant_id;type:uuid;primaryKey" json:"consultant_id"`
	Mode           SessionMode `gorm:"column:mode;type:text;primaryKey" json:"mode"`
	PricePerMinute int64       `gorm:"column:price_per_minute" json:"price_per_minute"`
	UpdatedAt      time.Time   `gorm:"column:updated_at" json:"updated_at"`
}

func (ConsultantRate) TableName() string { return "consultant_rates" }
