package models

import (
	"time"

	"gorm.io/datatypes"
)

type SessionMode string

const (
	ModeChat  SessionMode = "chat"
	ModeVoice SessionMode = "voice"
	ModeVideo SessionMode = "video"
)

type SessionKind string

const (
	KindInstant SessionKind = "instant"
	KindBooking SessionKind = "booking"
)

type SessionStatus string

const (
	StatusPending SessionStatus = "pending"
	StatusActive  SessionStatus = "active"
	StatusEnded   SessionStatus = "ended"
)

// Session is one paid consultation instance between a customer and a
// consultant. RequestID is the stable external identifier; RoomName is the
// opaque token addressing the real-time channel.
type Session struct {
	ID           string      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	RequestID    string      `gorm:"column:request_id;type:text;uniqueIndex" json:"request_id"`
	RoomName     string      `gorm:"column:room_name;type:text;uniqueIndex" json:"room_name"`
	CustomerID   string      `gorm:"column:customer_id;type:uuid;index" json:"customer_id"`
	ConsultantID string      `gorm:"column:consultant_id;type:uuid;index" json:"consultant_id"`
	Mode         SessionMode `gorm:"column:mode;type:text" json:"mode"`
	Kind         SessionKind `gorm:"column:kind;type:text" json:"kind"`

	// Credits deducted per billing tick, resolved from the consultant's
	// published rate for the active mode. Re-resolved on upgrade to video.
	PricePerMinute int64 `gorm:"column:price_per_minute" json:"price_per_minute"`

	Status    SessionStatus `gorm:"column:status;type:text;index" json:"status"`
	StartedAt *time.Time    `gorm:"column:started_at" json:"started_at,omitempty"`
	EndedAt   *time.Time    `gorm:"column:ended_at" json:"ended_at,omitempty"`

	// Booking window; nil for instant sessions.
	BookedStart *time.Time `gorm:"column:booked_start" json:"booked_start,omitempty"`
	BookedEnd   *time.Time `gorm:"column:booked_end" json:"booked_end,omitempty"`

	Metadata datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Session) TableName() string { return "sessions" }

// IsParty reports whether userID is one of the two parties of this session.
func (s *Session) IsParty(userID string) bool {
	return userID == s.CustomerID || userID == s.ConsultantID
}

// Reenterable reports whether an ended session may be entered again at the
// given instant. Only booking sessions within their booked window re-enter;
// instant sessions are terminal once ended.
func (s *Session) Reenterable(now time.Time) bool {
	if s.Kind != KindBooking || s.BookedStart == nil || s.BookedEnd == nil {
		return false
	}
	return !now.Before(*s.BookedStart) && now.Before(*s.BookedEnd)
}
