package models

import "time"

// Wallet holds a user's credit balance. Balance is in whole credit units and
// never goes negative; the only legal mutation path is the ledger service.
type Wallet struct {
	UserID    string    `gorm:"column:user_id;type:uuid;primaryKey" json:"user_id"`
	Balance   int64     `gorm:"column:balance" json:"balance"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Wallet) TableName() string { return "wallets" }

// Transaction is the immutable audit record appended for every balance
// mutation. Amount is signed: negative for debits, positive for credits.
type Transaction struct {
	ID             string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID         string    `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	Amount         int64     `gorm:"column:amount" json:"amount"`
	BalanceAfter   int64     `gorm:"column:balance_after" json:"balance_after"`
	Reason         string    `gorm:"column:reason;type:text" json:"reason"`
	CounterpartyID string    `gorm:"column:counterparty_id;type:uuid" json:"counterparty_id,omitempty"`
	RequestID      string    `gorm:"column:request_id;type:text;index" json:"request_id,omitempty"`
	CreatedAt      time.Time `gorm:"column:created_at;index" json:"created_at"`
}

func (Transaction) TableName() string { return "transactions" }

// Well-known transaction reasons.
const (
	ReasonSessionCharge = "session_charge"
	ReasonSessionPayout = "session_payout"
	ReasonTopUp         = "top_up"
	ReasonAdminAdjust   = "admin_adjustment"
)
