package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/soulline/backend/internal/models"
	"github.com/soulline/backend/internal/utils"
	"gorm.io/gorm"
)

// WalletRepository is the persistence boundary of the ledger. Every mutation
// is atomic for the touched user and appends a transaction record inside the
// same database transaction, so a balance change without its audit row can
// never be observed.
type WalletRepository interface {
	// Debit subtracts amount from the user's balance. Returns
	// utils.ErrInsufficientFunds when the balance would go negative and
	// utils.ErrNotFound when no wallet exists.
	Debit(ctx context.Context, userID string, amount int64, rec *models.Transaction) (int64, error)
	// Credit adds amount to the user's balance, creating the wallet when
	// absent (top-ups may precede any session).
	Credit(ctx context.Context, userID string, amount int64, rec *models.Transaction) (int64, error)
	Balance(ctx context.Context, userID string) (int64, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error)
}

type walletRepo struct {
	db *gorm.DB
}

func NewWalletRepo(db *gorm.DB) WalletRepository {
	return &walletRepo{db: db}
}

func (r *walletRepo) Debit(ctx context.Context, userID string, amount int64, rec *models.Transaction) (int64, error) {
	var newBalance int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Conditional update: the WHERE clause is what keeps the balance
		// non-negative under concurrent debits. The row lock taken by the
		// UPDATE serializes concurrent mutations for the same user.
		res := tx.Raw(
			`UPDATE wallets SET balance = balance - ?, updated_at = ? WHERE user_id = ? AND balance >= ? RETURNING balance`,
			amount, time.Now().UTC(), userID, amount,
		).Scan(&newBalance)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var w models.Wallet
			if err := tx.Where("user_id = ?", userID).Take(&w).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return utils.ErrNotFound
				}
				return err
			}
			return utils.ErrInsufficientFunds
		}
		return tx.Create(fillRecord(rec, userID, -amount, newBalance)).Error
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (r *walletRepo) Credit(ctx context.Context, userID string, amount int64, rec *models.Transaction) (int64, error) {
	var newBalance int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Raw(
			`INSERT INTO wallets (user_id, balance, created_at, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (user_id)
			 DO UPDATE SET balance = wallets.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at
			 RETURNING balance`,
			userID, amount, now, now,
		).Scan(&newBalance)
		if res.Error != nil {
			return res.Error
		}
		return tx.Create(fillRecord(rec, userID, amount, newBalance)).Error
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (r *walletRepo) Balance(ctx context.Context, userID string) (int64, error) {
	var w models.Wallet
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, utils.ErrNotFound
	}
	return w.Balance, err
}

func (r *walletRepo) ListTransactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func fillRecord(rec *models.Transaction, userID string, amount, balanceAfter int64) *models.Transaction {
	if rec == nil {
		rec = &models.Transaction{}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.UserID = userID
	rec.Amount = amount
	rec.BalanceAfter = balanceAfter
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return rec
}
