package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/soulline/backend/internal/models"
	"github.com/soulline/backend/internal/queue"
	"github.com/soulline/backend/internal/repositories/postgres"
	"github.com/soulline/backend/internal/utils"
)

// LedgerService is the only legal path to balance mutation. The billing
// clock, top-up flow and admin adjustments all funnel through it.
type LedgerService interface {
	// Debit removes amount credits from the user and returns the new
	// balance. Fails with CodeInsufficientCredits when the balance cannot
	// cover the amount.
	Debit(ctx context.Context, userID string, amount int64, reason, counterpartyID, requestID string) (int64, error)
	// Credit adds amount credits to the user and returns the new balance.
	Credit(ctx context.Context, userID string, amount int64, reason, counterpartyID, requestID string) (int64, error)
	// Balance reads the current balance; a user without a wallet has zero.
	Balance(ctx context.Context, userID string) (int64, error)
	Transactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error)
}

type ledgerService struct {
	wallets postgres.WalletRepository
	events  queue.Publisher
	log     *logrus.Logger
}

func NewLedgerService(wallets postgres.WalletRepository, events queue.Publisher, log *logrus.Logger) LedgerService {
	return &ledgerService{wallets: wallets, events: events, log: log}
}

func (s *ledgerService) Debit(ctx context.Context, userID string, amount int64, reason, counterpartyID, requestID string) (int64, error) {
	const op = "LedgerService.Debit"

	if userID == "" || amount <= 0 {
		return 0, utils.E(utils.CodeInvalidArgument, op, "user_id and a positive amount are required", nil)
	}

	rec := &models.Transaction{
		ID:             uuid.NewString(),
		Reason:         reason,
		CounterpartyID: counterpartyID,
		RequestID:      requestID,
	}
	newBalance, err := s.wallets.Debit(ctx, userID, amount, rec)
	if err != nil {
		if errors.Is(err, utils.ErrInsufficientFunds) || errors.Is(err, utils.ErrNotFound) {
			// a missing wallet debits like an empty one
			return 0, utils.E(utils.CodeInsufficientCredits, op, "insufficient credits", err)
		}
		return 0, utils.E(utils.CodeInternal, op, "failed to debit wallet", err)
	}

	s.publish(ctx, rec)
	return newBalance, nil
}

func (s *ledgerService) Credit(ctx context.Context, userID string, amount int64, reason, counterpartyID, requestID string) (int64, error) {
	const op = "LedgerService.Credit"

	if userID == "" || amount <= 0 {
		return 0, utils.E(utils.CodeInvalidArgument, op, "user_id and a positive amount are required", nil)
	}

	rec := &models.Transaction{
		ID:             uuid.NewString(),
		Reason:         reason,
		CounterpartyID: counterpartyID,
		RequestID:      requestID,
	}
	newBalance, err := s.wallets.Credit(ctx, userID, amount, rec)
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to credit wallet", err)
	}

	s.publish(ctx, rec)
	return newBalance, nil
}

func (s *ledgerService) Balance(ctx context.Context, userID string) (int64, error) {
	const op = "LedgerService.Balance"

	if userID == "" {
		return 0, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	bal, err := s.wallets.Balance(ctx, userID)
	if errors.Is(err, utils.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to read balance", err)
	}
	return bal, nil
}

func (s *ledgerService) Transactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	const op = "LedgerService.Transactions"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	rows, err := s.wallets.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list transactions", err)
	}
	return rows, nil
}

func (s *ledgerService) publish(ctx context.Context, rec *models.Transaction) {
	err := s.events.Transaction(ctx, queue.TransactionEvent{
		ID:           rec.ID,
		UserID:       rec.UserID,
		Amount:       rec.Amount,
		BalanceAfter: rec.BalanceAfter,
		Reason:       rec.Reason,
		RequestID:    rec.RequestID,
		CreatedAt:    rec.CreatedAt,
	})
	if err != nil {
		s.log.WithError(err).WithField("transaction_id", rec.ID).Warn("transaction event not published")
	}
}
