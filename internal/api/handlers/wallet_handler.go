package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/soulline/backend/internal/models"
	"github.com/soulline/backend/internal/services"
	"github.com/soulline/backend/internal/utils"
)

type WalletHandler struct {
	ledger services.LedgerService
}

func NewWalletHandler(ledger services.LedgerService) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

// Me returns the caller's balance and recent transactions.
func (h *WalletHandler) Me(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	balance, err := h.ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	txns, err := h.ledger.Transactions(c.Request.Context(), userID, 25)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance":      balance,
		"transactions": txns,
	})
}

type AdjustRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Amount int64  `json:"amount" binding:"required"` // positive credits, negative debits
	Reason string `json:"reason"`
}

// Adjust applies an administrative balance correction through the ledger, so
// it is audited like every other mutation.
func (h *WalletHandler) Adjust(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "WalletHandler.Adjust", "invalid request body", err))
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = models.ReasonAdminAdjust
	}

	var (
		balance int64
		err     error
	)
	if req.Amount >= 0 {
		balance, err = h.ledger.Credit(c.Request.Context(), req.UserID, req.Amount, reason, "", "")
	} else {
		balance, err = h.ledger.Debit(c.Request.Context(), req.UserID, -req.Amount, reason, "", "")
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}
