package handlers

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wagerpay/settlement_service/internal/domain/entities"
	apperrors "github.com/wagerpay/settlement_service/internal/domain/errors"
	"github.com/wagerpay/settlement_service/internal/domain/services/gas"
	"github.com/wagerpay/settlement_service/internal/infrastructure/repositories"
)

// DepositSink re-offers redriven settlements to the pipeline.
type DepositSink interface {
	Enqueue(event entities.DepositEvent) bool
}

// AdminHandler exposes operator endpoints: inspecting and redriving
// failed settlements, manual sweeps, sponsor withdrawal.
type AdminHandler struct {
	settlements *repositories.SettlementRepository
	sink        DepositSink
	sweepers    map[string]*gas.Sweeper
	withdrawers map[string]*gas.Withdrawer
	logger      *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	settlements *repositories.SettlementRepository,
	sink DepositSink,
	sweepers map[string]*gas.Sweeper,
	withdrawers map[string]*gas.Withdrawer,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		settlements: settlements,
		sink:        sink,
		sweepers:    sweepers,
		withdrawers: withdrawers,
		logger:      logger,
	}
}

// ListRedrivable returns failed and stuck settlements.
func (h *AdminHandler) ListRedrivable(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	rows, err := h.settlements.ListRedrivable(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list redrivable settlements", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list settlements"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlements": rows, "count": len(rows)})
}

// Redrive moves a failed or stuck settlement back to pending and
// re-offers it to the pipeline.
func (h *AdminHandler) Redrive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settlement id"})
		return
	}

	settlement, err := h.settlements.Redrive(c.Request.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if apperrors.IsNotFound(err) {
			status = http.StatusNotFound
		} else if apperrors.GetErrorCode(err) == "VALIDATION_ERROR" {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	amount, ok := new(big.Int).SetString(settlement.AmountIn, 10)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "corrupt settlement amount"})
		return
	}

	accepted := h.sink.Enqueue(entities.DepositEvent{
		ChainKey:    settlement.ChainKey,
		TxHash:      settlement.TxHash,
		LogIndex:    settlement.LogIndex,
		Token:       settlement.Token,
		ToAddress:   settlement.DepositAddr,
		Amount:      amount,
		BlockNumber: settlement.BlockNumber,
		ObservedAt:  time.Now().UTC(),
	})

	h.logger.Info("Settlement redriven",
		zap.String("settlement", id.String()),
		zap.Bool("enqueued", accepted))
	c.JSON(http.StatusOK, gin.H{"settlement": settlement, "enqueued": accepted})
}

type sweepRequest struct {
	Chain     string  `json:"chain" binding:"required"`
	FromIndex *uint32 `json:"from_index"`
	ToIndex   *uint32 `json:"to_index"`
}

// Sweep runs a sweep pass on demand, over all known addresses or an
// explicit wallet-index range.
func (h *AdminHandler) Sweep(c *gin.Context) {
	var req sweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sweeper, ok := h.sweepers[req.Chain]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown chain"})
		return
	}

	var (
		outcomes []entities.SweepOutcome
		err      error
	)
	if req.FromIndex != nil && req.ToIndex != nil {
		outcomes, err = sweeper.SweepRange(c.Request.Context(), *req.FromIndex, *req.ToIndex)
	} else {
		outcomes, err = sweeper.SweepAll(c.Request.Context())
	}
	if err != nil {
		h.logger.Error("Manual sweep failed", zap.String("chain", req.Chain), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes, "count": len(outcomes)})
}

type withdrawRequest struct {
	Chain     string `json:"chain" binding:"required"`
	To        string `json:"to" binding:"required"`
	AmountWei string `json:"amount_wei"`
}

// Withdraw drains native balance from the sponsor wallet.
func (h *AdminHandler) Withdraw(c *gin.Context) {
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	withdrawer, ok := h.withdrawers[req.Chain]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no sponsor wallet on this chain"})
		return
	}
	if !common.IsHexAddress(req.To) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid destination address"})
		return
	}

	var amount *big.Int
	if req.AmountWei != "" {
		v, ok := new(big.Int).SetString(req.AmountWei, 10)
		if !ok || v.Sign() < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		amount = v
	}

	txHash, err := withdrawer.Withdraw(c.Request.Context(), common.HexToAddress(req.To), amount)
	if err != nil {
		h.logger.Error("Sponsor withdrawal failed", zap.String("chain", req.Chain), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tx_hash": txHash})
}
