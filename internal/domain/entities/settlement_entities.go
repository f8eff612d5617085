package entities

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DetectionMode selects how the chain watcher discovers deposits.
type DetectionMode string

const (
	// DetectionModeTransactions scans block transactions and ERC-20
	// Transfer logs addressed to watched deposit addresses.
	DetectionModeTransactions DetectionMode = "transactions"
	// DetectionModeBalances polls watched addresses and treats positive
	// balance deltas as deposits. Used on chains without reliable log
	// filtering.
	DetectionModeBalances DetectionMode = "balances"
)

// Validate checks if the detection mode is valid
func (m DetectionMode) Validate() error {
	switch m {
	case DetectionModeTransactions, DetectionModeBalances:
		return nil
	default:
		return fmt.Errorf("invalid detection mode: %s", m)
	}
}

// NativeToken marks a deposit of the chain's native asset rather than an
// ERC-20 token.
const NativeToken = "native"

// DepositEvent is an observed inbound transfer to a watched deposit
// address. Amount is in the token's smallest unit (wei for native).
type DepositEvent struct {
	ChainKey    string   `json:"chain_key"`
	TxHash      string   `json:"tx_hash"`
	LogIndex    uint     `json:"log_index"`
	Token       string   `json:"token"` // NativeToken or ERC-20 contract address
	ToAddress   string   `json:"to_address"`
	FromAddress string   `json:"from_address,omitempty"`
	Amount      *big.Int `json:"amount"`
	BlockNumber uint64   `json:"block_number"`
	ObservedAt  time.Time `json:"observed_at"`
}

// IdentityKey uniquely identifies a deposit across retries and process
// restarts. Two events with the same key settle at most once.
func (e *DepositEvent) IdentityKey() string {
	return fmt.Sprintf("%s:%s:%d", e.ChainKey, strings.ToLower(e.TxHash), e.LogIndex)
}

// IsNative returns true for native-asset deposits.
func (e *DepositEvent) IsNative() bool {
	return e.Token == NativeToken || e.Token == ""
}

// Validate checks the event carries everything settlement needs.
func (e *DepositEvent) Validate() error {
	if e.ChainKey == "" {
		return fmt.Errorf("deposit event missing chain key")
	}
	if e.TxHash == "" {
		return fmt.Errorf("deposit event missing tx hash")
	}
	if e.ToAddress == "" {
		return fmt.Errorf("deposit event missing destination address")
	}
	if e.Amount == nil || e.Amount.Sign() <= 0 {
		return fmt.Errorf("deposit event amount must be positive")
	}
	return nil
}

// DepositJob wraps a DepositEvent for the settlement queue.
type DepositJob struct {
	ID         uuid.UUID    `json:"id"`
	Event      DepositEvent `json:"event"`
	Attempts   int          `json:"attempts"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
}

// NewDepositJob builds a queue job for an observed deposit.
func NewDepositJob(event DepositEvent) *DepositJob {
	return &DepositJob{
		ID:         uuid.New(),
		Event:      event,
		EnqueuedAt: time.Now().UTC(),
	}
}

// SettlementStatus represents the lifecycle state of a settlement record.
type SettlementStatus string

const (
	SettlementStatusPending        SettlementStatus = "pending"
	SettlementStatusSettled        SettlementStatus = "settled"
	SettlementStatusFailed         SettlementStatus = "failed"
	SettlementStatusStuck          SettlementStatus = "stuck"
	SettlementStatusCreditedNoUser SettlementStatus = "credited_no_user"
)

// ValidSettlementStatuses contains all valid settlement statuses
var ValidSettlementStatuses = map[SettlementStatus]bool{
	SettlementStatusPending:        true,
	SettlementStatusSettled:        true,
	SettlementStatusFailed:         true,
	SettlementStatusStuck:          true,
	SettlementStatusCreditedNoUser: true,
}

// ValidSettlementTransitions defines allowed status transitions. Failed
// and stuck settlements may be redriven back to pending by an operator.
var ValidSettlementTransitions = map[SettlementStatus][]SettlementStatus{
	SettlementStatusPending:        {SettlementStatusSettled, SettlementStatusFailed, SettlementStatusStuck, SettlementStatusCreditedNoUser},
	SettlementStatusStuck:          {SettlementStatusPending, SettlementStatusFailed},
	SettlementStatusFailed:         {SettlementStatusPending},
	SettlementStatusSettled:        {}, // Terminal state
	SettlementStatusCreditedNoUser: {}, // Terminal state
}

// IsValid checks if the status is a valid settlement status
func (s SettlementStatus) IsValid() bool {
	return ValidSettlementStatuses[s]
}

// CanTransitionTo checks if transition to new status is allowed
func (s SettlementStatus) CanTransitionTo(newStatus SettlementStatus) bool {
	allowed, exists := ValidSettlementTransitions[s]
	if !exists {
		return false
	}
	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s SettlementStatus) IsTerminal() bool {
	return s == SettlementStatusSettled || s == SettlementStatusCreditedNoUser
}

// Settlement is the durable record of one deposit's journey through the
// pipeline. The (chain_key, tx_hash, log_index) unique key is what makes
// settlement idempotent across restarts.
type Settlement struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	ChainKey      string           `db:"chain_key" json:"chain_key"`
	TxHash        string           `db:"tx_hash" json:"tx_hash"`
	LogIndex      uint             `db:"log_index" json:"log_index"`
	Token         string           `db:"token" json:"token"`
	DepositAddr   string           `db:"deposit_address" json:"deposit_address"`
	UserID        *uuid.UUID       `db:"user_id" json:"user_id,omitempty"`
	AmountIn      string           `db:"amount_in" json:"amount_in"`     // smallest unit, decimal string
	StableOut     string           `db:"stable_out" json:"stable_out"`   // stable token units received by swap
	UserShare     string           `db:"user_share" json:"user_share"`   // stable units credited to user
	TreasuryShare string           `db:"treasury_share" json:"treasury_share"`
	Strategy      string           `db:"strategy" json:"strategy,omitempty"`
	SwapTxHash    *string          `db:"swap_tx_hash" json:"swap_tx_hash,omitempty"`
	SplitTxHash   *string          `db:"split_tx_hash" json:"split_tx_hash,omitempty"`
	Status        SettlementStatus `db:"status" json:"status"`
	FailureReason *string          `db:"failure_reason" json:"failure_reason,omitempty"`
	Attempts      int              `db:"attempts" json:"attempts"`
	BlockNumber   uint64           `db:"block_number" json:"block_number"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}
