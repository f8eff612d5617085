package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is the slice of the platform's user record the settlement
// pipeline reads and credits. Each user owns one deterministic deposit
// address derived from their wallet index.
type User struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	WalletIndex    uint32          `db:"wallet_index" json:"wallet_index"`
	DepositAddress string          `db:"deposit_address" json:"deposit_address"`
	Balance        decimal.Decimal `db:"balance" json:"balance"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// TransactionType labels rows in the balance audit trail.
type TransactionType string

const (
	TransactionTypeDepositCredit TransactionType = "deposit_credit"
	TransactionTypeAdjustment    TransactionType = "adjustment"
)

// Transaction is an append-only audit row written alongside every
// balance mutation. Reference carries the settlement identity key so a
// credit can always be traced to its on-chain deposit; Description adds
// the swap and split transaction hashes behind the credit.
type Transaction struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	UserID      uuid.UUID       `db:"user_id" json:"user_id"`
	Type        TransactionType `db:"type" json:"type"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Reference   string          `db:"reference" json:"reference"`
	Description string          `db:"description" json:"description"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}
