package repositories

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wagerpay/settlement_service/internal/domain/entities"
	apperrors "github.com/wagerpay/settlement_service/internal/domain/errors"
	"github.com/wagerpay/settlement_service/pkg/tracing"
)

// UserRepository reads the platform user table and credits balances.
// Settlement only ever touches wallet_index, deposit_address and
// balance; everything else about users belongs to the platform.
type UserRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sqlx.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// FindByDepositAddress resolves the owner of a deposit address.
// Addresses are matched case-insensitively since EVM addresses have no
// canonical case on the wire.
func (r *UserRepository) FindByDepositAddress(ctx context.Context, address string) (*entities.User, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "SELECT",
		Table:     "users",
	})
	defer span.End()

	query := `
		SELECT id, wallet_index, deposit_address, balance, created_at, updated_at
		FROM users
		WHERE LOWER(deposit_address) = LOWER($1)
	`

	var user entities.User
	err := r.db.GetContext(ctx, &user, query, address)
	if err == sql.ErrNoRows {
		tracing.EndDBSpan(span, nil, 0)
		return nil, apperrors.ErrNoUserForAddress
	}

	tracing.EndDBSpan(span, err, 1)

	if err != nil {
		r.logger.Error("Failed to look up user by deposit address",
			zap.String("address", address),
			zap.Error(err))
		return nil, err
	}
	return &user, nil
}

// ListDepositAddresses returns every deposit address the watcher must
// track, lowercased.
func (r *UserRepository) ListDepositAddresses(ctx context.Context) ([]string, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "SELECT",
		Table:     "users",
	})
	defer span.End()

	query := `
		SELECT LOWER(deposit_address)
		FROM users
		WHERE deposit_address IS NOT NULL AND deposit_address != ''
	`

	var addresses []string
	err := r.db.SelectContext(ctx, &addresses, query)
	tracing.EndDBSpan(span, err, int64(len(addresses)))
	if err != nil {
		return nil, err
	}
	return addresses, nil
}

// ListWalletIndexes returns wallet_index to deposit_address pairs for
// sweep passes over the derivation range.
func (r *UserRepository) ListWalletIndexes(ctx context.Context) (map[uint32]string, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "SELECT",
		Table:     "users",
	})
	defer span.End()

	query := `
		SELECT wallet_index, LOWER(deposit_address) AS deposit_address
		FROM users
		WHERE deposit_address IS NOT NULL AND deposit_address != ''
	`

	type row struct {
		WalletIndex    uint32 `db:"wallet_index"`
		DepositAddress string `db:"deposit_address"`
	}
	var rows []row
	err := r.db.SelectContext(ctx, &rows, query)
	tracing.EndDBSpan(span, err, int64(len(rows)))
	if err != nil {
		return nil, err
	}

	out := make(map[uint32]string, len(rows))
	for _, rw := range rows {
		out[rw.WalletIndex] = rw.DepositAddress
	}
	return out, nil
}

// CreditBalance adds amount to the user's balance and writes the audit
// row in the same transaction. Reference is the settlement identity key;
// description carries the on-chain trail (swap and split hashes).
func (r *UserRepository) CreditBalance(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount decimal.Decimal, reference, description string) error {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "UPDATE",
		Table:     "users",
	})
	defer span.End()

	if amount.IsNegative() {
		return apperrors.ValidationError("amount", "credit amount cannot be negative")
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE users
		SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1
	`, userID, amount)
	if err != nil {
		tracing.EndDBSpan(span, err, 0)
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		tracing.EndDBSpan(span, nil, 0)
		return apperrors.NotFoundError("user")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, type, amount, reference, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, uuid.New(), userID, entities.TransactionTypeDepositCredit, amount, reference, description)
	tracing.EndDBSpan(span, err, affected)
	if err != nil {
		r.logger.Error("Failed to write balance audit row",
			zap.String("user_id", userID.String()),
			zap.String("reference", reference),
			zap.Error(err))
		return err
	}
	return nil
}
