package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/wagerpay/settlement_service/internal/domain/entities"
	apperrors "github.com/wagerpay/settlement_service/internal/domain/errors"
	"github.com/wagerpay/settlement_service/pkg/tracing"
)

// SettlementRepository persists the durable settlement ledger. The
// unique index on (chain_key, tx_hash, log_index) is the idempotency
// barrier for the whole pipeline.
type SettlementRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewSettlementRepository creates a new settlement repository
func NewSettlementRepository(db *sqlx.DB, logger *zap.Logger) *SettlementRepository {
	return &SettlementRepository{
		db:     db,
		logger: logger,
	}
}

// TryBegin claims a deposit for settlement. It inserts a pending row
// keyed by the deposit's identity; if a row already exists the deposit
// has been seen before and created is false. Callers must perform no
// side effects when created is false unless the row is redrivable.
func (r *SettlementRepository) TryBegin(ctx context.Context, event *entities.DepositEvent) (created bool, settlement *entities.Settlement, err error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "INSERT",
		Table:     "settlements",
	})
	defer span.End()

	query := `
		INSERT INTO settlements (
			id, chain_key, tx_hash, log_index, token, deposit_address,
			amount_in, status, block_number, created_at, updated_at
		) VALUES ($1, LOWER($2), LOWER($3), $4, $5, LOWER($6), $7, $8, $9, NOW(), NOW())
		ON CONFLICT (chain_key, tx_hash, log_index) DO NOTHING
		RETURNING id, chain_key, tx_hash, log_index, token, deposit_address,
		          user_id, amount_in, stable_out, user_share, treasury_share,
		          strategy, swap_tx_hash, split_tx_hash, status, failure_reason,
		          attempts, block_number, created_at, updated_at
	`

	var row entities.Settlement
	err = r.db.GetContext(ctx, &row, query,
		uuid.New(),
		event.ChainKey,
		event.TxHash,
		event.LogIndex,
		event.Token,
		event.ToAddress,
		event.Amount.String(),
		entities.SettlementStatusPending,
		event.BlockNumber,
	)
	if err == sql.ErrNoRows {
		// Conflict path: an earlier attempt already claimed this deposit.
		tracing.EndDBSpan(span, nil, 0)
		existing, getErr := r.Get(ctx, event.ChainKey, event.TxHash, event.LogIndex)
		if getErr != nil {
			return false, nil, getErr
		}
		return false, existing, nil
	}

	tracing.EndDBSpan(span, err, 1)

	if err != nil {
		r.logger.Error("Failed to claim settlement",
			zap.String("tx_hash", event.TxHash),
			zap.Error(err))
		return false, nil, err
	}

	return true, &row, nil
}

// Get fetches a settlement by its deposit identity.
func (r *SettlementRepository) Get(ctx context.Context, chainKey, txHash string, logIndex uint) (*entities.Settlement, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "SELECT",
		Table:     "settlements",
	})
	defer span.End()

	query := `
		SELECT id, chain_key, tx_hash, log_index, token, deposit_address,
		       user_id, amount_in, stable_out, user_share, treasury_share,
		       strategy, swap_tx_hash, split_tx_hash, status, failure_reason,
		       attempts, block_number, created_at, updated_at
		FROM settlements
		WHERE chain_key = LOWER($1) AND tx_hash = LOWER($2) AND log_index = $3
	`

	var row entities.Settlement
	err := r.db.GetContext(ctx, &row, query, chainKey, txHash, logIndex)
	if err == sql.ErrNoRows {
		tracing.EndDBSpan(span, nil, 0)
		return nil, apperrors.NotFoundError("settlement")
	}

	tracing.EndDBSpan(span, err, 1)

	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetByID fetches a settlement by primary key.
func (r *SettlementRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Settlement, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "SELECT",
		Table:     "settlements",
	})
	defer span.End()

	query := `
		SELECT id, chain_key, tx_hash, log_index, token, deposit_address,
		       user_id, amount_in, stable_out, user_share, treasury_share,
		       strategy, swap_tx_hash, split_tx_hash, status, failure_reason,
		       attempts, block_number, created_at, updated_at
		FROM settlements
		WHERE id = $1
	`

	var row entities.Settlement
	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		tracing.EndDBSpan(span, nil, 0)
		return nil, apperrors.NotFoundError("settlement")
	}

	tracing.EndDBSpan(span, err, 1)

	if err != nil {
		return nil, err
	}
	return &row, nil
}

// MarkSettled records a fully settled deposit: swap and split outcomes
// plus the user linkage.
func (r *SettlementRepository) MarkSettled(ctx context.Context, tx *sqlx.Tx, s *entities.Settlement) error {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "UPDATE",
		Table:     "settlements",
	})
	defer span.End()

	query := `
		UPDATE settlements
		SET status = $2, user_id = $3, stable_out = $4, user_share = $5,
		    treasury_share = $6, strategy = $7, swap_tx_hash = $8,
		    split_tx_hash = $9, failure_reason = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $10
	`

	res, err := tx.ExecContext(ctx, query,
		s.ID, s.Status, s.UserID, s.StableOut, s.UserShare,
		s.TreasuryShare, s.Strategy, s.SwapTxHash, s.SplitTxHash,
		entities.SettlementStatusPending,
	)
	if err != nil {
		tracing.EndDBSpan(span, err, 0)
		return err
	}
	affected, _ := res.RowsAffected()
	tracing.EndDBSpan(span, nil, affected)

	if affected == 0 {
		return fmt.Errorf("settlement %s not pending, outcome not recorded", s.ID)
	}
	return nil
}

// MarkFailed records a settlement failure with its reason. Attempts is
// incremented so redrive can distinguish first failures from repeats.
func (r *SettlementRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "UPDATE",
		Table:     "settlements",
	})
	defer span.End()

	query := `
		UPDATE settlements
		SET status = $2, failure_reason = $3, attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, id, entities.SettlementStatusFailed, reason)
	if err != nil {
		tracing.EndDBSpan(span, err, 0)
		return err
	}
	affected, _ := res.RowsAffected()
	tracing.EndDBSpan(span, nil, affected)
	return nil
}

// MarkStuck flags pending settlements older than the cutoff so operators
// can inspect and redrive them.
func (r *SettlementRepository) MarkStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "UPDATE",
		Table:     "settlements",
	})
	defer span.End()

	query := `
		UPDATE settlements
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND updated_at < NOW() - ($3 * INTERVAL '1 second')
	`

	res, err := r.db.ExecContext(ctx, query,
		entities.SettlementStatusStuck,
		entities.SettlementStatusPending,
		int64(olderThan.Seconds()),
	)
	if err != nil {
		tracing.EndDBSpan(span, err, 0)
		return 0, err
	}
	affected, _ := res.RowsAffected()
	tracing.EndDBSpan(span, nil, affected)
	return affected, nil
}

// ListRedrivable returns failed and stuck settlements, newest first.
func (r *SettlementRepository) ListRedrivable(ctx context.Context, limit int) ([]entities.Settlement, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "SELECT",
		Table:     "settlements",
	})
	defer span.End()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, chain_key, tx_hash, log_index, token, deposit_address,
		       user_id, amount_in, stable_out, user_share, treasury_share,
		       strategy, swap_tx_hash, split_tx_hash, status, failure_reason,
		       attempts, block_number, created_at, updated_at
		FROM settlements
		WHERE status IN ($1, $2)
		ORDER BY updated_at DESC
		LIMIT $3
	`

	var rows []entities.Settlement
	err := r.db.SelectContext(ctx, &rows, query,
		entities.SettlementStatusFailed,
		entities.SettlementStatusStuck,
		limit,
	)
	tracing.EndDBSpan(span, err, int64(len(rows)))
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Redrive moves a failed or stuck settlement back to pending so the
// pipeline picks it up again. Terminal settlements are never redriven.
func (r *SettlementRepository) Redrive(ctx context.Context, id uuid.UUID) (*entities.Settlement, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "UPDATE",
		Table:     "settlements",
	})
	defer span.End()

	query := `
		UPDATE settlements
		SET status = $2, failure_reason = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)
		RETURNING id, chain_key, tx_hash, log_index, token, deposit_address,
		          user_id, amount_in, stable_out, user_share, treasury_share,
		          strategy, swap_tx_hash, split_tx_hash, status, failure_reason,
		          attempts, block_number, created_at, updated_at
	`

	var row entities.Settlement
	err := r.db.GetContext(ctx, &row, query,
		id,
		entities.SettlementStatusPending,
		entities.SettlementStatusFailed,
		entities.SettlementStatusStuck,
	)
	if err == sql.ErrNoRows {
		tracing.EndDBSpan(span, nil, 0)
		return nil, apperrors.ValidationError("status", "settlement is not redrivable")
	}

	tracing.EndDBSpan(span, err, 1)

	if err != nil {
		return nil, err
	}
	return &row, nil
}
