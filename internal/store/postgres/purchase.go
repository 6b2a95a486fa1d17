package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/discord-merchant-bot/internal/clock"
	"github.com/jensholdgaard/discord-merchant-bot/internal/store"
)

// PurchaseRepo implements store.PurchaseRepository with sqlx.
type PurchaseRepo struct {
	db *sqlx.DB
}

// NewPurchaseRepo returns a new PurchaseRepo.
func NewPurchaseRepo(db *sqlx.DB) *PurchaseRepo {
	return &PurchaseRepo{db: db}
}

// LastByPlayer returns the player's most recent purchase, or (nil, nil) when
// the player has never purchased. The id tiebreak keeps "most recent"
// unambiguous for equal timestamps.
func (r *PurchaseRepo) LastByPlayer(ctx context.Context, playerID string) (*store.Purchase, error) {
	var p store.Purchase
	err := r.db.GetContext(ctx, &p,
		`SELECT id, player_id, entry_id, created_at FROM merchant_purchases
		 WHERE player_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`, playerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying last purchase: %w", err)
	}
	return &p, nil
}

// TxRunner implements store.Transactor over a sqlx transaction.
type TxRunner struct {
	db  *sqlx.DB
	clk clock.Clock
}

// NewTxRunner returns a new TxRunner.
func NewTxRunner(db *sqlx.DB, clk clock.Clock) *TxRunner {
	return &TxRunner{db: db, clk: clk}
}

// InTx runs fn in a single transaction. Any error from fn rolls everything
// back, including domain errors from the in-transaction affordability
// re-check.
func (r *TxRunner) InTx(ctx context.Context, fn func(tx store.PurchaseTx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&purchaseTx{tx: tx, clk: r.clk}); err != nil {
		return err
	}
	return tx.Commit()
}

// purchaseTx implements store.PurchaseTx on an open sqlx transaction.
type purchaseTx struct {
	tx  *sqlx.Tx
	clk clock.Clock
}

// PlayerForUpdate re-fetches the player under a row-level write lock held
// until the transaction commits or rolls back.
func (t *purchaseTx) PlayerForUpdate(ctx context.Context, playerID string) (*store.Player, error) {
	var p store.Player
	err := t.tx.GetContext(ctx, &p,
		`SELECT * FROM players WHERE id = $1 FOR UPDATE`, playerID)
	if err != nil {
		return nil, fmt.Errorf("locking player row: %w", err)
	}
	return &p, nil
}

func (t *purchaseTx) DebitCoins(ctx context.Context, playerID string, amount int64) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE players SET coins = coins - $1, updated_at = $2
		 WHERE id = $3 AND coins >= $1`,
		amount, t.clk.Now().UTC(), playerID)
	if err != nil {
		return fmt.Errorf("debiting coins: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return store.ErrInsufficientBalance
	}
	return nil
}

func (t *purchaseTx) MintInstance(ctx context.Context, inst *store.CollectibleInstance) error {
	query := `INSERT INTO collectible_instances
	           (collectible_id, variant_id, player_id, tradeable, server_id, created_at)
	           VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	inst.CreatedAt = t.clk.Now().UTC()
	err := t.tx.QueryRowContext(ctx, query,
		inst.CollectibleID, inst.VariantID, inst.PlayerID, inst.Tradeable, inst.ServerID, inst.CreatedAt,
	).Scan(&inst.ID)
	if err != nil {
		return fmt.Errorf("minting collectible instance: %w", err)
	}
	return nil
}

func (t *purchaseTx) RecordPurchase(ctx context.Context, p *store.Purchase) error {
	query := `INSERT INTO merchant_purchases (player_id, entry_id, created_at)
	           VALUES ($1, $2, $3) RETURNING id`
	p.CreatedAt = t.clk.Now().UTC()
	err := t.tx.QueryRowContext(ctx, query, p.PlayerID, p.EntryID, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("recording purchase: %w", err)
	}
	return nil
}
