package entstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jensholdgaard/discord-merchant-bot/internal/clock"
	"github.com/jensholdgaard/discord-merchant-bot/internal/store"
)

// PlayerRepo implements store.PlayerRepository over database/sql.
type PlayerRepo struct {
	db  *sql.DB
	clk clock.Clock
}

// NewPlayerRepo returns a new PlayerRepo.
func NewPlayerRepo(db *sql.DB, clk clock.Clock) *PlayerRepo {
	return &PlayerRepo{db: db, clk: clk}
}

func (r *PlayerRepo) GetOrCreate(ctx context.Context, discordID string) (*store.Player, bool, error) {
	now := r.clk.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO players (discord_id, coins, created_at, updated_at)
		 VALUES ($1, 0, $2, $2)
		 ON CONFLICT (discord_id) DO NOTHING`, discordID, now)
	if err != nil {
		return nil, false, fmt.Errorf("creating player: %w", err)
	}
	inserted, _ := result.RowsAffected()

	var p store.Player
	err = r.db.QueryRowContext(ctx,
		`SELECT id, discord_id, coins, created_at, updated_at
		 FROM players WHERE discord_id = $1`, discordID).
		Scan(&p.ID, &p.DiscordID, &p.Coins, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("getting player by discord_id: %w", err)
	}
	return &p, inserted > 0, nil
}

// PurchaseRepo implements store.PurchaseRepository over database/sql.
type PurchaseRepo struct {
	db *sql.DB
}

// NewPurchaseRepo returns a new PurchaseRepo.
func NewPurchaseRepo(db *sql.DB) *PurchaseRepo {
	return &PurchaseRepo{db: db}
}

func (r *PurchaseRepo) LastByPlayer(ctx context.Context, playerID string) (*store.Purchase, error) {
	var p store.Purchase
	err := r.db.QueryRowContext(ctx,
		`SELECT id, player_id, entry_id, created_at FROM merchant_purchases
		 WHERE player_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`, playerID).
		Scan(&p.ID, &p.PlayerID, &p.EntryID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying last purchase: %w", err)
	}
	return &p, nil
}

// TxRunner implements store.Transactor over database/sql.
type TxRunner struct {
	db  *sql.DB
	clk clock.Clock
}

// NewTxRunner returns a new TxRunner.
func NewTxRunner(db *sql.DB, clk clock.Clock) *TxRunner {
	return &TxRunner{db: db, clk: clk}
}

func (r *TxRunner) InTx(ctx context.Context, fn func(tx store.PurchaseTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&purchaseTx{tx: tx, clk: r.clk}); err != nil {
		return err
	}
	return tx.Commit()
}

// purchaseTx implements store.PurchaseTx on an open database/sql transaction.
type purchaseTx struct {
	tx  *sql.Tx
	clk clock.Clock
}

func (t *purchaseTx) PlayerForUpdate(ctx context.Context, playerID string) (*store.Player, error) {
	var p store.Player
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, discord_id, coins, created_at, updated_at
		 FROM players WHERE id = $1 FOR UPDATE`, playerID).
		Scan(&p.ID, &p.DiscordID, &p.Coins, &p.CreatedAt, &p.UpdatedAt)
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
	inst.CreatedAt = t.clk.Now().UTC()
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO collectible_instances
		 (collectible_id, variant_id, player_id, tradeable, server_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		inst.CollectibleID, inst.VariantID, inst.PlayerID, inst.Tradeable, inst.ServerID, inst.CreatedAt,
	).Scan(&inst.ID)
	if err != nil {
		return fmt.Errorf("minting collectible instance: %w", err)
	}
	return nil
}

func (t *purchaseTx) RecordPurchase(ctx context.Context, p *store.Purchase) error {
	p.CreatedAt = t.clk.Now().UTC()
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO merchant_purchases (player_id, entry_id, created_at)
		 VALUES ($1, $2, $3) RETURNING id`,
		p.PlayerID, p.EntryID, p.CreatedAt).
		Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("recording purchase: %w", err)
	}
	return nil
}
