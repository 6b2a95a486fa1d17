package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/discord-merchant-bot/internal/clock"
	"github.com/jensholdgaard/discord-merchant-bot/internal/store"
)

// PlayerRepo implements store.PlayerRepository with sqlx.
type PlayerRepo struct {
	db  *sqlx.DB
	clk clock.Clock
}

// NewPlayerRepo returns a new PlayerRepo.
func NewPlayerRepo(db *sqlx.DB, clk clock.Clock) *PlayerRepo {
	return &PlayerRepo{db: db, clk: clk}
}

// GetOrCreate resolves a player by Discord user ID, inserting an empty
// account when none exists. ON CONFLICT DO NOTHING keeps concurrent
// first-time callers from erroring; whoever loses the insert race simply
// reads the winner's row.
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
	if err := r.db.GetContext(ctx, &p, `SELECT * FROM players WHERE discord_id = $1`, discordID); err != nil {
		return nil, false, fmt.Errorf("getting player by discord_id: %w", err)
	}
	return &p, inserted > 0, nil
}
