package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/discord-merchant-bot/internal/clock"
	"github.com/jensholdgaard/discord-merchant-bot/internal/store"
)

// SettingsRepo implements store.SettingsRepository with sqlx.
type SettingsRepo struct {
	db  *sqlx.DB
	clk clock.Clock
}

// NewSettingsRepo returns a new SettingsRepo.
func NewSettingsRepo(db *sqlx.DB, clk clock.Clock) *SettingsRepo {
	return &SettingsRepo{db: db, clk: clk}
}

// Load returns the singleton settings row, inserting the defaults first if
// the row does not exist yet.
func (r *SettingsRepo) Load(ctx context.Context) (*store.Settings, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO merchant_settings (singleton_id) VALUES (1)
		 ON CONFLICT (singleton_id) DO NOTHING`)
	if err != nil {
		return nil, fmt.Errorf("seeding merchant settings: %w", err)
	}

	var s store.Settings
	err = r.db.GetContext(ctx, &s,
		`SELECT * FROM merchant_settings WHERE singleton_id = 1`)
	if err != nil {
		return nil, fmt.Errorf("loading merchant settings: %w", err)
	}
	return &s, nil
}

func (r *SettingsRepo) SetLastRotationAt(ctx context.Context, t time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE merchant_settings SET last_rotation_at = $1 WHERE singleton_id = 1`, t)
	if err != nil {
		return fmt.Errorf("updating last_rotation_at: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("merchant settings row missing")
	}
	return nil
}
