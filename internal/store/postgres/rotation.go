package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/discord-merchant-bot/internal/clock"
	"github.com/jensholdgaard/discord-merchant-bot/internal/store"
)

// RotationRepo implements store.RotationRepository with sqlx.
type RotationRepo struct {
	db  *sqlx.DB
	clk clock.Clock
}

// NewRotationRepo returns a new RotationRepo.
func NewRotationRepo(db *sqlx.DB, clk clock.Clock) *RotationRepo {
	return &RotationRepo{db: db, clk: clk}
}

// Active returns the most recently started rotation still valid at now,
// or (nil, nil) when no rotation is active.
func (r *RotationRepo) Active(ctx context.Context, now time.Time) (*store.Rotation, error) {
	var rot store.Rotation
	err := r.db.GetContext(ctx, &rot,
		`SELECT id, starts_at, ends_at FROM merchant_rotations
		 WHERE ends_at > $1
		 ORDER BY starts_at DESC
		 LIMIT 1`, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying active rotation: %w", err)
	}
	return &rot, nil
}

func (r *RotationRepo) Create(ctx context.Context, rot *store.Rotation) error {
	query := `INSERT INTO merchant_rotations (starts_at, ends_at)
	           VALUES ($1, $2) RETURNING id`
	err := r.db.QueryRowContext(ctx, query, rot.StartsAt, rot.EndsAt).Scan(&rot.ID)
	if err != nil {
		return fmt.Errorf("creating rotation: %w", err)
	}
	return nil
}

func (r *RotationRepo) CreateEntry(ctx context.Context, e *store.RotationEntry) error {
	query := `INSERT INTO merchant_rotation_entries (rotation_id, item_id, price_snapshot, created_at)
	           VALUES ($1, $2, $3, $4) RETURNING id`
	e.CreatedAt = r.clk.Now().UTC()
	err := r.db.QueryRowContext(ctx, query, e.RotationID, e.ItemID, e.PriceSnapshot, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("creating rotation entry: %w", err)
	}
	return nil
}

// Entries returns the rotation's offers with item and collectible columns
// joined in, ordered by entry id.
func (r *RotationRepo) Entries(ctx context.Context, rotationID int64) ([]store.RotationEntry, error) {
	var entries []store.RotationEntry
	err := r.db.SelectContext(ctx, &entries,
		`SELECT e.id, e.rotation_id, e.item_id, e.price_snapshot, e.created_at,
		        i.display_name, i.collectible_id, c.name AS collectible_name,
		        i.variant_id, v.name AS variant_name
		 FROM merchant_rotation_entries e
		 JOIN merchant_items i ON i.id = e.item_id
		 JOIN collectibles c ON c.id = i.collectible_id
		 LEFT JOIN collectible_variants v ON v.id = i.variant_id
		 WHERE e.rotation_id = $1
		 ORDER BY e.id ASC`, rotationID)
	if err != nil {
		return nil, fmt.Errorf("listing rotation entries: %w", err)
	}
	return entries, nil
}
