package entstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jensholdgaard/discord-merchant-bot/internal/clock"
	"github.com/jensholdgaard/discord-merchant-bot/internal/store"
)

// SettingsRepo implements store.SettingsRepository over database/sql.
type SettingsRepo struct {
	db  *sql.DB
	clk clock.Clock
}

// NewSettingsRepo returns a new SettingsRepo.
func NewSettingsRepo(db *sql.DB, clk clock.Clock) *SettingsRepo {
	return &SettingsRepo{db: db, clk: clk}
}

func (r *SettingsRepo) Load(ctx context.Context) (*store.Settings, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO merchant_settings (singleton_id) VALUES (1)
		 ON CONFLICT (singleton_id) DO NOTHING`)
	if err != nil {
		return nil, fmt.Errorf("seeding merchant settings: %w", err)
	}

	var (
		s    store.Settings
		last sql.NullTime
	)
	err = r.db.QueryRowContext(ctx,
		`SELECT singleton_id, enabled, rotation_minutes, offers_per_rotation,
		        purchase_cooldown_seconds, last_rotation_at
		 FROM merchant_settings WHERE singleton_id = 1`).
		Scan(&s.SingletonID, &s.Enabled, &s.RotationMinutes, &s.OffersPerRotation,
			&s.PurchaseCooldownSeconds, &last)
	if err != nil {
		return nil, fmt.Errorf("loading merchant settings: %w", err)
	}
	if last.Valid {
		s.LastRotationAt = &last.Time
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

// ItemRepo implements store.ItemRepository over database/sql.
type ItemRepo struct {
	db *sql.DB
}

// NewItemRepo returns a new ItemRepo.
func NewItemRepo(db *sql.DB) *ItemRepo {
	return &ItemRepo{db: db}
}

func (r *ItemRepo) ListEnabled(ctx context.Context) ([]store.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT i.id, i.display_name, i.price, i.weight, i.enabled,
		        i.collectible_id, c.name, i.variant_id, v.name, i.created_at
		 FROM merchant_items i
		 JOIN collectibles c ON c.id = i.collectible_id
		 LEFT JOIN collectible_variants v ON v.id = i.variant_id
		 WHERE i.enabled
		 ORDER BY i.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing enabled merchant items: %w", err)
	}
	defer rows.Close()

	var items []store.Item
	for rows.Next() {
		var (
			it          store.Item
			variantID   sql.NullInt64
			variantName sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.DisplayName, &it.Price, &it.Weight, &it.Enabled,
			&it.CollectibleID, &it.CollectibleName, &variantID, &variantName, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning merchant item: %w", err)
		}
		if variantID.Valid {
			it.VariantID = &variantID.Int64
		}
		if variantName.Valid {
			it.VariantName = &variantName.String
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// RotationRepo implements store.RotationRepository over database/sql.
type RotationRepo struct {
	db  *sql.DB
	clk clock.Clock
}

// NewRotationRepo returns a new RotationRepo.
func NewRotationRepo(db *sql.DB, clk clock.Clock) *RotationRepo {
	return &RotationRepo{db: db, clk: clk}
}

func (r *RotationRepo) Active(ctx context.Context, now time.Time) (*store.Rotation, error) {
	var rot store.Rotation
	err := r.db.QueryRowContext(ctx,
		`SELECT id, starts_at, ends_at FROM merchant_rotations
		 WHERE ends_at > $1
		 ORDER BY starts_at DESC
		 LIMIT 1`, now).
		Scan(&rot.ID, &rot.StartsAt, &rot.EndsAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying active rotation: %w", err)
	}
	return &rot, nil
}

func (r *RotationRepo) Create(ctx context.Context, rot *store.Rotation) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO merchant_rotations (starts_at, ends_at)
		 VALUES ($1, $2) RETURNING id`, rot.StartsAt, rot.EndsAt).
		Scan(&rot.ID)
	if err != nil {
		return fmt.Errorf("creating rotation: %w", err)
	}
	return nil
}

func (r *RotationRepo) CreateEntry(ctx context.Context, e *store.RotationEntry) error {
	e.CreatedAt = r.clk.Now().UTC()
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO merchant_rotation_entries (rotation_id, item_id, price_snapshot, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		e.RotationID, e.ItemID, e.PriceSnapshot, e.CreatedAt).
		Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("creating rotation entry: %w", err)
	}
	return nil
}

func (r *RotationRepo) Entries(ctx context.Context, rotationID int64) ([]store.RotationEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT e.id, e.rotation_id, e.item_id, e.price_snapshot, e.created_at,
		        i.display_name, i.collectible_id, c.name, i.variant_id, v.name
		 FROM merchant_rotation_entries e
		 JOIN merchant_items i ON i.id = e.item_id
		 JOIN collectibles c ON c.id = i.collectible_id
		 LEFT JOIN collectible_variants v ON v.id = i.variant_id
		 WHERE e.rotation_id = $1
		 ORDER BY e.id ASC`, rotationID)
	if err != nil {
		return nil, fmt.Errorf("listing rotation entries: %w", err)
	}
	defer rows.Close()

	var entries []store.RotationEntry
	for rows.Next() {
		var (
			e           store.RotationEntry
			variantID   sql.NullInt64
			variantName sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.RotationID, &e.ItemID, &e.PriceSnapshot, &e.CreatedAt,
			&e.DisplayName, &e.CollectibleID, &e.CollectibleName, &variantID, &variantName); err != nil {
			return nil, fmt.Errorf("scanning rotation entry: %w", err)
		}
		if variantID.Valid {
			e.VariantID = &variantID.Int64
		}
		if variantName.Valid {
			e.VariantName = &variantName.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
