package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/discord-merchant-bot/internal/store"
)

// ItemRepo implements store.ItemRepository with sqlx.
type ItemRepo struct {
	db *sqlx.DB
}

// NewItemRepo returns a new ItemRepo.
func NewItemRepo(db *sqlx.DB) *ItemRepo {
	return &ItemRepo{db: db}
}

// ListEnabled returns the enabled item pool ordered by id, with collectible
// and variant names joined in for labels.
func (r *ItemRepo) ListEnabled(ctx context.Context) ([]store.Item, error) {
	var items []store.Item
	err := r.db.SelectContext(ctx, &items,
		`SELECT i.id, i.display_name, i.price, i.weight, i.enabled,
		        i.collectible_id, c.name AS collectible_name,
		        i.variant_id, v.name AS variant_name,
		        i.created_at
		 FROM merchant_items i
		 JOIN collectibles c ON c.id = i.collectible_id
		 LEFT JOIN collectible_variants v ON v.id = i.variant_id
		 WHERE i.enabled
		 ORDER BY i.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing enabled merchant items: %w", err)
	}
	return items, nil
}
