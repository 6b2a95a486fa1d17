package postgres_test

import (
	"context"
	"testing"

	"github.com/jensholdgaard/discord-merchant-bot/internal/store/postgres"
)

func TestItemRepo_ListEnabled(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewItemRepo(db)
	ctx := context.Background()

	dragonID := seedCollectible(t, db, "Dragon")
	phoenixID := seedCollectible(t, db, "Phoenix")
	shinyID := seedVariant(t, db, "Shiny")

	first := seedItem(t, db, dragonID, nil, 500, 2, true)
	second := seedItem(t, db, phoenixID, &shinyID, 1200, 1, true)
	seedItem(t, db, dragonID, nil, 50, 10, false) // disabled, must be excluded

	items, err := repo.ListEnabled(ctx)
	if err != nil {
		t.Fatalf("ListEnabled: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("ListEnabled returned %d items, want 2", len(items))
	}

	// Ordered by id ASC.
	if items[0].ID != first || items[1].ID != second {
		t.Errorf("item order = [%d %d], want [%d %d]", items[0].ID, items[1].ID, first, second)
	}

	if items[0].CollectibleName != "Dragon" {
		t.Errorf("CollectibleName = %q, want %q", items[0].CollectibleName, "Dragon")
	}
	if items[0].VariantName != nil {
		t.Errorf("VariantName = %v, want nil", items[0].VariantName)
	}
	if items[1].VariantName == nil || *items[1].VariantName != "Shiny" {
		t.Errorf("VariantName = %v, want Shiny", items[1].VariantName)
	}
	if items[1].Price != 1200 {
		t.Errorf("Price = %d, want 1200", items[1].Price)
	}
}

func TestItemRepo_ListEnabled_Empty(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewItemRepo(db)

	items, err := repo.ListEnabled(context.Background())
	if err != nil {
		t.Fatalf("ListEnabled: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("ListEnabled returned %d items, want 0", len(items))
	}
}
