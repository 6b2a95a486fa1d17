package postgres_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/discord-merchant-bot/internal/clock"
	"github.com/jensholdgaard/discord-merchant-bot/internal/store"
	"github.com/jensholdgaard/discord-merchant-bot/internal/store/postgres"
)

// seedEntry creates a collectible, item, rotation and one rotation entry,
// returning the entry id and collectible id.
func seedEntry(t *testing.T, db *sqlx.DB, price int64) (entryID, collectibleID int64) {
	t.Helper()
	ctx := context.Background()

	collectibleID = seedCollectible(t, db, "Dragon")
	itemID := seedItem(t, db, collectibleID, nil, price, 1, true)

	rotRepo := postgres.NewRotationRepo(db, clock.Real{})
	now := time.Now().UTC()
	rot := &store.Rotation{StartsAt: now, EndsAt: now.Add(24 * time.Hour)}
	if err := rotRepo.Create(ctx, rot); err != nil {
		t.Fatalf("creating rotation: %v", err)
	}
	entry := &store.RotationEntry{RotationID: rot.ID, ItemID: itemID, PriceSnapshot: price}
	if err := rotRepo.CreateEntry(ctx, entry); err != nil {
		t.Fatalf("creating entry: %v", err)
	}
	return entry.ID, collectibleID
}

func TestPurchaseRepo_LastByPlayer_None(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewPurchaseRepo(db)

	playerID := seedPlayer(t, db, "d1", 100)
	p, err := repo.LastByPlayer(context.Background(), playerID)
	if err != nil {
		t.Fatalf("LastByPlayer: %v", err)
	}
	if p != nil {
		t.Errorf("LastByPlayer = %+v, want nil", p)
	}
}

func TestPurchaseRepo_LastByPlayer_Tiebreak(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewPurchaseRepo(db)
	ctx := context.Background()

	playerID := seedPlayer(t, db, "d1", 100)
	entryID, _ := seedEntry(t, db, 50)

	// Two purchases with the same timestamp. The higher id wins the tiebreak.
	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	var firstID, secondID int64
	for _, dst := range []*int64{&firstID, &secondID} {
		err := db.QueryRow(
			`INSERT INTO merchant_purchases (player_id, entry_id, created_at)
			 VALUES ($1, $2, $3) RETURNING id`,
			playerID, entryID, at,
		).Scan(dst)
		if err != nil {
			t.Fatalf("inserting purchase: %v", err)
		}
	}

	got, err := repo.LastByPlayer(ctx, playerID)
	if err != nil {
		t.Fatalf("LastByPlayer: %v", err)
	}
	if got == nil || got.ID != secondID {
		t.Errorf("LastByPlayer id = %v, want %d", got, secondID)
	}
}

func TestTxRunner_PurchaseFlow(t *testing.T) {
	db := newTestDB(t)
	runner := postgres.NewTxRunner(db, clock.Real{})
	ctx := context.Background()

	playerID := seedPlayer(t, db, "buyer", 1000)
	entryID, collectibleID := seedEntry(t, db, 400)

	var inst store.CollectibleInstance
	err := runner.InTx(ctx, func(tx store.PurchaseTx) error {
		p, err := tx.PlayerForUpdate(ctx, playerID)
		if err != nil {
			return err
		}
		if err := tx.DebitCoins(ctx, p.ID, 400); err != nil {
			return err
		}
		inst = store.CollectibleInstance{
			CollectibleID: collectibleID,
			PlayerID:      playerID,
			Tradeable:     true,
			ServerID:      "guild-1",
		}
		if err := tx.MintInstance(ctx, &inst); err != nil {
			return err
		}
		return tx.RecordPurchase(ctx, &store.Purchase{PlayerID: playerID, EntryID: entryID})
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}

	if inst.ID == "" {
		t.Error("expected minted instance ID to be set")
	}

	var coins int64
	if err := db.Get(&coins, `SELECT coins FROM players WHERE id = $1`, playerID); err != nil {
		t.Fatalf("reading balance: %v", err)
	}
	if coins != 600 {
		t.Errorf("coins = %d, want 600", coins)
	}
}

func TestTxRunner_InsufficientBalanceRollsBack(t *testing.T) {
	db := newTestDB(t)
	runner := postgres.NewTxRunner(db, clock.Real{})
	ctx := context.Background()

	playerID := seedPlayer(t, db, "poor", 100)
	_, collectibleID := seedEntry(t, db, 400)

	err := runner.InTx(ctx, func(tx store.PurchaseTx) error {
		if _, err := tx.PlayerForUpdate(ctx, playerID); err != nil {
			return err
		}
		if err := tx.DebitCoins(ctx, playerID, 400); err != nil {
			return err
		}
		return tx.MintInstance(ctx, &store.CollectibleInstance{
			CollectibleID: collectibleID,
			PlayerID:      playerID,
		})
	})
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("InTx error = %v, want ErrInsufficientBalance", err)
	}

	// Nothing committed.
	var coins int64
	if err := db.Get(&coins, `SELECT coins FROM players WHERE id = $1`, playerID); err != nil {
		t.Fatalf("reading balance: %v", err)
	}
	if coins != 100 {
		t.Errorf("coins = %d, want 100 after rollback", coins)
	}
	var instances int
	if err := db.Get(&instances, `SELECT count(*) FROM collectible_instances`); err != nil {
		t.Fatalf("counting instances: %v", err)
	}
	if instances != 0 {
		t.Errorf("instances = %d, want 0 after rollback", instances)
	}
}

// TestTxRunner_ConcurrentDoubleSpend runs two purchases for a player whose
// balance only covers one. The row lock serializes them and the conditional
// debit makes exactly one succeed.
func TestTxRunner_ConcurrentDoubleSpend(t *testing.T) {
	db := newTestDB(t)
	runner := postgres.NewTxRunner(db, clock.Real{})
	ctx := context.Background()

	playerID := seedPlayer(t, db, "racer", 500)
	entryID, collectibleID := seedEntry(t, db, 400)

	buy := func() error {
		return runner.InTx(ctx, func(tx store.PurchaseTx) error {
			p, err := tx.PlayerForUpdate(ctx, playerID)
			if err != nil {
				return err
			}
			if !p.CanAfford(400) {
				return store.ErrInsufficientBalance
			}
			if err := tx.DebitCoins(ctx, p.ID, 400); err != nil {
				return err
			}
			if err := tx.MintInstance(ctx, &store.CollectibleInstance{
				CollectibleID: collectibleID,
				PlayerID:      playerID,
				Tradeable:     true,
			}); err != nil {
				return err
			}
			return tx.RecordPurchase(ctx, &store.Purchase{PlayerID: playerID, EntryID: entryID})
		})
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- buy()
		}()
	}
	wg.Wait()
	close(results)

	var ok, insufficient int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, store.ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || insufficient != 1 {
		t.Errorf("got %d successes and %d insufficient, want 1 and 1", ok, insufficient)
	}

	var coins int64
	if err := db.Get(&coins, `SELECT coins FROM players WHERE id = $1`, playerID); err != nil {
		t.Fatalf("reading balance: %v", err)
	}
	if coins != 100 {
		t.Errorf("coins = %d, want 100", coins)
	}
	var purchases int
	if err := db.Get(&purchases, `SELECT count(*) FROM merchant_purchases WHERE player_id = $1`, playerID); err != nil {
		t.Fatalf("counting purchases: %v", err)
	}
	if purchases != 1 {
		t.Errorf("purchases = %d, want 1", purchases)
	}
}
