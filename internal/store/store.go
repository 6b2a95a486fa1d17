package store

import (
	"context"
	"errors"
	"time"
)

// ErrInsufficientBalance is returned by PurchaseTx.DebitCoins when the
// player's balance cannot cover the debit. The merchant engine maps it to
// its user-facing typed error.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Player is a registered economy account, keyed by Discord user ID.
type Player struct {
	ID        string    `db:"id"`
	DiscordID string    `db:"discord_id"`
	Coins     int64     `db:"coins"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// CanAfford reports whether the player has at least amount coins.
func (p *Player) CanAfford(amount int64) bool { return p.Coins >= amount }

// Settings is the singleton merchant configuration row. It is created lazily
// with defaults on first load and edited through the admin boundary.
type Settings struct {
	SingletonID             int16      `db:"singleton_id"`
	Enabled                 bool       `db:"enabled"`
	RotationMinutes         int        `db:"rotation_minutes"`
	OffersPerRotation       int        `db:"offers_per_rotation"`
	PurchaseCooldownSeconds int        `db:"purchase_cooldown_seconds"`
	LastRotationAt          *time.Time `db:"last_rotation_at"`
}

// RotationDuration returns how long each rotation lasts.
func (s *Settings) RotationDuration() time.Duration {
	return time.Duration(s.RotationMinutes) * time.Minute
}

// PurchaseCooldown returns the minimum time between purchases per player.
func (s *Settings) PurchaseCooldown() time.Duration {
	return time.Duration(s.PurchaseCooldownSeconds) * time.Second
}

// Item is an entry in the merchant's item pool. Its price is snapshotted
// onto rotation entries at creation time and never re-read afterwards.
type Item struct {
	ID              int64     `db:"id"`
	DisplayName     string    `db:"display_name"`
	Price           int64     `db:"price"`
	Weight          int       `db:"weight"`
	Enabled         bool      `db:"enabled"`
	CollectibleID   int64     `db:"collectible_id"`
	VariantID       *int64    `db:"variant_id"`
	CollectibleName string    `db:"collectible_name"`
	VariantName     *string   `db:"variant_name"`
	CreatedAt       time.Time `db:"created_at"`
}

// Label returns the display name, falling back to the collectible's name.
func (i *Item) Label() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.CollectibleName
}

// Rotation is a time-boxed set of offers, active while EndsAt > now.
type Rotation struct {
	ID       int64     `db:"id"`
	StartsAt time.Time `db:"starts_at"`
	EndsAt   time.Time `db:"ends_at"`
}

// Active reports whether the rotation is still valid at the given time.
func (r *Rotation) Active(now time.Time) bool { return r.EndsAt.After(now) }

// RotationEntry is one offer within a rotation. Entries are immutable and
// carry the item's price frozen at rotation-creation time. The item and
// collectible columns are joined in by the store for presentation and
// minting.
type RotationEntry struct {
	ID            int64     `db:"id"`
	RotationID    int64     `db:"rotation_id"`
	ItemID        int64     `db:"item_id"`
	PriceSnapshot int64     `db:"price_snapshot"`
	CreatedAt     time.Time `db:"created_at"`

	DisplayName     string  `db:"display_name"`
	CollectibleID   int64   `db:"collectible_id"`
	CollectibleName string  `db:"collectible_name"`
	VariantID       *int64  `db:"variant_id"`
	VariantName     *string `db:"variant_name"`
}

// Label returns the offer's display name, falling back to the collectible.
func (e *RotationEntry) Label() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	return e.CollectibleName
}

// Purchase records one completed merchant purchase. Append-only; the most
// recent record per player drives cooldown enforcement.
type Purchase struct {
	ID        int64     `db:"id"`
	PlayerID  string    `db:"player_id"`
	EntryID   int64     `db:"entry_id"`
	CreatedAt time.Time `db:"created_at"`
}

// CollectibleInstance is a minted collectible owned by a player.
type CollectibleInstance struct {
	ID            string    `db:"id"`
	CollectibleID int64     `db:"collectible_id"`
	VariantID     *int64    `db:"variant_id"`
	PlayerID      string    `db:"player_id"`
	Tradeable     bool      `db:"tradeable"`
	ServerID      string    `db:"server_id"`
	CreatedAt     time.Time `db:"created_at"`
}

// SettingsRepository manages the singleton merchant configuration.
type SettingsRepository interface {
	// Load returns the settings row, creating it with defaults if missing.
	Load(ctx context.Context) (*Settings, error)
	SetLastRotationAt(ctx context.Context, t time.Time) error
}

// ItemRepository reads the merchant item pool.
type ItemRepository interface {
	// ListEnabled returns enabled items ordered by id so that sampling is
	// reproducible given a fixed random source.
	ListEnabled(ctx context.Context) ([]Item, error)
}

// RotationRepository persists rotations and their entries.
type RotationRepository interface {
	// Active returns the most recently started rotation with EndsAt > now,
	// or (nil, nil) when none is active.
	Active(ctx context.Context, now time.Time) (*Rotation, error)
	Create(ctx context.Context, r *Rotation) error
	CreateEntry(ctx context.Context, e *RotationEntry) error
	Entries(ctx context.Context, rotationID int64) ([]RotationEntry, error)
}

// PlayerRepository defines economy account operations used by the merchant.
type PlayerRepository interface {
	// GetOrCreate resolves a player by Discord user ID, creating an empty
	// account when none exists. The second return reports whether the
	// account was created by this call.
	GetOrCreate(ctx context.Context, discordID string) (*Player, bool, error)
}

// PurchaseRepository reads purchase history.
type PurchaseRepository interface {
	// LastByPlayer returns the player's most recent purchase, or (nil, nil)
	// when the player has never purchased. Equal timestamps resolve
	// deterministically (highest id wins).
	LastByPlayer(ctx context.Context, playerID string) (*Purchase, error)
}

// PurchaseTx exposes the operations available inside the purchase
// transaction. The player row is locked for the duration of the transaction.
type PurchaseTx interface {
	// PlayerForUpdate re-fetches the player under a row-level write lock.
	PlayerForUpdate(ctx context.Context, playerID string) (*Player, error)
	// DebitCoins subtracts amount from the player's balance. It fails,
	// leaving the row untouched, if the balance is insufficient.
	DebitCoins(ctx context.Context, playerID string, amount int64) error
	MintInstance(ctx context.Context, inst *CollectibleInstance) error
	RecordPurchase(ctx context.Context, p *Purchase) error
}

// Transactor runs fn inside a single storage transaction. Any error from fn
// rolls back every operation performed through the PurchaseTx.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx PurchaseTx) error) error
}
