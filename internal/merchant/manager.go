package merchant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-merchant-bot/internal/clock"
	"github.com/jensholdgaard/discord-merchant-bot/internal/event"
	"github.com/jensholdgaard/discord-merchant-bot/internal/store"
)

// maxSuggestions caps autocomplete results at Discord's choice limit.
const maxSuggestions = 25

// Offer is the presentation projection of one rotation entry.
type Offer struct {
	EntryID int64
	Label   string
	Variant string
	Price   int64
}

// OfferList is the active rotation rendered for display.
type OfferList struct {
	RotationID int64
	EndsAt     time.Time
	Offers     []Offer
}

// Receipt is the result of a successful purchase.
type Receipt struct {
	Instance *store.CollectibleInstance
	Offer    Offer
}

// Manager implements the merchant rotation and purchase engines.
type Manager struct {
	// mu serializes the whole check-then-create rotation sequence so
	// concurrent callers (scheduler tick, simultaneous view/buy requests)
	// cannot create duplicate overlapping rotations. It also guards rng.
	mu  sync.Mutex
	rng *rand.Rand

	settings  store.SettingsRepository
	items     store.ItemRepository
	rotations store.RotationRepository
	players   store.PlayerRepository
	purchases store.PurchaseRepository
	tx        store.Transactor
	events    event.Store

	logger *slog.Logger
	tracer trace.Tracer
	clock  clock.Clock

	rotationsCreated   metric.Int64Counter
	purchasesCompleted metric.Int64Counter
}

// NewManager creates a merchant Manager over the given repositories.
func NewManager(repos *store.Repositories, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider, clk clock.Clock) *Manager {
	meter := mp.Meter("github.com/jensholdgaard/discord-merchant-bot/internal/merchant")
	rotationsCreated, _ := meter.Int64Counter("merchant.rotations.created",
		metric.WithDescription("Number of merchant rotations created."))
	purchasesCompleted, _ := meter.Int64Counter("merchant.purchases",
		metric.WithDescription("Number of completed merchant purchases."))

	return &Manager{
		rng:                rand.New(rand.NewSource(clk.Now().UnixNano())),
		settings:           repos.Settings,
		items:              repos.Items,
		rotations:          repos.Rotations,
		players:            repos.Players,
		purchases:          repos.Purchases,
		tx:                 repos.Tx,
		events:             repos.Events,
		logger:             logger,
		tracer:             tp.Tracer("github.com/jensholdgaard/discord-merchant-bot/internal/merchant"),
		clock:              clk,
		rotationsCreated:   rotationsCreated,
		purchasesCompleted: purchasesCompleted,
	}
}

// SeedSampling replaces the random source used for offer selection.
// Intended for tests that need reproducible rotations.
func (m *Manager) SeedSampling(seed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rng = rand.New(rand.NewSource(seed))
}

// EnsureRotation returns the currently valid rotation, creating one when
// none is active. Returns (nil, nil) when the merchant is disabled or the
// item pool is empty. The entire check-then-create sequence runs under the
// rotation lock, so at most one rotation is created per expiry window.
func (m *Manager) EnsureRotation(ctx context.Context) (*store.Rotation, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.EnsureRotation")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, err := m.settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading merchant settings: %w", err)
	}
	if !cfg.Enabled {
		return nil, nil
	}

	now := m.clock.Now().UTC()
	rotation, err := m.rotations.Active(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("querying active rotation: %w", err)
	}
	if rotation != nil {
		return rotation, nil
	}

	return m.createRotation(ctx, cfg, now)
}

// ActiveRotation is the read-only active-rotation lookup. It never creates
// a rotation; autocomplete uses it so suggestion requests do not mutate
// state.
func (m *Manager) ActiveRotation(ctx context.Context) (*store.Rotation, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ActiveRotation")
	defer span.End()

	return m.rotations.Active(ctx, m.clock.Now().UTC())
}

// createRotation samples the item pool and persists a new rotation.
// Callers must hold m.mu.
func (m *Manager) createRotation(ctx context.Context, cfg *store.Settings, now time.Time) (*store.Rotation, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.createRotation")
	defer span.End()

	items, err := m.items.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing item pool: %w", err)
	}
	if len(items) == 0 {
		m.logger.WarnContext(ctx, "merchant rotation skipped: item pool is empty")
		return nil, nil
	}

	count := min(cfg.OffersPerRotation, len(items))
	selection := WeightedSample(m.rng, items, count)

	rotation := &store.Rotation{
		StartsAt: now,
		EndsAt:   now.Add(cfg.RotationDuration()),
	}
	if err := m.rotations.Create(ctx, rotation); err != nil {
		return nil, fmt.Errorf("creating rotation: %w", err)
	}

	for _, item := range selection {
		entry := &store.RotationEntry{
			RotationID:    rotation.ID,
			ItemID:        item.ID,
			PriceSnapshot: item.Price,
		}
		if err := m.rotations.CreateEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("creating rotation entry (item=%d): %w", item.ID, err)
		}
	}

	if err := m.settings.SetLastRotationAt(ctx, now); err != nil {
		return nil, fmt.Errorf("updating last rotation time: %w", err)
	}

	data, _ := json.Marshal(event.RotationCreatedData{
		RotationID: rotation.ID,
		Offers:     len(selection),
		StartsAt:   rotation.StartsAt,
		EndsAt:     rotation.EndsAt,
	})
	evt := event.Event{
		AggregateID: "rotation-" + strconv.FormatInt(rotation.ID, 10),
		Type:        event.RotationCreated,
		Data:        data,
		Version:     1,
	}
	if err := m.events.Append(ctx, evt); err != nil {
		m.logger.ErrorContext(ctx, "failed to append rotation created event", slog.Any("error", err))
	}

	m.rotationsCreated.Add(ctx, 1)
	m.logger.InfoContext(ctx, "merchant rotation created",
		slog.Int64("rotation_id", rotation.ID),
		slog.Int("offers", len(selection)),
		slog.Time("ends_at", rotation.EndsAt),
	)
	return rotation, nil
}

// Offers returns the active rotation's entries for display, creating a
// rotation first if needed. Returns (nil, nil) when the merchant is
// disabled or no rotation could be created.
func (m *Manager) Offers(ctx context.Context) (*OfferList, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Offers")
	defer span.End()

	rotation, err := m.EnsureRotation(ctx)
	if err != nil {
		return nil, err
	}
	if rotation == nil {
		return nil, nil
	}

	entries, err := m.rotations.Entries(ctx, rotation.ID)
	if err != nil {
		return nil, fmt.Errorf("listing rotation entries: %w", err)
	}

	list := &OfferList{RotationID: rotation.ID, EndsAt: rotation.EndsAt}
	for i := range entries {
		list.Offers = append(list.Offers, offerFromEntry(&entries[i]))
	}
	return list, nil
}

// SuggestOffers returns up to maxSuggestions offers from the active rotation
// whose label contains query (case-insensitive). It is a read-only
// projection for autocomplete and never creates a rotation.
func (m *Manager) SuggestOffers(ctx context.Context, query string) ([]Offer, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.SuggestOffers")
	defer span.End()

	rotation, err := m.ActiveRotation(ctx)
	if err != nil {
		return nil, err
	}
	if rotation == nil {
		return nil, nil
	}

	entries, err := m.rotations.Entries(ctx, rotation.ID)
	if err != nil {
		return nil, fmt.Errorf("listing rotation entries: %w", err)
	}

	query = strings.ToLower(query)
	var offers []Offer
	for i := range entries {
		if query != "" && !strings.Contains(strings.ToLower(entries[i].Label()), query) {
			continue
		}
		offers = append(offers, offerFromEntry(&entries[i]))
		if len(offers) == maxSuggestions {
			break
		}
	}
	return offers, nil
}

// Purchase validates entryID against the active rotation, enforces the
// per-player cooldown, and executes the atomic debit-mint-record
// transaction. Expected rejections come back as the typed errors in
// errors.go; anything else is an infrastructure fault.
func (m *Manager) Purchase(ctx context.Context, discordUserID string, entryID int64, guildID string) (*Receipt, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Purchase",
		trace.WithAttributes(
			attribute.String("discord_id", discordUserID),
			attribute.Int64("entry_id", entryID),
		),
	)
	defer span.End()

	cfg, err := m.settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading merchant settings: %w", err)
	}
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	rotation, err := m.EnsureRotation(ctx)
	if err != nil {
		return nil, err
	}
	if rotation == nil {
		return nil, ErrNoActiveRotation
	}

	entries, err := m.rotations.Entries(ctx, rotation.ID)
	if err != nil {
		return nil, fmt.Errorf("listing rotation entries: %w", err)
	}
	var entry *store.RotationEntry
	for i := range entries {
		if entries[i].ID == entryID {
			entry = &entries[i]
			break
		}
	}
	if entry == nil {
		// Stale ids from an expired rotation land here.
		return nil, ErrUnknownOffer
	}

	player, created, err := m.players.GetOrCreate(ctx, discordUserID)
	if err != nil {
		return nil, fmt.Errorf("resolving player: %w", err)
	}
	if created {
		data, _ := json.Marshal(event.PlayerRegisteredData{DiscordID: discordUserID})
		evt := event.Event{
			AggregateID: player.ID,
			Type:        event.PlayerRegistered,
			Data:        data,
			Version:     1,
		}
		if err := m.events.Append(ctx, evt); err != nil {
			m.logger.ErrorContext(ctx, "failed to append player registered event", slog.Any("error", err))
		}
	}

	now := m.clock.Now().UTC()
	last, err := m.purchases.LastByPlayer(ctx, player.ID)
	if err != nil {
		return nil, fmt.Errorf("querying last purchase: %w", err)
	}
	if last != nil {
		readyAt := last.CreatedAt.Add(cfg.PurchaseCooldown())
		if now.Before(readyAt) {
			return nil, &CooldownError{ReadyAt: readyAt}
		}
	}

	price := entry.PriceSnapshot

	// Optimistic affordability check: cheap early exit, not authoritative.
	// The transactional phase re-checks under the row lock.
	if !player.CanAfford(price) {
		return nil, &InsufficientFundsError{Required: price, Available: player.Coins}
	}

	instance := &store.CollectibleInstance{
		CollectibleID: entry.CollectibleID,
		VariantID:     entry.VariantID,
		PlayerID:      player.ID,
		Tradeable:     true,
		ServerID:      guildID,
	}
	err = m.tx.InTx(ctx, func(tx store.PurchaseTx) error {
		locked, lockErr := tx.PlayerForUpdate(ctx, player.ID)
		if lockErr != nil {
			return lockErr
		}
		if !locked.CanAfford(price) {
			// Lost the race against a concurrent purchase; surfaces
			// identically to the optimistic rejection.
			return &InsufficientFundsError{Required: price, Available: locked.Coins}
		}
		if debitErr := tx.DebitCoins(ctx, player.ID, price); debitErr != nil {
			if errors.Is(debitErr, store.ErrInsufficientBalance) {
				return &InsufficientFundsError{Required: price, Available: locked.Coins}
			}
			return debitErr
		}
		if mintErr := tx.MintInstance(ctx, instance); mintErr != nil {
			return mintErr
		}
		return tx.RecordPurchase(ctx, &store.Purchase{PlayerID: player.ID, EntryID: entry.ID})
	})
	if err != nil {
		var funds *InsufficientFundsError
		if errors.As(err, &funds) {
			m.logger.InfoContext(ctx, "purchase lost affordability race",
				slog.String("player_id", player.ID),
				slog.Int64("entry_id", entry.ID),
			)
			return nil, funds
		}
		return nil, fmt.Errorf("purchase transaction: %w", err)
	}

	data, _ := json.Marshal(event.PurchaseCompletedData{
		PlayerID:   player.ID,
		EntryID:    entry.ID,
		Price:      price,
		InstanceID: instance.ID,
	})
	evt := event.Event{
		AggregateID: player.ID,
		Type:        event.PurchaseCompleted,
		Data:        data,
		Version:     1,
	}
	if err := m.events.Append(ctx, evt); err != nil {
		m.logger.ErrorContext(ctx, "failed to append purchase completed event", slog.Any("error", err))
	}

	m.purchasesCompleted.Add(ctx, 1)
	m.logger.InfoContext(ctx, "purchase completed",
		slog.String("player_id", player.ID),
		slog.Int64("entry_id", entry.ID),
		slog.Int64("price", price),
		slog.String("instance_id", instance.ID),
	)
	return &Receipt{Instance: instance, Offer: offerFromEntry(entry)}, nil
}

func offerFromEntry(e *store.RotationEntry) Offer {
	o := Offer{
		EntryID: e.ID,
		Label:   e.Label(),
		Price:   e.PriceSnapshot,
	}
	if e.VariantName != nil {
		o.Variant = *e.VariantName
	}
	return o
}
