package event

import (
	"encoding/json"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	RotationCreated   Type = "rotation.created"
	PurchaseCompleted Type = "purchase.completed"
	PlayerRegistered  Type = "player.registered"
)

// Event represents a single domain event.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// RotationCreatedData is the payload for RotationCreated events.
type RotationCreatedData struct {
	RotationID int64     `json:"rotation_id"`
	Offers     int       `json:"offers"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
}

// PurchaseCompletedData is the payload for PurchaseCompleted events.
type PurchaseCompletedData struct {
	PlayerID   string `json:"player_id"`
	EntryID    int64  `json:"entry_id"`
	Price      int64  `json:"price"`
	InstanceID string `json:"instance_id"`
}

// PlayerRegisteredData is the payload for PlayerRegistered events.
type PlayerRegisteredData struct {
	DiscordID string `json:"discord_id"`
}
