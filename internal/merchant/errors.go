package merchant

import (
	"errors"
	"fmt"
	"time"
)

// Expected, user-facing outcomes. These are returned as typed results and
// rendered as domain messages, never treated as infrastructure failures.
var (
	ErrDisabled         = errors.New("merchant is disabled")
	ErrNoActiveRotation = errors.New("no active rotation")
	ErrUnknownOffer     = errors.New("unknown offer")
)

// CooldownError reports that the player must wait before buying again.
type CooldownError struct {
	ReadyAt time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("purchase on cooldown until %s", e.ReadyAt.Format(time.RFC3339))
}

// InsufficientFundsError reports that the player cannot afford an offer.
// The in-transaction affordability re-check returns the same type as the
// optimistic pre-check, so both surface identically to the user.
type InsufficientFundsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: need %d, have %d", e.Required, e.Available)
}
