package merchant_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jensholdgaard/discord-merchant-bot/internal/merchant"
)

func TestCooldownError_Message(t *testing.T) {
	readyAt := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	err := &merchant.CooldownError{ReadyAt: readyAt}

	if !strings.Contains(err.Error(), "2026-03-01T13:00:00Z") {
		t.Errorf("Error() = %q, want it to contain the ready time", err.Error())
	}

	var cooldown *merchant.CooldownError
	if !errors.As(error(err), &cooldown) {
		t.Error("errors.As failed to match CooldownError")
	}
}

func TestInsufficientFundsError_Message(t *testing.T) {
	err := &merchant.InsufficientFundsError{Required: 500, Available: 100}

	msg := err.Error()
	if !strings.Contains(msg, "500") || !strings.Contains(msg, "100") {
		t.Errorf("Error() = %q, want required and available amounts", msg)
	}
}
