package pricesource

import (
	"errors"
	"fmt"
	"testing"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

func TestClassifyUnknownTicker(t *testing.T) {
	for _, code := range []int{400, 404, 422} {
		err := classify("NOPE", &alpaca.APIError{StatusCode: code, Message: "not found"})
		if !errors.Is(err, ErrUnknownTicker) {
			t.Errorf("status %d: err = %v, want ErrUnknownTicker", code, err)
		}
	}
}

func TestClassifyTransient(t *testing.T) {
	if err := classify("SPY", &alpaca.APIError{StatusCode: 503}); errors.Is(err, ErrUnknownTicker) {
		t.Error("server errors must stay retryable, not unknown-ticker")
	}
	if err := classify("SPY", fmt.Errorf("connection reset")); errors.Is(err, ErrUnknownTicker) {
		t.Error("plain transport errors must stay retryable")
	}
}
