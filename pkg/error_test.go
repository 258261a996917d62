package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsDistinct(t *testing.T) {
	all := []error{
		ErrStall,
		ErrNAK,
		ErrOwned,
		ErrHalted,
		ErrRequest,
		ErrInvalidEndpoint,
		ErrInvalidState,
		ErrNotConfigured,
		ErrDetached,
		ErrAttached,
		ErrBufferTooSmall,
		ErrPacketTooLarge,
		ErrDescriptorTooShort,
		ErrDescriptorTypeMismatch,
		ErrSetupPacketTooShort,
		ErrInvalidParameter,
		ErrConfig,
		ErrTimeout,
	}

	seen := make(map[string]bool)
	for _, err := range all {
		if err == nil {
			t.Fatal("nil sentinel error")
		}
		msg := err.Error()
		if seen[msg] {
			t.Errorf("duplicate error message %q", msg)
		}
		seen[msg] = true
	}
}

func TestErrorsWrap(t *testing.T) {
	tests := []struct {
		name     string
		sentinel error
	}{
		{"stall", ErrStall},
		{"owned", ErrOwned},
		{"request", ErrRequest},
		{"config", ErrConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("%w: endpoint 2 IN", tt.sentinel)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false, want true", wrapped, tt.sentinel)
			}
		})
	}
}
