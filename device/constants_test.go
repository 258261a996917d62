package device

import (
	"testing"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDetached, "Detached"},
		{StateAttached, "Attached"},
		{StatePowered, "Powered"},
		{StateDefault, "Default"},
		{StateAddress, "Address"},
		{StateConfigured, "Configured"},
		{State(99), "Unknown State (99)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestState_Ordering(t *testing.T) {
	// Enumeration advances strictly through these states; the reset and
	// configuration handlers rely on the ordering to decide what to tear
	// down.
	order := []State{
		StateDetached,
		StateAttached,
		StatePowered,
		StateDefault,
		StateAddress,
		StateConfigured,
	}
	for i := 1; i < len(order); i++ {
		if order[i-1] >= order[i] {
			t.Errorf("State ordering broken: %v >= %v", order[i-1], order[i])
		}
	}
}
