package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateDisconnected, StateConnecting, true},
		{StateDisconnected, StateConnected, false},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateClosedUnexpectedly, true},
		{StateConnecting, StateDisconnected, true},
		{StateConnected, StateClosedByUser, true},
		{StateConnected, StateClosedUnexpectedly, true},
		{StateConnected, StateConnecting, false},
		{StateClosedUnexpectedly, StateConnecting, true},
		{StateClosedUnexpectedly, StateConnected, false},
		{StateClosedByUser, StateConnecting, false},
		{StateClosedByUser, StateDisconnected, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed-unexpectedly", StateClosedUnexpectedly.String())
	assert.Equal(t, "state(42)", State(42).String())

	err := &TransitionError{From: StateClosedByUser, To: StateConnecting}
	assert.Equal(t, "illegal transition closed-by-user -> connecting", err.Error())
}
