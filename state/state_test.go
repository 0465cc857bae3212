package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseOf(t *testing.T) {
	assert.Equal(t, PhaseActive, PhaseOf(false))
	assert.Equal(t, PhaseRevealed, PhaseOf(true))
	assert.True(t, PhaseRevealed.Revealed())
	assert.False(t, PhaseActive.Revealed())
}

func TestMachine_Lifecycle(t *testing.T) {
	sm := NewMachine()

	tests := []struct {
		from    Phase
		event   Event
		to      Phase
		archive bool
		clear   bool
	}{
		{PhaseActive, EventReveal, PhaseRevealed, false, false},
		{PhaseRevealed, EventReveal, PhaseRevealed, false, false},
		{PhaseRevealed, EventHide, PhaseActive, true, true},
		{PhaseActive, EventHide, PhaseActive, true, true},
		{PhaseActive, EventToggle, PhaseRevealed, false, false},
		{PhaseRevealed, EventToggle, PhaseActive, true, true},
		{PhaseActive, EventReset, PhaseActive, false, true},
		{PhaseRevealed, EventReset, PhaseActive, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			tr, err := sm.Fire(tt.from, tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.to, tr.To)
			assert.Equal(t, tt.archive, tr.Archive)
			assert.Equal(t, tt.clear, tr.ClearCards)
		})
	}
}

func TestMachine_UnknownEvent(t *testing.T) {
	sm := NewMachine()

	_, err := sm.Fire(PhaseActive, Event("shuffle"))
	assert.ErrorIs(t, err, ErrTransitionNotAllowed)
}

func TestMachine_AddTransitionOverrides(t *testing.T) {
	sm := NewMachine()
	sm.AddTransition(Transition{From: PhaseActive, Event: EventHide, To: PhaseActive})

	tr, err := sm.Fire(PhaseActive, EventHide)
	require.NoError(t, err)
	assert.False(t, tr.Archive)
	assert.False(t, tr.ClearCards)
}
