package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanCloseSkipsConfirmation(t *testing.T) {
	m := New()
	state, err := m.Fire(EventRequestClose)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, state)
	assert.True(t, m.Closed())
}

func TestDirtyCloseAsksForConfirmation(t *testing.T) {
	m := New()
	_, err := m.Fire(EventEdit)
	require.NoError(t, err)
	assert.True(t, m.Dirty())

	state, err := m.Fire(EventRequestClose)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmingDiscard, state)

	state, err = m.Fire(EventCancelDiscard)
	require.NoError(t, err)
	assert.Equal(t, StateDirty, state)

	_, _ = m.Fire(EventRequestClose)
	state, err = m.Fire(EventConfirmDiscard)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, state)
}

func TestEditDismissesPrompt(t *testing.T) {
	m := New()
	_, _ = m.Fire(EventEdit)
	_, _ = m.Fire(EventRequestClose)
	state, err := m.Fire(EventEdit)
	require.NoError(t, err)
	assert.Equal(t, StateDirty, state)
}

func TestSavedCloses(t *testing.T) {
	m := New()
	_, _ = m.Fire(EventEdit)
	state, err := m.Fire(EventSaved)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, state)
}

func TestInvalidTransitions(t *testing.T) {
	cases := []struct {
		name  string
		setup []Event
		event Event
	}{
		{"confirm without prompt", nil, EventConfirmDiscard},
		{"cancel without prompt", []Event{EventEdit}, EventCancelDiscard},
		{"edit after close", []Event{EventRequestClose}, EventEdit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := New()
			for _, ev := range tc.setup {
				_, err := m.Fire(ev)
				require.NoError(t, err)
			}
			before := m.State()
			_, err := m.Fire(tc.event)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, before, m.State())
		})
	}
}
