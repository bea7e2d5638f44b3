package dialog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from State
		ev   Event
		want State
		ok   bool
	}{
		{StateIdle, EventStart, StateAwaitingCategory, true},
		{StateAwaitingIdentifier, EventStart, StateAwaitingCategory, true},
		{StateAwaitingCategory, EventCategorySelected, StateAwaitingService, true},
		{StateAwaitingService, EventServiceSelected, StateAwaitingIdentifier, true},
		{StateAwaitingService, EventBack, StateAwaitingCategory, true},
		{StateAwaitingIdentifier, EventBack, StateAwaitingService, true},
		{StateAwaitingIdentifier, EventIdentifierRejected, StateAwaitingIdentifier, true},
		{StateAwaitingIdentifier, EventSubmitted, StateIdle, true},
		{StateAwaitingCategory, EventCancel, StateIdle, true},
		{StateAwaitingService, EventCancel, StateIdle, true},
		{StateAwaitingIdentifier, EventCancel, StateIdle, true},

		{StateIdle, EventCancel, StateIdle, false},
		{StateIdle, EventCategorySelected, StateIdle, false},
		{StateIdle, EventSubmitted, StateIdle, false},
		{StateAwaitingCategory, EventServiceSelected, StateAwaitingCategory, false},
		{StateAwaitingCategory, EventBack, StateAwaitingCategory, false},
		{StateAwaitingService, EventSubmitted, StateAwaitingService, false},
		{StateAwaitingIdentifier, EventCategorySelected, StateAwaitingIdentifier, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.ev.String(), func(t *testing.T) {
			got, err := Next(tt.from, tt.ev)
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidTransition)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestManager_Flow(t *testing.T) {
	m := NewManager(time.Minute)

	assert.Equal(t, StateIdle, m.Get(1).State)

	_, err := m.Fire(1, EventStart, nil)
	require.NoError(t, err)
	s, err := m.Fire(1, EventCategorySelected, func(s *Session) { s.Category = "Apple" })
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingService, s.State)
	assert.Equal(t, "Apple", s.Category)

	s, err = m.Fire(1, EventServiceSelected, func(s *Session) { s.ServiceID = 3 })
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingIdentifier, s.State)
	assert.Equal(t, int64(3), s.ServiceID)
	assert.Equal(t, "Apple", s.Category)

	s, err = m.Fire(1, EventBack, nil)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingService, s.State)
	assert.Zero(t, s.ServiceID)
	assert.Equal(t, "Apple", s.Category)

	s, err = m.Fire(1, EventBack, nil)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingCategory, s.State)
	assert.Empty(t, s.Category)

	s, err = m.Fire(1, EventCancel, nil)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, s.State)
	assert.Zero(t, m.Len())
}

func TestManager_InvalidTransitionKeepsSession(t *testing.T) {
	m := NewManager(time.Minute)
	_, err := m.Fire(1, EventStart, nil)
	require.NoError(t, err)

	_, err = m.Fire(1, EventSubmitted, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateAwaitingCategory, m.Get(1).State)
}

func TestManager_Expiry(t *testing.T) {
	m := NewManager(time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	_, err := m.Fire(1, EventStart, nil)
	require.NoError(t, err)
	_, err = m.Fire(2, EventStart, nil)
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	_, err = m.Fire(2, EventCategorySelected, func(s *Session) { s.Category = "General" })
	require.NoError(t, err)

	now = now.Add(45 * time.Second)
	assert.Equal(t, StateIdle, m.Get(1).State)
	assert.Equal(t, StateAwaitingService, m.Get(2).State)

	_, err = m.Fire(1, EventCategorySelected, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Equal(t, 1, m.Sweep(now))
	assert.Equal(t, 1, m.Len())
}

func TestManager_Reset(t *testing.T) {
	m := NewManager(0)
	_, err := m.Fire(7, EventStart, nil)
	require.NoError(t, err)
	m.Reset(7)
	assert.Equal(t, StateIdle, m.Get(7).State)
	assert.Zero(t, m.Len())
}
