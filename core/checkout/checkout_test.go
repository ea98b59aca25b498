package checkout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		legal    bool
	}{
		{Idle, ResolvingAddress, true},
		{ResolvingAddress, RequestingSession, true},
		{RequestingSession, AwaitingProvider, true},
		{RequestingSession, Failed, true},
		{AwaitingProvider, Verifying, true},
		{AwaitingProvider, Cancelled, true},
		{AwaitingProvider, Failed, true},
		{Verifying, Succeeded, true},
		{Verifying, Failed, true},
		{Failed, RequestingSession, true},
		{Cancelled, AwaitingProvider, true},
		{Cancelled, Idle, true},

		// A payment can never be declared successful without passing
		// verification first.
		{AwaitingProvider, Succeeded, false},
		{RequestingSession, Succeeded, false},
		{Idle, Succeeded, false},
		{Idle, AwaitingProvider, false},
		{Verifying, Cancelled, false},
		{Succeeded, RequestingSession, false},
		{Succeeded, Failed, false},
		{Cancelled, Verifying, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.legal, tc.from.canEnter(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestSessionTransitionRejectsIllegal(t *testing.T) {
	s := &Session{Status: AwaitingProvider}

	err := s.transition(Succeeded, time.Now())
	require.Error(t, err)
	assert.Equal(t, AwaitingProvider, s.Status)

	require.NoError(t, s.transition(Verifying, time.Now()))
	require.NoError(t, s.transition(Succeeded, time.Now()))
	assert.True(t, s.Status.Terminal())
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []Status{Succeeded, Failed, Cancelled} {
		assert.True(t, s.Terminal(), "%s", s)
	}
	for _, s := range []Status{Idle, ResolvingAddress, RequestingSession, AwaitingProvider, Verifying} {
		assert.False(t, s.Terminal(), "%s", s)
	}
}
