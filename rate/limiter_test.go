package rate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowRefillsOverTime(t *testing.T) {
	interval := 20 * time.Millisecond
	lim := NewLimiter(1, time.Hour, Every(interval))

	shopper := "u1"
	require.True(t, lim.Allow(shopper))
	assert.False(t, lim.Allow(shopper), "bucket of one must be empty immediately after")

	time.Sleep(interval + 5*time.Millisecond)
	assert.True(t, lim.Allow(shopper), "one token must have refilled")
}

func TestAllowKeysAreIndependent(t *testing.T) {
	lim := NewLimiter(1, time.Hour, Every(time.Minute))

	// One shopper hammering checkout must not consume another's budget.
	require.True(t, lim.Allow("u1"))
	require.False(t, lim.Allow("u1"))
	assert.True(t, lim.Allow("u2"))
	assert.True(t, lim.Allow("203.0.113.9"))
}

func TestAllowBurst(t *testing.T) {
	burst := 3
	lim := NewLimiter(burst, time.Hour, Every(time.Minute))

	for i := 0; i < burst; i++ {
		require.True(t, lim.Allow("u1"), "request %d is inside the burst", i)
	}
	assert.False(t, lim.Allow("u1"))
}
