package limiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time           { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(limit RateLimit) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	rl := NewRateLimiter(limit)
	rl.now = clock.now
	return rl, clock
}

func TestAllowBurstThenRefill(t *testing.T) {
	rl, clock := newTestLimiter(RateLimit{PerSecond: 1, BurstSize: 2})

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))

	// Keys are independent.
	assert.True(t, rl.Allow("10.0.0.2"))

	clock.advance(time.Second)
	assert.True(t, rl.Allow("10.0.0.1"))
}

func TestEmptyKeyIsUnlimited(t *testing.T) {
	rl, _ := newTestLimiter(RateLimit{PerSecond: 0, BurstSize: 0})
	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow(""))
	}
	assert.Equal(t, 0, rl.Len())
}

func TestBanHoldsUntilExpiry(t *testing.T) {
	rl, clock := newTestLimiter(RateLimit{
		PerSecond:    1,
		BurstSize:    1,
		BanThreshold: 2,
		BanDuration:  time.Minute,
	})

	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))

	// Tokens have refilled but the ban is still in force.
	clock.advance(10 * time.Second)
	assert.False(t, rl.Allow("k"))

	clock.advance(time.Minute)
	assert.True(t, rl.Allow("k"))
}

func TestResetAndCleanup(t *testing.T) {
	rl, clock := newTestLimiter(RateLimit{PerSecond: 1, BurstSize: 1})

	rl.Allow("a")
	assert.False(t, rl.Allow("a"))
	rl.Reset("a")
	assert.True(t, rl.Allow("a"))

	clock.advance(time.Hour)
	rl.Allow("b")
	rl.Cleanup(30 * time.Minute)
	assert.Equal(t, 1, rl.Len())
}
