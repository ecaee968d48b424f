package timeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpired(t *testing.T) {
	assert.True(t, Expired(100, 100))
	assert.True(t, Expired(101, 100))
	assert.False(t, Expired(99, 100))
}

func TestFuture(t *testing.T) {
	assert.Equal(t, Tick(150), Future(100, 50))
}

func TestFakeClock(t *testing.T) {
	c := NewFakeClock(1000)
	assert.Equal(t, Tick(1000), c.Now())
	c.Advance(250)
	assert.Equal(t, Tick(1250), c.Now())
	c.Set(0)
	assert.Equal(t, Tick(0), c.Now())
}

func TestExpiredFalseForFarFutureTarget(t *testing.T) {
	// A target far in the future relative to now is not expired.
	assert.False(t, Expired(0, 1_000_000))
}
