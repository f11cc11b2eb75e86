package gateway

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter(t *testing.T) {
	now := time.Date(2024, time.March, 9, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(6, 2)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "identities are limited separately")

	now = now.Add(10 * time.Second)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("a"))
	}

	var nilLimiter *Limiter
	assert.True(t, nilLimiter.Allow("a"))
}

func TestLimiterPrunesIdle(t *testing.T) {
	now := time.Date(2024, time.March, 9, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(60, 1)
	l.now = func() time.Time { return now }

	for i := 0; i < limiterPruneSize; i++ {
		l.Allow(fmt.Sprintf("user%d@example.org", i))
	}
	assert.Len(t, l.entries, limiterPruneSize)

	now = now.Add(limiterIdle + time.Second)
	l.Allow("fresh")
	assert.Len(t, l.entries, 1)
}
