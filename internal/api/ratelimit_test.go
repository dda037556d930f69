package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewContextLimiterDisabled(t *testing.T) {
	t.Parallel()

	var l *ContextLimiter = NewContextLimiter(0, 5)
	assert.Nil(t, l)
	assert.True(t, l.Allow("any"))
	assert.Equal(t, 0, l.Len())
}

func TestContextLimiterRefillsAndSweeps(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	l := NewContextLimiter(60, 2)
	l.now = func() time.Time { return now }
	l.lastSweep = now

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
	assert.Equal(t, 2, l.Len())

	now = now.Add(l.idle + time.Minute)
	assert.True(t, l.Allow("c"))
	assert.Equal(t, 1, l.Len())
}
