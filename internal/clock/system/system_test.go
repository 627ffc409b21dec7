package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	require.NotNil(t, clk)

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after), "got %v", got)
	assert.False(t, clk.Now().Before(got))
}

func TestClockNowDropsSubMicrosecond(t *testing.T) {
	t.Parallel()

	clk := New()
	for i := 0; i < 50; i++ {
		got := clk.Now()
		require.Zero(t, got.Nanosecond()%int(Precision), "got %v", got)
		require.True(t, got.Equal(got.Truncate(Precision)))
	}
}
