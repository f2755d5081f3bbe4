package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"niche-backend/internal/shared/config"
)

func TestRegistrySharesLimiterPerProvider(t *testing.T) {
	reg := NewRegistry(map[string]config.RateLimit{
		"keepa": {RPS: 1, Burst: 2},
	})

	a := reg.For("keepa")
	b := reg.For("keepa")
	require.Same(t, a, b)

	now := time.Now()
	assert.True(t, a.AllowN(now, 1))
	assert.True(t, a.AllowN(now, 1))
	assert.False(t, a.AllowN(now, 1), "burst of two must be exhausted")
}

func TestRegistryUnknownProviderIsUnlimited(t *testing.T) {
	reg := NewRegistry(nil)
	lim := reg.For("apify")
	now := time.Now()
	for i := 0; i < 100; i++ {
		require.True(t, lim.AllowN(now, 1))
	}
}
