package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupFreeTierIsCapped(t *testing.T) {
	policy := NewPolicy(30)

	cfg, err := policy.Lookup(TierFree)
	require.NoError(t, err)
	assert.Equal(t, TierFree, cfg.ID)
	assert.Equal(t, 30.0, cfg.MaxDurationSeconds)
}

func TestLookupPaidTiersAreUncapped(t *testing.T) {
	policy := NewPolicy(30)

	for _, tier := range []string{TierPremium, TierHifi} {
		cfg, err := policy.Lookup(tier)
		require.NoError(t, err)
		assert.Zero(t, cfg.MaxDurationSeconds, "tier %s should have no duration cap", tier)
	}
}

func TestLookupUnknownTier(t *testing.T) {
	policy := NewPolicy(30)

	_, err := policy.Lookup("platinum")
	assert.ErrorIs(t, err, ErrInvalidQuality)
}

func TestMultiplier(t *testing.T) {
	policy := NewPolicy(30)

	assert.Equal(t, 1.0, policy.Multiplier(TierFree))
	assert.Equal(t, 1.0, policy.Multiplier(TierPremium))
	assert.Equal(t, 1.5, policy.Multiplier(TierHifi))
	// 未知档位按 free 计
	assert.Equal(t, 1.0, policy.Multiplier("platinum"))
}
