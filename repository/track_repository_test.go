package repository

import (
	"testing"

	"MintFM/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSharesFractionsPassThrough(t *testing.T) {
	recipients := []model.RoyaltyRecipient{
		{Address: "0xartist", Share: 0.8},
		{Address: "0xproducer", Share: 0.2},
	}

	normalized, err := NormalizeShares(recipients)
	require.NoError(t, err)
	assert.Equal(t, recipients, normalized)
}

func TestNormalizeSharesPercentForm(t *testing.T) {
	// 部分铸造入口写 0-100 整数，读取时统一归一化
	recipients := []model.RoyaltyRecipient{
		{Address: "0xartist", Share: 80},
		{Address: "0xproducer", Share: 20},
	}

	normalized, err := NormalizeShares(recipients)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, normalized[0].Share, 1e-9)
	assert.InDelta(t, 0.2, normalized[1].Share, 1e-9)
}

func TestNormalizeSharesWithinEpsilon(t *testing.T) {
	recipients := []model.RoyaltyRecipient{
		{Address: "a", Share: 0.3333333},
		{Address: "b", Share: 0.3333333},
		{Address: "c", Share: 0.3333334},
	}

	_, err := NormalizeShares(recipients)
	assert.NoError(t, err)
}

func TestNormalizeSharesBadSum(t *testing.T) {
	recipients := []model.RoyaltyRecipient{
		{Address: "a", Share: 0.5},
		{Address: "b", Share: 0.4},
	}

	_, err := NormalizeShares(recipients)
	assert.ErrorIs(t, err, ErrBadRoyaltySplit)
}

func TestNormalizeSharesRejectsEmptyAndNegative(t *testing.T) {
	_, err := NormalizeShares(nil)
	assert.ErrorIs(t, err, ErrBadRoyaltySplit)

	_, err = NormalizeShares([]model.RoyaltyRecipient{
		{Address: "a", Share: 1.5},
		{Address: "b", Share: -0.5},
	})
	assert.ErrorIs(t, err, ErrBadRoyaltySplit)

	_, err = NormalizeShares([]model.RoyaltyRecipient{{Address: "", Share: 1.0}})
	assert.ErrorIs(t, err, ErrBadRoyaltySplit)
}
