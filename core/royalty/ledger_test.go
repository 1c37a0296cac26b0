package royalty

import (
	"context"
	"testing"

	"MintFM/model"
	"MintFM/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTrack(id string, recipients ...model.RoyaltyRecipient) *model.Track {
	return &model.Track{ID: id, Recipients: recipients}
}

func testSession(sessionID, userID, trackID string) *model.PlaybackSession {
	return &model.PlaybackSession{
		SessionID: sessionID,
		UserID:    userID,
		TrackID:   trackID,
		Tier:      "premium",
		State:     model.SessionActive,
	}
}

func TestSplitPayoutSumsExactly(t *testing.T) {
	cases := []struct {
		name   string
		amount int64
		shares []model.RoyaltyRecipient
	}{
		{"single", 1000000, []model.RoyaltyRecipient{{Address: "a", Share: 1.0}}},
		{"eighty-twenty", 1000000, []model.RoyaltyRecipient{
			{Address: "a", Share: 0.8}, {Address: "b", Share: 0.2},
		}},
		{"thirds", 1000000, []model.RoyaltyRecipient{
			{Address: "a", Share: 1.0 / 3}, {Address: "b", Share: 1.0 / 3}, {Address: "c", Share: 1.0 / 3},
		}},
		{"thirds-odd-amount", 100, []model.RoyaltyRecipient{
			{Address: "a", Share: 1.0 / 3}, {Address: "b", Share: 1.0 / 3}, {Address: "c", Share: 1.0 / 3},
		}},
		{"uneven", 999999, []model.RoyaltyRecipient{
			{Address: "a", Share: 0.375}, {Address: "b", Share: 0.375}, {Address: "c", Share: 0.25},
		}},
		{"tiny-amount", 1, []model.RoyaltyRecipient{
			{Address: "a", Share: 0.5}, {Address: "b", Share: 0.5},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			split := SplitPayout(tc.amount, tc.shares)
			require.Len(t, split, len(tc.shares))

			var sum int64
			for _, s := range split {
				assert.GreaterOrEqual(t, s.Amount, int64(0))
				sum += s.Amount
			}
			// 无论怎么取整，拆分加和必须精确等于总额
			assert.Equal(t, tc.amount, sum)
		})
	}
}

func TestSplitPayoutRemainderGoesToFirstRecipient(t *testing.T) {
	split := SplitPayout(100, []model.RoyaltyRecipient{
		{Address: "a", Share: 1.0 / 3},
		{Address: "b", Share: 1.0 / 3},
		{Address: "c", Share: 1.0 / 3},
	})

	assert.Equal(t, int64(34), split[0].Amount)
	assert.Equal(t, int64(33), split[1].Amount)
	assert.Equal(t, int64(33), split[2].Amount)
}

func TestCreditWritesRecordStatsAndBalances(t *testing.T) {
	kv := store.NewMemory()
	ledger := NewLedger(kv)
	ctx := context.Background()

	track := testTrack("track-1",
		model.RoyaltyRecipient{Address: "0xartist", Share: 0.8},
		model.RoyaltyRecipient{Address: "0xproducer", Share: 0.2},
	)

	record, err := ledger.Credit(ctx, testSession("sess-1", "user-1", "track-1"), track, 1000000, 1.0)
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), record.Amount)
	assert.Equal(t, int64(800000), record.Split[0].Amount)
	assert.Equal(t, int64(200000), record.Split[1].Amount)

	stored, err := ledger.Record(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "track-1", stored.TrackID)

	stats, err := ledger.TrackStats(ctx, "track-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalPlays)
	assert.Equal(t, int64(1000000), stats.TotalRoyalties)
	assert.Equal(t, int64(1), stats.DistinctListeners)
}

func TestCreditAppliesMultiplier(t *testing.T) {
	kv := store.NewMemory()
	ledger := NewLedger(kv)

	track := testTrack("track-1", model.RoyaltyRecipient{Address: "0xartist", Share: 1.0})
	record, err := ledger.Credit(context.Background(), testSession("sess-1", "user-1", "track-1"), track, 1000000, 1.5)
	require.NoError(t, err)
	assert.Equal(t, int64(1500000), record.Amount)
}

func TestCreditDuplicateSessionIsConsistencyError(t *testing.T) {
	kv := store.NewMemory()
	ledger := NewLedger(kv)
	ctx := context.Background()

	track := testTrack("track-1", model.RoyaltyRecipient{Address: "0xartist", Share: 1.0})
	sess := testSession("sess-1", "user-1", "track-1")

	_, err := ledger.Credit(ctx, sess, track, 1000000, 1.0)
	require.NoError(t, err)

	_, err = ledger.Credit(ctx, sess, track, 1000000, 1.0)
	var cerr *ConsistencyError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "sess-1", cerr.SessionID)

	// 一致性故障后该曲目的入账被冻结，等待人工对账
	_, err = ledger.Credit(ctx, testSession("sess-2", "user-2", "track-1"), track, 1000000, 1.0)
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Detail, "halted")

	// 其他曲目不受影响
	other := testTrack("track-2", model.RoyaltyRecipient{Address: "0xartist", Share: 1.0})
	_, err = ledger.Credit(ctx, testSession("sess-3", "user-1", "track-2"), other, 1000000, 1.0)
	assert.NoError(t, err)
}

func TestCreditRejectsBadShareSum(t *testing.T) {
	kv := store.NewMemory()
	ledger := NewLedger(kv)

	track := testTrack("track-1",
		model.RoyaltyRecipient{Address: "a", Share: 0.5},
		model.RoyaltyRecipient{Address: "b", Share: 0.4},
	)

	_, err := ledger.Credit(context.Background(), testSession("sess-1", "user-1", "track-1"), track, 1000000, 1.0)
	var cerr *ConsistencyError
	require.ErrorAs(t, err, &cerr)

	// 不会产生任何入账痕迹
	record, err := ledger.Record(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestArtistEarningsAggregation(t *testing.T) {
	kv := store.NewMemory()
	ledger := NewLedger(kv)
	ctx := context.Background()

	trackA := testTrack("track-a",
		model.RoyaltyRecipient{Address: "0xartist", Share: 0.8},
		model.RoyaltyRecipient{Address: "0xproducer", Share: 0.2},
	)
	trackB := testTrack("track-b", model.RoyaltyRecipient{Address: "0xartist", Share: 1.0})

	_, err := ledger.Credit(ctx, testSession("sess-1", "user-1", "track-a"), trackA, 1000000, 1.0)
	require.NoError(t, err)
	_, err = ledger.Credit(ctx, testSession("sess-2", "user-2", "track-a"), trackA, 1000000, 1.0)
	require.NoError(t, err)
	_, err = ledger.Credit(ctx, testSession("sess-3", "user-1", "track-b"), trackB, 1000000, 1.5)
	require.NoError(t, err)

	earnings, err := ledger.ArtistEarnings(ctx, "0xartist")
	require.NoError(t, err)
	assert.Equal(t, int64(800000*2+1500000), earnings.Total)
	require.Len(t, earnings.Breakdown, 2)
	assert.Len(t, earnings.Recent, 3)

	producer, err := ledger.ArtistEarnings(ctx, "0xproducer")
	require.NoError(t, err)
	assert.Equal(t, int64(400000), producer.Total)
	require.Len(t, producer.Breakdown, 1)
	assert.Equal(t, "track-a", producer.Breakdown[0].TrackID)

	// 没有任何收益的地址
	nobody, err := ledger.ArtistEarnings(ctx, "0xnobody")
	require.NoError(t, err)
	assert.Zero(t, nobody.Total)
	assert.Empty(t, nobody.Breakdown)
}

func TestTrackStatsDistinctListeners(t *testing.T) {
	kv := store.NewMemory()
	ledger := NewLedger(kv)
	ctx := context.Background()

	track := testTrack("track-1", model.RoyaltyRecipient{Address: "0xartist", Share: 1.0})

	_, err := ledger.Credit(ctx, testSession("sess-1", "user-1", "track-1"), track, 1000000, 1.0)
	require.NoError(t, err)
	_, err = ledger.Credit(ctx, testSession("sess-2", "user-1", "track-1"), track, 1000000, 1.0)
	require.NoError(t, err)
	_, err = ledger.Credit(ctx, testSession("sess-3", "user-2", "track-1"), track, 1000000, 1.0)
	require.NoError(t, err)

	stats, err := ledger.TrackStats(ctx, "track-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalPlays)
	assert.Equal(t, int64(2), stats.DistinctListeners)
}
