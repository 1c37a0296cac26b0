package playback

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"MintFM/core/quality"
	"MintFM/core/royalty"
	"MintFM/model"
	"MintFM/store"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubTracks 是内存曲目仓库，避免测试依赖 MySQL
type stubTracks struct {
	tracks map[string]*model.Track
}

func (s *stubTracks) ReadTrack(_ context.Context, trackID string) (*model.Track, error) {
	return s.tracks[trackID], nil
}

// fakeLimiter 允许前 limit 次调用，之后全部拒绝
type fakeLimiter struct {
	mu    sync.Mutex
	limit int
	calls int
}

func (f *fakeLimiter) Allow(_ context.Context, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.calls <= f.limit, nil
}

// capturePublisher 记录所有事件供断言
type capturePublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (c *capturePublisher) Publish(_ context.Context, event model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *capturePublisher) countByType(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type testEnv struct {
	svc       *Service
	kv        *store.MemoryKV
	ledger    *royalty.Ledger
	clock     *clockwork.FakeClock
	publisher *capturePublisher
	limiter   *fakeLimiter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	kv := store.NewMemory()
	ledger := royalty.NewLedger(kv)
	publisher := &capturePublisher{}
	limiter := &fakeLimiter{limit: 10}

	tracks := &stubTracks{tracks: map[string]*model.Track{
		"track-solo": {
			ID:       "track-solo",
			Artist:   "0xartist",
			Duration: 180,
			Recipients: []model.RoyaltyRecipient{
				{Address: "0xartist", Share: 1.0},
			},
		},
		"track-split": {
			ID:       "track-split",
			Artist:   "0xartist",
			Duration: 180,
			Recipients: []model.RoyaltyRecipient{
				{Address: "0xartist", Share: 0.8},
				{Address: "0xproducer", Share: 0.2},
			},
		},
	}}

	svc := NewService(
		NewSessionStore(kv, 24*time.Hour),
		ledger,
		tracks,
		quality.NewPolicy(30),
		limiter,
		nil,
		publisher,
		Settings{
			ValidityThreshold: 0.5,
			MinValidSeconds:   30,
			SessionTimeout:    10 * time.Minute,
			PerPlayRate:       1000000,
		},
	)

	clock := clockwork.NewFakeClock()
	svc.clock = clock

	return &testEnv{svc: svc, kv: kv, ledger: ledger, clock: clock, publisher: publisher, limiter: limiter}
}

func TestStartPlaybackValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.StartPlayback(ctx, "", "track-solo", quality.TierFree)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.svc.StartPlayback(ctx, "user-1", "", quality.TierFree)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.svc.StartPlayback(ctx, "user-1", "no-such-track", quality.TierFree)
	assert.ErrorIs(t, err, ErrTrackNotFound)
}

func TestStartPlaybackUnknownTierFallsBackToFree(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.svc.StartPlayback(context.Background(), "user-1", "track-solo", "platinum")
	require.NoError(t, err)
	assert.Equal(t, quality.TierFree, result.Quality.ID)
	assert.Equal(t, float64(30), result.Quality.MaxDurationSeconds)
	assert.NotEmpty(t, result.SessionID)

	assert.Equal(t, 1, env.publisher.countByType(model.EventPlayStarted))
}

func TestFreeTierPreviewLimitForcesInvalidEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.StartPlayback(ctx, "user-1", "track-solo", quality.TierFree)
	require.NoError(t, err)
	sessionID := result.SessionID

	progress, err := env.svc.UpdateProgress(ctx, sessionID, 5, 180)
	require.NoError(t, err)
	assert.Equal(t, model.SessionActive, progress.State)
	assert.False(t, progress.LimitReached)

	// 越过试听上限：进度被钳制在 30 秒并强制无效结束
	progress, err = env.svc.UpdateProgress(ctx, sessionID, 35, 180)
	require.NoError(t, err)
	assert.True(t, progress.LimitReached)
	assert.Equal(t, model.SessionEndedInvalid, progress.State)
	assert.Equal(t, float64(30), progress.CurrentTime)

	// 终态会话再上报进度按不存在处理
	_, err = env.svc.UpdateProgress(ctx, sessionID, 40, 180)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// 结束调用幂等返回无效结果，不产生分账
	end, err := env.svc.EndPlayback(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionEndedInvalid, end.State)
	assert.False(t, end.Valid)
	assert.Zero(t, end.Payout)

	earnings, err := env.svc.GetArtistEarnings(ctx, "0xartist")
	require.NoError(t, err)
	assert.Zero(t, earnings.Total)
}

func TestValidPlaybackCreditsRoyalty(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.StartPlayback(ctx, "user-1", "track-split", quality.TierPremium)
	require.NoError(t, err)
	sessionID := result.SessionID

	_, err = env.svc.UpdateProgress(ctx, sessionID, 60, 180)
	require.NoError(t, err)
	_, err = env.svc.UpdateProgress(ctx, sessionID, 150, 180)
	require.NoError(t, err)

	end, err := env.svc.EndPlayback(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionEndedValid, end.State)
	assert.True(t, end.Valid)
	assert.Equal(t, int64(1000000), end.Payout)

	record, err := env.ledger.Record(ctx, sessionID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, int64(800000), record.Split[0].Amount)
	assert.Equal(t, int64(200000), record.Split[1].Amount)

	stats, err := env.svc.GetTrackStats(ctx, "track-split")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalPlays)
	assert.Equal(t, int64(1000000), stats.TotalRoyalties)
	assert.Equal(t, int64(1), stats.DistinctListeners)

	history, err := env.svc.GetUserPlayHistory(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, sessionID, history[0].SessionID)
}

func TestHifiTierAppliesMultiplier(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.StartPlayback(ctx, "user-1", "track-solo", quality.TierHifi)
	require.NoError(t, err)

	_, err = env.svc.UpdateProgress(ctx, result.SessionID, 100, 180)
	require.NoError(t, err)

	end, err := env.svc.EndPlayback(ctx, result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500000), end.Payout)
}

func TestShortListenEndsInvalid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.StartPlayback(ctx, "user-1", "track-solo", quality.TierPremium)
	require.NoError(t, err)

	_, err = env.svc.UpdateProgress(ctx, result.SessionID, 10, 180)
	require.NoError(t, err)

	end, err := env.svc.EndPlayback(ctx, result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionEndedInvalid, end.State)
	assert.False(t, end.Valid)

	record, err := env.ledger.Record(ctx, result.SessionID)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestEndPlaybackIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.StartPlayback(ctx, "user-1", "track-split", quality.TierPremium)
	require.NoError(t, err)

	_, err = env.svc.UpdateProgress(ctx, result.SessionID, 150, 180)
	require.NoError(t, err)

	first, err := env.svc.EndPlayback(ctx, result.SessionID)
	require.NoError(t, err)

	// 重复结束返回此前的结果，账本里仍然只有一条记录
	second, err := env.svc.EndPlayback(ctx, result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.Payout, second.Payout)

	records, err := env.kv.ScanPrefix(ctx, "royalty:record:")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStartPlaybackRateLimited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := env.svc.StartPlayback(ctx, "user-1", "track-solo", quality.TierFree)
		require.NoError(t, err)
	}

	_, err := env.svc.StartPlayback(ctx, "user-1", "track-solo", quality.TierFree)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestIdleSessionExpiresViaSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.StartPlayback(ctx, "user-1", "track-solo", quality.TierPremium)
	require.NoError(t, err)

	_, err = env.svc.UpdateProgress(ctx, result.SessionID, 60, 180)
	require.NoError(t, err)

	env.clock.Advance(11 * time.Minute)

	expired, err := env.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	// 过期会话的结束请求明确返回过期错误
	_, err = env.svc.EndPlayback(ctx, result.SessionID)
	assert.ErrorIs(t, err, ErrSessionExpired)

	_, err = env.svc.UpdateProgress(ctx, result.SessionID, 120, 180)
	assert.ErrorIs(t, err, ErrSessionExpired)

	record, err := env.ledger.Record(ctx, result.SessionID)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestIdleSessionExpiresLazilyOnEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.StartPlayback(ctx, "user-1", "track-solo", quality.TierPremium)
	require.NoError(t, err)

	_, err = env.svc.UpdateProgress(ctx, result.SessionID, 120, 180)
	require.NoError(t, err)

	// 不经过扫描，直接超时后结束：惰性过期生效
	env.clock.Advance(11 * time.Minute)

	_, err = env.svc.EndPlayback(ctx, result.SessionID)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestConcurrentEndPlaybackCreditsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.StartPlayback(ctx, "user-1", "track-split", quality.TierPremium)
	require.NoError(t, err)

	_, err = env.svc.UpdateProgress(ctx, result.SessionID, 150, 180)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			end, err := env.svc.EndPlayback(ctx, result.SessionID)
			assert.NoError(t, err)
			assert.Equal(t, int64(1000000), end.Payout)
		}()
	}
	wg.Wait()

	records, err := env.kv.ScanPrefix(ctx, "royalty:record:")
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 1, env.publisher.countByType(model.EventRoyaltyCredited))

	earnings, err := env.svc.GetArtistEarnings(ctx, "0xartist")
	require.NoError(t, err)
	assert.Equal(t, int64(800000), earnings.Total)
}

func TestConcurrentSweepExpiresOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.StartPlayback(ctx, "user-1", "track-solo", quality.TierPremium)
	require.NoError(t, err)
	_, err = env.svc.UpdateProgress(ctx, result.SessionID, 60, 180)
	require.NoError(t, err)

	env.clock.Advance(11 * time.Minute)

	counts := make([]int, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			n, err := env.svc.SweepExpired(ctx)
			assert.NoError(t, err)
			counts[idx] = n
		}(i)
	}
	wg.Wait()

	// 两轮并发扫描合计只过期一次
	assert.Equal(t, 1, counts[0]+counts[1])
}

func TestUpdateProgressValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.UpdateProgress(ctx, "", 10, 180)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.svc.UpdateProgress(ctx, "sess", -1, 180)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.svc.UpdateProgress(ctx, "sess", math.NaN(), 180)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.svc.UpdateProgress(ctx, "sess", 10, 0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.svc.UpdateProgress(ctx, "no-such-session", 10, 180)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReconfigureAffectsRunningSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.StartPlayback(ctx, "user-1", "track-solo", quality.TierPremium)
	require.NoError(t, err)

	_, err = env.svc.UpdateProgress(ctx, result.SessionID, 20, 180)
	require.NoError(t, err)

	// 收紧前 20 秒不够有效；放宽最短时长后同一会话立即按新参数判定
	env.svc.Reconfigure(Settings{
		ValidityThreshold: 0.5,
		MinValidSeconds:   15,
		SessionTimeout:    10 * time.Minute,
		PerPlayRate:       2000000,
	})

	end, err := env.svc.EndPlayback(ctx, result.SessionID)
	require.NoError(t, err)
	assert.True(t, end.Valid)
	assert.Equal(t, int64(2000000), end.Payout)
}

func TestGetUserPlayHistoryOrdersRecentFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var sessionIDs []string
	for i := 0; i < 3; i++ {
		result, err := env.svc.StartPlayback(ctx, "user-1", "track-solo", quality.TierPremium)
		require.NoError(t, err)
		_, err = env.svc.UpdateProgress(ctx, result.SessionID, 100, 180)
		require.NoError(t, err)
		_, err = env.svc.EndPlayback(ctx, result.SessionID)
		require.NoError(t, err)
		sessionIDs = append(sessionIDs, result.SessionID)
		env.clock.Advance(time.Second)
	}

	history, err := env.svc.GetUserPlayHistory(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, sessionIDs[2], history[0].SessionID)
	assert.Equal(t, sessionIDs[1], history[1].SessionID)

	// 其他用户的历史互不可见
	other, err := env.svc.GetUserPlayHistory(ctx, "user-2", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestGetTrackStatsUnknownTrack(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.GetTrackStats(context.Background(), "no-such-track")
	assert.ErrorIs(t, err, ErrTrackNotFound)
}

func TestGetStreamingQuality(t *testing.T) {
	env := newTestEnv(t)

	q, err := env.svc.GetStreamingQuality(quality.TierHifi)
	require.NoError(t, err)
	assert.Equal(t, "flac", q.Format)

	_, err = env.svc.GetStreamingQuality("platinum")
	assert.ErrorIs(t, err, quality.ErrInvalidQuality)
}
