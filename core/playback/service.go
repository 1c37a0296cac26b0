package playback

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"MintFM/config"
	"MintFM/core/quality"
	"MintFM/core/royalty"
	"MintFM/events"
	"MintFM/logger"
	"MintFM/model"
	"MintFM/repository"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// RateLimiter 是按用户的滑动窗口限流器抽象，startPlayback 消费
type RateLimiter interface {
	// Allow 报告该用户当前是否允许再发起一次播放
	Allow(ctx context.Context, userID string) (bool, error)
}

// StreamResolver 为曲目在指定音质下生成播放地址
type StreamResolver interface {
	StreamURL(ctx context.Context, trackID string, q quality.Config) (string, error)
}

// Settings 是可热更新的播放判定与计费参数
type Settings struct {
	ValidityThreshold float64       // 有效播放的进度比例阈值
	MinValidSeconds   float64       // 有效播放的最短收听秒数
	SessionTimeout    time.Duration // 无进度上报多久后判定过期
	PerPlayRate       int64         // 单次有效播放基础分账（微积分单位）
}

// SettingsFromConfig 从应用配置提取动态参数
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		ValidityThreshold: cfg.ValidityThreshold,
		MinValidSeconds:   cfg.MinValidSeconds,
		SessionTimeout:    cfg.SessionTimeout,
		PerPlayRate:       cfg.PerPlayRate,
	}
}

// StartResult 是 startPlayback 的返回值
type StartResult struct {
	SessionID string         `json:"sessionId"`
	StreamURL string         `json:"streamUrl,omitempty"`
	Quality   quality.Config `json:"quality"`
}

// ProgressResult 是 updatePlaybackProgress 的返回值。
// LimitReached 为 true 时客户端必须停止播放。
type ProgressResult struct {
	SessionID    string             `json:"sessionId"`
	State        model.SessionState `json:"state"`
	CurrentTime  float64            `json:"currentTime"`
	LimitReached bool               `json:"limitReached"`
}

// EndResult 是 endPlayback 的返回值
type EndResult struct {
	SessionID string             `json:"sessionId"`
	State     model.SessionState `json:"state"`
	Valid     bool               `json:"valid"`
	Payout    int64              `json:"payout,omitempty"`
}

// Service 编排播放会话、分账与限流，是 HTTP 层唯一调用的组件。
// 所有操作对并发调用安全：同一会话串行，不同会话并行。
type Service struct {
	sessions *SessionStore
	ledger   *royalty.Ledger
	tracks   repository.TrackRepository
	policy   *quality.Policy
	limiter  RateLimiter
	streams  StreamResolver
	events   events.Publisher
	clock    clockwork.Clock

	mu       sync.RWMutex
	settings Settings
}

// NewService 创建播放服务
func NewService(
	sessions *SessionStore,
	ledger *royalty.Ledger,
	tracks repository.TrackRepository,
	policy *quality.Policy,
	limiter RateLimiter,
	streams StreamResolver,
	publisher events.Publisher,
	settings Settings,
) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		sessions: sessions,
		ledger:   ledger,
		tracks:   tracks,
		policy:   policy,
		limiter:  limiter,
		streams:  streams,
		events:   publisher,
		clock:    clockwork.NewRealClock(),
		settings: settings,
	}
}

// Reconfigure 热更新动态参数，运行中的会话立即生效
func (s *Service) Reconfigure(settings Settings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	logger.Info("播放参数已更新",
		logger.Float64("validityThreshold", settings.ValidityThreshold),
		logger.Float64("minValidSeconds", settings.MinValidSeconds),
		logger.Duration("sessionTimeout", settings.SessionTimeout),
		logger.Int64("perPlayRate", settings.PerPlayRate),
	)
}

func (s *Service) getSettings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// StartPlayback 创建一个新的播放会话并返回流描述符。
// 同一用户受滑动窗口限流，防止刷播放量套取分账。
func (s *Service) StartPlayback(ctx context.Context, userID, trackID, tier string) (*StartResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrValidation)
	}
	if trackID == "" {
		return nil, fmt.Errorf("%w: missing track id", ErrValidation)
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("rate limiter failed for user %s: %w", userID, err)
		}
		if !allowed {
			return nil, fmt.Errorf("%w: user %s", ErrRateLimited, userID)
		}
	}

	track, err := s.tracks.ReadTrack(ctx, trackID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve track %s: %w", trackID, err)
	}
	if track == nil {
		return nil, fmt.Errorf("%w: %s", ErrTrackNotFound, trackID)
	}

	q, err := s.policy.Lookup(tier)
	if err != nil {
		// 未知档位按规约回退到 free
		logger.Debug("未知音质档位，回退到 free", logger.String("tier", tier))
		tier = quality.TierFree
		q, _ = s.policy.Lookup(tier)
	}

	var streamURL string
	if s.streams != nil {
		streamURL, err = s.streams.StreamURL(ctx, trackID, q)
		if err != nil {
			return nil, fmt.Errorf("failed to generate stream url for track %s: %w", trackID, err)
		}
	}

	now := s.clock.Now()
	sess := &model.PlaybackSession{
		SessionID:      uuid.New().String(),
		UserID:         userID,
		TrackID:        trackID,
		Tier:           tier,
		Bitrate:        q.Bitrate,
		Format:         q.Format,
		PreviewLimit:   q.MaxDurationSeconds,
		StartedAt:      now,
		LastProgressAt: now,
		TotalDuration:  track.Duration,
		State:          model.SessionStarted,
	}
	if err := s.sessions.Put(ctx, sess); err != nil {
		return nil, err
	}

	s.events.Publish(ctx, model.Event{
		Type:      model.EventPlayStarted,
		SessionID: sess.SessionID,
		TrackID:   trackID,
		UserID:    userID,
		Timestamp: now,
	})

	logger.Info("播放会话创建",
		logger.String("sessionId", sess.SessionID),
		logger.String("trackId", trackID),
		logger.String("tier", tier),
	)

	return &StartResult{SessionID: sess.SessionID, StreamURL: streamURL, Quality: q}, nil
}

// UpdateProgress 记录一次进度上报。首次上报把 STARTED 推进到 ACTIVE；
// free 档到达试听上限立即强制 ENDED_INVALID 并通过 LimitReached 告知客户端。
func (s *Service) UpdateProgress(ctx context.Context, sessionID string, currentTime, totalDuration float64) (*ProgressResult, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrValidation)
	}
	if currentTime < 0 || math.IsNaN(currentTime) || math.IsInf(currentTime, 0) {
		return nil, fmt.Errorf("%w: bad currentTime %v", ErrValidation, currentTime)
	}
	if totalDuration <= 0 || math.IsNaN(totalDuration) || math.IsInf(totalDuration, 0) {
		return nil, fmt.Errorf("%w: bad totalDuration %v", ErrValidation, totalDuration)
	}

	s.sessions.Lock(sessionID)
	defer s.sessions.Unlock(sessionID)

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch {
	case sess.State == model.SessionExpired:
		return nil, fmt.Errorf("%w: %s", ErrSessionExpired, sessionID)
	case sess.State.Terminal():
		return nil, fmt.Errorf("%w: %s already ended", ErrSessionNotFound, sessionID)
	}

	now := s.clock.Now()
	if s.expireIfStale(ctx, sess, now) {
		return nil, fmt.Errorf("%w: %s", ErrSessionExpired, sessionID)
	}

	if sess.State == model.SessionStarted {
		sess.State = model.SessionActive
	}
	sess.LastProgressAt = now
	sess.TotalDuration = totalDuration

	// 试听上限：进度不允许越过上限，触达即强制无效结束
	if sess.PreviewLimit > 0 && currentTime >= sess.PreviewLimit {
		sess.CurrentTime = sess.PreviewLimit
		sess.State = model.SessionEndedInvalid
		if err := s.sessions.Put(ctx, sess); err != nil {
			return nil, err
		}
		s.publishEnded(ctx, sess, false, now)
		logger.Info("试听上限触达，会话强制结束",
			logger.String("sessionId", sessionID),
			logger.Float64("previewLimit", sess.PreviewLimit),
		)
		return &ProgressResult{
			SessionID:    sessionID,
			State:        sess.State,
			CurrentTime:  sess.CurrentTime,
			LimitReached: true,
		}, nil
	}

	sess.CurrentTime = currentTime
	if err := s.sessions.Put(ctx, sess); err != nil {
		return nil, err
	}

	return &ProgressResult{SessionID: sessionID, State: sess.State, CurrentTime: currentTime}, nil
}

// EndPlayback 结束会话并判定有效性。有效播放与分账入账是同一个
// 原子单元：入账成功才写入 ENDED_VALID。对已结束的会话幂等，
// 返回此前计算的结果而不重复入账。
func (s *Service) EndPlayback(ctx context.Context, sessionID string) (*EndResult, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrValidation)
	}

	s.sessions.Lock(sessionID)
	defer s.sessions.Unlock(sessionID)

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch sess.State {
	case model.SessionExpired:
		return nil, fmt.Errorf("%w: %s", ErrSessionExpired, sessionID)
	case model.SessionEndedValid:
		// 幂等：返回缓存结果，不重新判定也不重复入账
		result := &EndResult{SessionID: sessionID, State: sess.State, Valid: true}
		if record, err := s.ledger.Record(ctx, sessionID); err == nil && record != nil {
			result.Payout = record.Amount
		}
		return result, nil
	case model.SessionEndedInvalid:
		return &EndResult{SessionID: sessionID, State: sess.State}, nil
	}

	now := s.clock.Now()
	if s.expireIfStale(ctx, sess, now) {
		return nil, fmt.Errorf("%w: %s", ErrSessionExpired, sessionID)
	}

	settings := s.getSettings()
	valid := sess.CurrentTime >= settings.MinValidSeconds ||
		(sess.TotalDuration > 0 && sess.CurrentTime >= settings.ValidityThreshold*sess.TotalDuration)

	if !valid {
		sess.State = model.SessionEndedInvalid
		if err := s.sessions.Put(ctx, sess); err != nil {
			return nil, err
		}
		s.publishEnded(ctx, sess, false, now)
		return &EndResult{SessionID: sessionID, State: sess.State}, nil
	}

	track, err := s.tracks.ReadTrack(ctx, sess.TrackID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve track %s: %w", sess.TrackID, err)
	}
	if track == nil {
		return nil, fmt.Errorf("%w: %s", ErrTrackNotFound, sess.TrackID)
	}

	// 先入账后落终态：会话保持存活以便人工对账后重试，
	// 账本自身的重复检测保证重试不会二次入账
	record, err := s.ledger.Credit(ctx, sess, track, settings.PerPlayRate, s.policy.Multiplier(sess.Tier))
	if err != nil {
		return nil, err
	}

	sess.State = model.SessionEndedValid
	if err := s.sessions.Put(ctx, sess); err != nil {
		logger.Error("分账已入账但会话终态写入失败",
			logger.String("sessionId", sessionID),
			logger.ErrorField(err),
		)
		return nil, err
	}
	if err := s.sessions.AppendHistory(ctx, sess, now); err != nil {
		logger.Warn("写入播放历史失败", logger.String("sessionId", sessionID), logger.ErrorField(err))
	}

	s.publishEnded(ctx, sess, true, now)
	s.events.Publish(ctx, model.Event{
		Type:      model.EventRoyaltyCredited,
		SessionID: sessionID,
		TrackID:   sess.TrackID,
		UserID:    sess.UserID,
		Amount:    record.Amount,
		Timestamp: now,
	})

	logger.Info("有效播放入账",
		logger.String("sessionId", sessionID),
		logger.String("trackId", sess.TrackID),
		logger.Int64("payout", record.Amount),
	)

	return &EndResult{SessionID: sessionID, State: sess.State, Valid: true, Payout: record.Amount}, nil
}

// expireIfStale 在会话互斥段内做惰性过期：超过 TTL 的存活会话
// 立即落 EXPIRED，调用方随后返回 ErrSessionExpired。
// 返回 true 表示会话已被本次调用置为过期。
func (s *Service) expireIfStale(ctx context.Context, sess *model.PlaybackSession, now time.Time) bool {
	if sess.State.Terminal() {
		return false
	}
	if now.Sub(sess.LastProgressAt) <= s.getSettings().SessionTimeout {
		return false
	}

	sess.State = model.SessionExpired
	if err := s.sessions.Put(ctx, sess); err != nil {
		logger.Error("写入过期状态失败", logger.String("sessionId", sess.SessionID), logger.ErrorField(err))
	}
	s.publishEnded(ctx, sess, false, now)
	return true
}

func (s *Service) publishEnded(ctx context.Context, sess *model.PlaybackSession, valid bool, now time.Time) {
	s.events.Publish(ctx, model.Event{
		Type:      model.EventPlayEnded,
		SessionID: sess.SessionID,
		TrackID:   sess.TrackID,
		UserID:    sess.UserID,
		Valid:     &valid,
		Timestamp: now,
	})
}

// GetTrackStats 返回单曲累计统计（播放数、累计分账、去重听众数）
func (s *Service) GetTrackStats(ctx context.Context, trackID string) (*model.TrackStats, error) {
	if trackID == "" {
		return nil, fmt.Errorf("%w: missing track id", ErrValidation)
	}

	track, err := s.tracks.ReadTrack(ctx, trackID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve track %s: %w", trackID, err)
	}
	if track == nil {
		return nil, fmt.Errorf("%w: %s", ErrTrackNotFound, trackID)
	}

	return s.ledger.TrackStats(ctx, trackID)
}

// GetUserPlayHistory 返回用户最近的有效播放，最多 limit 条
func (s *Service) GetUserPlayHistory(ctx context.Context, userID string, limit int) ([]*model.PlaybackSession, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrValidation)
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.sessions.History(ctx, userID, limit)
}

// GetArtistEarnings 汇总某收益方在所有曲目上的收益
func (s *Service) GetArtistEarnings(ctx context.Context, artistID string) (*model.ArtistEarnings, error) {
	if artistID == "" {
		return nil, fmt.Errorf("%w: missing artist id", ErrValidation)
	}
	return s.ledger.ArtistEarnings(ctx, artistID)
}

// GetStreamingQuality 返回档位对应的音质配置，委托给 QualityPolicy
func (s *Service) GetStreamingQuality(qualityID string) (quality.Config, error) {
	return s.policy.Lookup(qualityID)
}

// GenerateStreamURL 为曲目在指定档位生成播放地址
func (s *Service) GenerateStreamURL(ctx context.Context, trackID, qualityID string) (string, error) {
	if trackID == "" {
		return "", fmt.Errorf("%w: missing track id", ErrValidation)
	}

	track, err := s.tracks.ReadTrack(ctx, trackID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve track %s: %w", trackID, err)
	}
	if track == nil {
		return "", fmt.Errorf("%w: %s", ErrTrackNotFound, trackID)
	}

	q, err := s.policy.Lookup(qualityID)
	if err != nil {
		return "", err
	}

	if s.streams == nil {
		return "", fmt.Errorf("stream resolver not configured")
	}
	return s.streams.StreamURL(ctx, trackID, q)
}
