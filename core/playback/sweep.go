package playback

import (
	"context"
	"time"

	"MintFM/logger"
	"MintFM/model"
)

// Sweeper 周期性扫描无进度上报的存活会话并标记为 EXPIRED。
// 过期会话在分账上等同于 ENDED_INVALID。扫描可通过 ctx 取消，
// 并发执行安全：会话互斥段加状态复核保证不会重复过期。
type Sweeper struct {
	svc      *Service
	interval time.Duration
}

// NewSweeper 创建过期扫描器
func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Sweeper{svc: svc, interval: interval}
}

// Run 以固定周期执行扫描，直到 ctx 取消
func (w *Sweeper) Run(ctx context.Context) {
	ticker := w.svc.clock.NewTicker(w.interval)
	defer ticker.Stop()

	logger.Info("过期扫描启动", logger.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			logger.Info("过期扫描停止")
			return
		case <-ticker.Chan():
			expired, err := w.svc.SweepExpired(ctx)
			if err != nil {
				logger.Error("过期扫描失败", logger.ErrorField(err))
				continue
			}
			if expired > 0 {
				logger.Info("过期扫描完成", logger.Int("expired", expired))
			}
		}
	}
}

// SweepExpired 扫描一轮并返回本轮过期的会话数
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	sessions, err := s.sessions.All(ctx)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	timeout := s.getSettings().SessionTimeout
	expired := 0

	for _, candidate := range sessions {
		if candidate.State.Terminal() || now.Sub(candidate.LastProgressAt) <= timeout {
			continue
		}

		// 在互斥段内重读并复核，避免与进行中的请求或并发扫描竞争
		s.sessions.Lock(candidate.SessionID)
		sess, err := s.sessions.Get(ctx, candidate.SessionID)
		if err != nil {
			s.sessions.Unlock(candidate.SessionID)
			continue
		}
		if sess.State.Terminal() || now.Sub(sess.LastProgressAt) <= timeout {
			s.sessions.Unlock(candidate.SessionID)
			continue
		}

		sess.State = model.SessionExpired
		if err := s.sessions.Put(ctx, sess); err != nil {
			logger.Error("写入过期状态失败", logger.String("sessionId", sess.SessionID), logger.ErrorField(err))
			s.sessions.Unlock(candidate.SessionID)
			continue
		}
		s.sessions.Unlock(candidate.SessionID)

		s.publishEnded(ctx, sess, false, now)
		expired++
	}

	return expired, nil
}
