package playback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"MintFM/core/utils"
	"MintFM/model"
	"MintFM/store"
)

const (
	sessionKeyPrefix = "session:" // session:{sessionId} -> PlaybackSession JSON
	historyKeyPrefix = "history:" // history:{userId}:{20位纳秒时间戳}:{sessionId} -> PlaybackSession JSON
)

// SessionStore 把播放会话持久化到抽象 KV，并提供按会话的互斥段。
// 终态会话保留 retention 时长以支持幂等的 endPlayback 与播放历史。
type SessionStore struct {
	kv        store.KV
	locks     *utils.KeyMutex
	retention time.Duration
}

// NewSessionStore 创建会话存储
func NewSessionStore(kv store.KV, retention time.Duration) *SessionStore {
	return &SessionStore{kv: kv, locks: utils.NewKeyMutex(), retention: retention}
}

func sessionKey(sessionID string) string { return sessionKeyPrefix + sessionID }

func historyKey(userID string, endedAt time.Time, sessionID string) string {
	// 固定宽度时间戳使字典序等于时间序
	return fmt.Sprintf("%s%s:%020d:%s", historyKeyPrefix, userID, endedAt.UnixNano(), sessionID)
}

// Lock 获取会话互斥段，同一会话的进度上报与结束互相串行
func (s *SessionStore) Lock(sessionID string) { s.locks.Lock(sessionID) }

// Unlock 释放会话互斥段
func (s *SessionStore) Unlock(sessionID string) { s.locks.Unlock(sessionID) }

// Get 读取会话，不存在时返回 ErrSessionNotFound
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*model.PlaybackSession, error) {
	data, err := s.kv.Get(ctx, sessionKey(sessionID))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}

	sess := &model.PlaybackSession{}
	if err := json.Unmarshal(data, sess); err != nil {
		return nil, fmt.Errorf("corrupt session %s: %w", sessionID, err)
	}
	return sess, nil
}

// Put 写回会话。终态会话按 retention 设置过期，存活会话不设 KV 级过期，
// 过期判定由引擎基于 lastProgressAt 完成。
func (s *SessionStore) Put(ctx context.Context, sess *model.PlaybackSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", sess.SessionID, err)
	}

	var ttl time.Duration
	if sess.State.Terminal() {
		ttl = s.retention
	}
	if err := s.kv.Set(ctx, sessionKey(sess.SessionID), data, ttl); err != nil {
		return fmt.Errorf("failed to put session %s: %w", sess.SessionID, err)
	}
	return nil
}

// All 返回当前存储中的所有会话，供过期扫描使用
func (s *SessionStore) All(ctx context.Context) ([]*model.PlaybackSession, error) {
	raw, err := s.kv.ScanPrefix(ctx, sessionKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}

	sessions := make([]*model.PlaybackSession, 0, len(raw))
	for key, data := range raw {
		sess := &model.PlaybackSession{}
		if err := json.Unmarshal(data, sess); err != nil {
			return nil, fmt.Errorf("corrupt session at %s: %w", key, err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// AppendHistory 把到达 ENDED_VALID 的会话写入用户播放历史
func (s *SessionStore) AppendHistory(ctx context.Context, sess *model.PlaybackSession, endedAt time.Time) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry %s: %w", sess.SessionID, err)
	}

	key := historyKey(sess.UserID, endedAt, sess.SessionID)
	if err := s.kv.Set(ctx, key, data, s.retention); err != nil {
		return fmt.Errorf("failed to append history for user %s: %w", sess.UserID, err)
	}
	return nil
}

// History 返回用户最近的有效播放，按结束时间倒序，最多 limit 条
func (s *SessionStore) History(ctx context.Context, userID string, limit int) ([]*model.PlaybackSession, error) {
	raw, err := s.kv.ScanPrefix(ctx, historyKeyPrefix+userID+":")
	if err != nil {
		return nil, fmt.Errorf("failed to scan history for user %s: %w", userID, err)
	}

	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	// 键内嵌固定宽度时间戳，倒序排列即最近优先
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	sessions := make([]*model.PlaybackSession, 0, len(keys))
	for _, key := range keys {
		sess := &model.PlaybackSession{}
		if err := json.Unmarshal(raw[key], sess); err != nil {
			return nil, fmt.Errorf("corrupt history entry at %s: %w", key, err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}
