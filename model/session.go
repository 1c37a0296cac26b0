package model

import "time"

// SessionState 表示播放会话的生命周期状态。
// 状态只能向前流转：STARTED → ACTIVE → {ENDED_VALID, ENDED_INVALID, EXPIRED}，
// 三个终态互斥且不可再变更。
type SessionState string

const (
	SessionStarted      SessionState = "STARTED"
	SessionActive       SessionState = "ACTIVE"
	SessionEndedValid   SessionState = "ENDED_VALID"
	SessionEndedInvalid SessionState = "ENDED_INVALID"
	SessionExpired      SessionState = "EXPIRED"
)

// Terminal reports whether the state is one of the three terminal states.
func (s SessionState) Terminal() bool {
	switch s {
	case SessionEndedValid, SessionEndedInvalid, SessionExpired:
		return true
	}
	return false
}

// PlaybackSession represents one listening session from start to a terminal
// state. SessionID is opaque, globally unique and immutable once issued.
type PlaybackSession struct {
	SessionID      string       `json:"sessionId"`
	UserID         string       `json:"userId"`
	TrackID        string       `json:"trackId"`
	Tier           string       `json:"tier"`
	Bitrate        string       `json:"bitrate"`
	Format         string       `json:"format"`
	PreviewLimit   float64      `json:"previewLimit,omitempty"` // 秒，0 表示不限长
	StartedAt      time.Time    `json:"startedAt"`
	LastProgressAt time.Time    `json:"lastProgressAt"`
	CurrentTime    float64      `json:"currentTime"`
	TotalDuration  float64      `json:"totalDuration"`
	State          SessionState `json:"state"`
}
