package model

import "time"

// 播放域事件类型，供分析/通知等外部协作方消费。
const (
	EventPlayStarted     = "play_started"
	EventPlayEnded       = "play_ended"
	EventRoyaltyCredited = "royalty_credited"
)

// Event 是对外发布的播放域事件。
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	TrackID   string    `json:"trackId"`
	UserID    string    `json:"userId,omitempty"`
	Valid     *bool     `json:"valid,omitempty"`  // 仅 play_ended 事件携带
	Amount    int64     `json:"amount,omitempty"` // 仅 royalty_credited 事件携带
	Timestamp time.Time `json:"timestamp"`
}
