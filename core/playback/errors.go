package playback

import "errors"

// 播放引擎的错误分类。前四类是调用方可恢复的预期错误，
// 直接透传给 HTTP 层；账本一致性故障见 royalty.ConsistencyError。
var (
	// ErrValidation 表示缺失或非法的标识符/数值参数
	ErrValidation = errors.New("playback: invalid argument")
	// ErrSessionNotFound 表示会话不存在或已进入 ENDED_* 终态
	ErrSessionNotFound = errors.New("playback: session not found")
	// ErrTrackNotFound 表示曲目在目录中不存在
	ErrTrackNotFound = errors.New("playback: track not found")
	// ErrSessionExpired 表示会话已过 TTL，任何后续操作都被拒绝
	ErrSessionExpired = errors.New("playback: session expired")
	// ErrRateLimited 表示该用户的 startPlayback 触发限流
	ErrRateLimited = errors.New("playback: rate limited")
)
