package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"MintFM/core/playback"
	"MintFM/core/quality"
	"MintFM/core/royalty"
	"MintFM/logger"

	"github.com/gorilla/mux"
)

// PlaybackHandler 处理播放会话与分账相关的API请求
type PlaybackHandler struct {
	svc *playback.Service
}

// NewPlaybackHandler 创建播放API处理器
func NewPlaybackHandler(svc *playback.Service) *PlaybackHandler {
	return &PlaybackHandler{svc: svc}
}

// writeJSON 以JSON格式输出响应
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("写出响应失败", logger.ErrorField(err))
	}
}

// writeError 把引擎错误映射为HTTP状态码
func writeError(w http.ResponseWriter, err error) {
	var cerr *royalty.ConsistencyError
	switch {
	case errors.Is(err, playback.ErrValidation), errors.Is(err, quality.ErrInvalidQuality):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, playback.ErrSessionNotFound), errors.Is(err, playback.ErrTrackNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, playback.ErrSessionExpired):
		http.Error(w, err.Error(), http.StatusGone)
	case errors.Is(err, playback.ErrRateLimited):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.As(err, &cerr):
		// 一致性故障绝不静默吞掉，留痕等待人工对账
		logger.Error("账本一致性故障上抛",
			logger.String("trackId", cerr.TrackID),
			logger.String("sessionId", cerr.SessionID),
			logger.String("detail", cerr.Detail),
		)
		http.Error(w, "ledger inconsistency, crediting halted", http.StatusInternalServerError)
	default:
		logger.Error("播放接口内部错误", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// StartPlaybackHandler 创建播放会话。
// 请求体: {"trackId": "...", "tier": "free|premium|hifi"}
func (h *PlaybackHandler) StartPlaybackHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		TrackID string `json:"trackId"`
		Tier    string `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.svc.StartPlayback(r.Context(), userID, req.TrackID, req.Tier)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// UpdateProgressHandler 上报播放进度。
// 请求体: {"currentTime": 12.5, "totalDuration": 180}
func (h *PlaybackHandler) UpdateProgressHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := GetUserIDFromContext(r.Context()); err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID := mux.Vars(r)["session_id"]

	var req struct {
		CurrentTime   float64 `json:"currentTime"`
		TotalDuration float64 `json:"totalDuration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.svc.UpdateProgress(r.Context(), sessionID, req.CurrentTime, req.TotalDuration)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// EndPlaybackHandler 结束播放会话，幂等
func (h *PlaybackHandler) EndPlaybackHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := GetUserIDFromContext(r.Context()); err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID := mux.Vars(r)["session_id"]

	result, err := h.svc.EndPlayback(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// TrackStatsHandler 返回单曲累计统计
func (h *PlaybackHandler) TrackStatsHandler(w http.ResponseWriter, r *http.Request) {
	trackID := mux.Vars(r)["track_id"]

	stats, err := h.svc.GetTrackStats(r.Context(), trackID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// PlayHistoryHandler 返回当前用户最近的有效播放
func (h *PlaybackHandler) PlayHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
	}

	history, err := h.svc.GetUserPlayHistory(r.Context(), userID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// ArtistEarningsHandler 返回某收益方的累计收益
func (h *PlaybackHandler) ArtistEarningsHandler(w http.ResponseWriter, r *http.Request) {
	artistID := mux.Vars(r)["artist_id"]

	earnings, err := h.svc.GetArtistEarnings(r.Context(), artistID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, earnings)
}

// StreamingQualityHandler 返回档位对应的音质配置
func (h *PlaybackHandler) StreamingQualityHandler(w http.ResponseWriter, r *http.Request) {
	qualityID := mux.Vars(r)["quality_id"]

	cfg, err := h.svc.GetStreamingQuality(qualityID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// StreamURLHandler 为曲目生成限时播放地址。
// query 参数 quality 缺省为 free。
func (h *PlaybackHandler) StreamURLHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := GetUserIDFromContext(r.Context()); err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	trackID := mux.Vars(r)["track_id"]
	qualityID := r.URL.Query().Get("quality")
	if qualityID == "" {
		qualityID = quality.TierFree
	}

	streamURL, err := h.svc.GenerateStreamURL(r.Context(), trackID, qualityID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"streamUrl": streamURL})
}
