package model

import "time"

// RecipientSplit 是单次分账中分配给某个收益方的金额（微积分单位）。
type RecipientSplit struct {
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
}

// RoyaltyRecord 记录一次有效播放产生的分账。
// 每个到达 ENDED_VALID 的会话恰好对应一条记录。
type RoyaltyRecord struct {
	TrackID   string           `json:"trackId"`
	SessionID string           `json:"sessionId"`
	UserID    string           `json:"userId"`
	Amount    int64            `json:"amount"`
	Split     []RecipientSplit `json:"perRecipientSplit"`
	Timestamp time.Time        `json:"timestamp"`
}

// TrackStats 是单曲的累计播放统计。
type TrackStats struct {
	TrackID           string `json:"trackId"`
	TotalPlays        int64  `json:"totalPlays"`
	TotalRoyalties    int64  `json:"totalRoyaltiesAccrued"`
	DistinctListeners int64  `json:"distinctListeners"`
}

// TrackEarning 是某收益方在单曲上的累计收益。
type TrackEarning struct {
	TrackID string `json:"trackId"`
	Amount  int64  `json:"amount"`
}

// ArtistEarnings aggregates balances across every track where the artist
// appears as a royalty recipient.
type ArtistEarnings struct {
	Artist    string          `json:"artist"`
	Total     int64           `json:"total"`
	Breakdown []TrackEarning  `json:"breakdown"`
	Recent    []RoyaltyRecord `json:"recentRecords"`
}
