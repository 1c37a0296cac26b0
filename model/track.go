package model

import "time"

// RoyaltyRecipient 表示曲目分成中的一个收益方。
// Share 为 0-1 的分数，同一曲目所有 Share 之和必须为 1.0（允许 1e-6 误差）。
type RoyaltyRecipient struct {
	Address string  `json:"address"`
	Share   float64 `json:"share"`
}

// Track represents a minted audio track in the catalog.
// Tracks are created and owned by the minting service; this engine only
// reads them and accrues play/royalty stats keyed by their ID.
type Track struct {
	ID             string             `json:"id" gorm:"primaryKey;size:128"`
	OwnerID        string             `json:"ownerId" gorm:"size:128;index"`
	Title          string             `json:"title"`
	Artist         string             `json:"artist"`
	Duration       float64            `json:"duration"` // Duration in seconds
	RecipientsJSON string             `json:"-" gorm:"column:royalty_recipients;type:json"`
	Recipients     []RoyaltyRecipient `json:"royaltyRecipients" gorm:"-"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// TableName 指定曲目表名
func (Track) TableName() string {
	return "tracks"
}
