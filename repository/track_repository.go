package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"MintFM/model"

	"gorm.io/gorm"
)

// shareEpsilon 是分成总和允许的误差
const shareEpsilon = 1e-6

// ErrBadRoyaltySplit 表示曲目的分成配置不合法
var ErrBadRoyaltySplit = errors.New("repository: royalty shares do not sum to 1.0")

// TrackRepository 提供曲目目录的只读访问。
// 曲目由铸造服务写入，这里只读取并在读取时归一化分成配置。
type TrackRepository interface {
	ReadTrack(ctx context.Context, trackID string) (*model.Track, error)
}

// gormTrackRepository implements TrackRepository for the MySQL catalog.
type gormTrackRepository struct {
	db *gorm.DB
}

// NewGormTrackRepository creates a new instance of gormTrackRepository.
func NewGormTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

// ReadTrack retrieves a track by its ID. Returns nil, nil when the track
// does not exist.
func (r *gormTrackRepository) ReadTrack(ctx context.Context, trackID string) (*model.Track, error) {
	track := &model.Track{}
	err := r.db.WithContext(ctx).First(track, "id = ?", trackID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // Track not found
		}
		return nil, fmt.Errorf("failed to read track %s: %w", trackID, err)
	}

	if track.RecipientsJSON != "" {
		if err := json.Unmarshal([]byte(track.RecipientsJSON), &track.Recipients); err != nil {
			return nil, fmt.Errorf("failed to unmarshal royalty recipients for track %s: %w", trackID, err)
		}
	}

	recipients, err := NormalizeShares(track.Recipients)
	if err != nil {
		return nil, fmt.Errorf("track %s: %w", trackID, err)
	}
	track.Recipients = recipients

	return track, nil
}

// NormalizeShares 把分成统一为 0-1 分数的规范形式。
// 上游来源不一致：部分铸造入口写 0-1 分数，部分写 0-100 整数，
// 在读取入口统一归一化，之后所有计算只认分数。
func NormalizeShares(recipients []model.RoyaltyRecipient) ([]model.RoyaltyRecipient, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: no recipients", ErrBadRoyaltySplit)
	}

	sum := 0.0
	for _, r := range recipients {
		if r.Address == "" || r.Share < 0 {
			return nil, fmt.Errorf("%w: bad recipient %+v", ErrBadRoyaltySplit, r)
		}
		sum += r.Share
	}

	switch {
	case math.Abs(sum-1.0) <= shareEpsilon:
		return recipients, nil
	case math.Abs(sum-100.0) <= shareEpsilon*100:
		// 百分比形式，除以 100 归一化
		normalized := make([]model.RoyaltyRecipient, len(recipients))
		for i, r := range recipients {
			normalized[i] = model.RoyaltyRecipient{Address: r.Address, Share: r.Share / 100}
		}
		return normalized, nil
	default:
		return nil, fmt.Errorf("%w: shares sum to %.6f", ErrBadRoyaltySplit, sum)
	}
}
