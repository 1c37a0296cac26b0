package quality

import "errors"

// 订阅档位
const (
	TierFree    = "free"
	TierPremium = "premium"
	TierHifi    = "hifi"
)

// ErrInvalidQuality 表示未知的音质档位，调用方应回退到 free
var ErrInvalidQuality = errors.New("quality: unknown quality id")

// Config 是某个档位允许的音质配置。
// MaxDurationSeconds 为 0 表示不限制收听时长。
type Config struct {
	ID                 string  `json:"id"`
	Bitrate            string  `json:"bitrate"`
	Format             string  `json:"format"`
	MaxDurationSeconds float64 `json:"maxDurationSeconds,omitempty"`
}

// Policy 把订阅档位映射到音质配置与分账倍率。纯查表，无副作用。
type Policy struct {
	tiers       map[string]Config
	multipliers map[string]float64
}

// NewPolicy 创建档位策略，previewSeconds 是 free 档的试听上限
func NewPolicy(previewSeconds float64) *Policy {
	return &Policy{
		tiers: map[string]Config{
			TierFree: {
				ID:                 TierFree,
				Bitrate:            "128k",
				Format:             "aac",
				MaxDurationSeconds: previewSeconds,
			},
			TierPremium: {
				ID:      TierPremium,
				Bitrate: "320k",
				Format:  "mp3",
			},
			TierHifi: {
				ID:      TierHifi,
				Bitrate: "1411k",
				Format:  "flac",
			},
		},
		multipliers: map[string]float64{
			TierFree:    1.0,
			TierPremium: 1.0,
			TierHifi:    1.5,
		},
	}
}

// Lookup 返回档位对应的音质配置，未知档位返回 ErrInvalidQuality
func (p *Policy) Lookup(qualityID string) (Config, error) {
	cfg, ok := p.tiers[qualityID]
	if !ok {
		return Config{}, ErrInvalidQuality
	}
	return cfg, nil
}

// Multiplier 返回档位的分账倍率，未知档位按 free 计
func (p *Policy) Multiplier(tier string) float64 {
	if m, ok := p.multipliers[tier]; ok {
		return m
	}
	return p.multipliers[TierFree]
}
