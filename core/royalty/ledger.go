package royalty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"MintFM/core/utils"
	"MintFM/logger"
	"MintFM/model"
	"MintFM/store"
)

const (
	recordKeyPrefix  = "royalty:record:"  // royalty:record:{sessionId} -> RoyaltyRecord JSON
	statsKeyPrefix   = "royalty:stats:"   // royalty:stats:{trackId} -> trackStats JSON
	balanceKeyPrefix = "royalty:balance:" // royalty:balance:{recipient}:{trackId} -> int64
	haltKeyPrefix    = "royalty:halt:"    // royalty:halt:{trackId} -> 一致性故障标记

	shareEpsilon  = 1e-6
	recentRecords = 20
)

// ConsistencyError 表示账本一致性被破坏：分成总和错误、拆分加和不等于
// 总额，或同一会话被重复入账。该错误对当前操作是致命的，
// 绝不自动修正，受影响曲目的入账被冻结直到人工对账。
type ConsistencyError struct {
	TrackID   string
	SessionID string
	Detail    string
	Split     []model.RecipientSplit
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("royalty ledger inconsistency on track %s (session %s): %s", e.TrackID, e.SessionID, e.Detail)
}

// trackStats 是 KV 中的单曲累计统计
type trackStats struct {
	TotalPlays     int64 `json:"totalPlays"`
	TotalRoyalties int64 `json:"totalRoyalties"`
}

// Ledger 按曲目、按收益方累计分账，保证每个有效会话恰好入账一次。
// 同一曲目的入账串行执行，不同曲目完全并行。
type Ledger struct {
	kv    store.KV
	locks *utils.KeyMutex
}

// NewLedger 创建分账账本
func NewLedger(kv store.KV) *Ledger {
	return &Ledger{kv: kv, locks: utils.NewKeyMutex()}
}

func recordKey(sessionID string) string { return recordKeyPrefix + sessionID }
func statsKey(trackID string) string    { return statsKeyPrefix + trackID }
func haltKey(trackID string) string     { return haltKeyPrefix + trackID }

func balanceKey(recipient, trackID string) string {
	return fmt.Sprintf("%s%s:%s", balanceKeyPrefix, recipient, trackID)
}

// Credit 为一次有效播放入账。rate 是基础分账额（微积分单位），
// multiplier 是档位倍率。调用方必须保证会话即将进入 ENDED_VALID。
func (l *Ledger) Credit(ctx context.Context, sess *model.PlaybackSession, track *model.Track, rate int64, multiplier float64) (*model.RoyaltyRecord, error) {
	l.locks.Lock(track.ID)
	defer l.locks.Unlock(track.ID)

	// 曲目处于冻结状态时拒绝入账
	if _, err := l.kv.Get(ctx, haltKey(track.ID)); err == nil {
		return nil, &ConsistencyError{
			TrackID:   track.ID,
			SessionID: sess.SessionID,
			Detail:    "crediting halted pending manual reconciliation",
		}
	} else if !errors.Is(err, store.ErrKeyNotFound) {
		return nil, fmt.Errorf("failed to check halt flag for track %s: %w", track.ID, err)
	}

	// 重复入账检测：同一会话只允许一条记录
	if _, err := l.kv.Get(ctx, recordKey(sess.SessionID)); err == nil {
		cerr := &ConsistencyError{
			TrackID:   track.ID,
			SessionID: sess.SessionID,
			Detail:    "duplicate credit attempt",
		}
		l.halt(ctx, track.ID, cerr)
		return nil, cerr
	} else if !errors.Is(err, store.ErrKeyNotFound) {
		return nil, fmt.Errorf("failed to check record for session %s: %w", sess.SessionID, err)
	}

	// 入账前复核分成配置
	sum := 0.0
	for _, r := range track.Recipients {
		sum += r.Share
	}
	if len(track.Recipients) == 0 || math.Abs(sum-1.0) > shareEpsilon {
		cerr := &ConsistencyError{
			TrackID:   track.ID,
			SessionID: sess.SessionID,
			Detail:    fmt.Sprintf("recipient shares sum to %.9f, want 1.0", sum),
		}
		l.halt(ctx, track.ID, cerr)
		return nil, cerr
	}

	payout := int64(math.Round(float64(rate) * multiplier))
	split := SplitPayout(payout, track.Recipients)

	var splitSum int64
	for _, s := range split {
		splitSum += s.Amount
	}
	if splitSum != payout {
		cerr := &ConsistencyError{
			TrackID:   track.ID,
			SessionID: sess.SessionID,
			Detail:    fmt.Sprintf("split sums to %d, want %d", splitSum, payout),
			Split:     split,
		}
		l.halt(ctx, track.ID, cerr)
		return nil, cerr
	}

	record := &model.RoyaltyRecord{
		TrackID:   track.ID,
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		Amount:    payout,
		Split:     split,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal royalty record: %w", err)
	}
	if err := l.kv.Set(ctx, recordKey(sess.SessionID), data, 0); err != nil {
		return nil, fmt.Errorf("failed to append royalty record: %w", err)
	}

	if err := l.bumpStats(ctx, track.ID, payout); err != nil {
		return nil, err
	}
	for _, s := range split {
		if err := l.bumpBalance(ctx, s.Recipient, track.ID, s.Amount); err != nil {
			return nil, err
		}
	}

	return record, nil
}

// halt 冻结曲目的入账并记录完整上下文，等待人工对账
func (l *Ledger) halt(ctx context.Context, trackID string, cerr *ConsistencyError) {
	logger.Error("账本一致性故障，冻结该曲目入账",
		logger.String("trackId", cerr.TrackID),
		logger.String("sessionId", cerr.SessionID),
		logger.String("detail", cerr.Detail),
		logger.Any("split", cerr.Split),
	)
	if err := l.kv.Set(ctx, haltKey(trackID), []byte(cerr.Detail), 0); err != nil {
		logger.Error("写入冻结标记失败", logger.String("trackId", trackID), logger.ErrorField(err))
	}
}

// SplitPayout 按分成比例拆分总额。每份向下取整，
// 最小单位的余数全部计给第一个收益方，保证拆分加和精确等于总额。
func SplitPayout(amount int64, recipients []model.RoyaltyRecipient) []model.RecipientSplit {
	split := make([]model.RecipientSplit, len(recipients))
	var allocated int64
	for i, r := range recipients {
		part := int64(math.Floor(float64(amount) * r.Share))
		split[i] = model.RecipientSplit{Recipient: r.Address, Amount: part}
		allocated += part
	}
	if len(split) > 0 {
		split[0].Amount += amount - allocated
	}
	return split
}

func (l *Ledger) bumpStats(ctx context.Context, trackID string, payout int64) error {
	stats := trackStats{}
	data, err := l.kv.Get(ctx, statsKey(trackID))
	if err == nil {
		if err := json.Unmarshal(data, &stats); err != nil {
			return fmt.Errorf("failed to unmarshal stats for track %s: %w", trackID, err)
		}
	} else if !errors.Is(err, store.ErrKeyNotFound) {
		return fmt.Errorf("failed to get stats for track %s: %w", trackID, err)
	}

	stats.TotalPlays++
	stats.TotalRoyalties += payout

	data, err = json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats for track %s: %w", trackID, err)
	}
	return l.kv.Set(ctx, statsKey(trackID), data, 0)
}

func (l *Ledger) bumpBalance(ctx context.Context, recipient, trackID string, amount int64) error {
	key := balanceKey(recipient, trackID)
	var balance int64
	data, err := l.kv.Get(ctx, key)
	if err == nil {
		balance, err = strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt balance at %s: %w", key, err)
		}
	} else if !errors.Is(err, store.ErrKeyNotFound) {
		return fmt.Errorf("failed to get balance at %s: %w", key, err)
	}

	balance += amount
	return l.kv.Set(ctx, key, []byte(strconv.FormatInt(balance, 10)), 0)
}

// Record 返回会话对应的分账记录，不存在时返回 nil, nil
func (l *Ledger) Record(ctx context.Context, sessionID string) (*model.RoyaltyRecord, error) {
	data, err := l.kv.Get(ctx, recordKey(sessionID))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get record for session %s: %w", sessionID, err)
	}

	record := &model.RoyaltyRecord{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record for session %s: %w", sessionID, err)
	}
	return record, nil
}

// TrackStats 返回单曲的累计播放统计，含去重听众数
func (l *Ledger) TrackStats(ctx context.Context, trackID string) (*model.TrackStats, error) {
	result := &model.TrackStats{TrackID: trackID}

	data, err := l.kv.Get(ctx, statsKey(trackID))
	if err == nil {
		stats := trackStats{}
		if err := json.Unmarshal(data, &stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stats for track %s: %w", trackID, err)
		}
		result.TotalPlays = stats.TotalPlays
		result.TotalRoyalties = stats.TotalRoyalties
	} else if !errors.Is(err, store.ErrKeyNotFound) {
		return nil, fmt.Errorf("failed to get stats for track %s: %w", trackID, err)
	}

	records, err := l.allRecords(ctx)
	if err != nil {
		return nil, err
	}

	listeners := make(map[string]bool)
	for _, r := range records {
		if r.TrackID == trackID && r.UserID != "" {
			listeners[r.UserID] = true
		}
	}
	result.DistinctListeners = int64(len(listeners))

	return result, nil
}

// ArtistEarnings 汇总某收益方在所有曲目上的累计收益
func (l *Ledger) ArtistEarnings(ctx context.Context, artistID string) (*model.ArtistEarnings, error) {
	earnings := &model.ArtistEarnings{Artist: artistID, Breakdown: []model.TrackEarning{}}

	balances, err := l.kv.ScanPrefix(ctx, balanceKeyPrefix+artistID+":")
	if err != nil {
		return nil, fmt.Errorf("failed to scan balances for artist %s: %w", artistID, err)
	}

	prefix := balanceKeyPrefix + artistID + ":"
	for key, data := range balances {
		amount, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt balance at %s: %w", key, err)
		}
		earnings.Breakdown = append(earnings.Breakdown, model.TrackEarning{
			TrackID: key[len(prefix):],
			Amount:  amount,
		})
		earnings.Total += amount
	}
	sort.Slice(earnings.Breakdown, func(i, j int) bool {
		return earnings.Breakdown[i].Amount > earnings.Breakdown[j].Amount
	})

	records, err := l.allRecords(ctx)
	if err != nil {
		return nil, err
	}
	recent := make([]model.RoyaltyRecord, 0)
	for _, r := range records {
		for _, s := range r.Split {
			if s.Recipient == artistID {
				recent = append(recent, r)
				break
			}
		}
	}
	sort.Slice(recent, func(i, j int) bool { return recent[i].Timestamp.After(recent[j].Timestamp) })
	if len(recent) > recentRecords {
		recent = recent[:recentRecords]
	}
	earnings.Recent = recent

	return earnings, nil
}

func (l *Ledger) allRecords(ctx context.Context) ([]model.RoyaltyRecord, error) {
	raw, err := l.kv.ScanPrefix(ctx, recordKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan royalty records: %w", err)
	}

	records := make([]model.RoyaltyRecord, 0, len(raw))
	for key, data := range raw {
		record := model.RoyaltyRecord{}
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("corrupt royalty record at %s: %w", key, err)
		}
		records = append(records, record)
	}
	return records, nil
}
