package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/palemoky/bad-cards/internal/game/session"
)

const (
	// Redis key
	playerStatsKey    = "player:stats:"
	leaderboardKey    = "leaderboard:wins"
	weeklyLeaderboard = "leaderboard:weekly:"
)

// PlayerStats 玩家战绩
type PlayerStats struct {
	PlayerGuid string `json:"playerGuid"`
	Nickname   string `json:"nickname"`

	GamesPlayed int `json:"gamesPlayed"` // 完整打完的局数
	GamesWon    int `json:"gamesWon"`    // 获胜局数
	RoundsWon   int `json:"roundsWon"`   // 累计赢下的轮数

	CurrentStreak int `json:"currentStreak"` // 正数为连胜，负数为连败
	MaxWinStreak  int `json:"maxWinStreak"`

	LastPlayedAt int64 `json:"lastPlayedAt"`
}

// LeaderboardEntry 排行榜条目
type LeaderboardEntry struct {
	Rank       int     `json:"rank"`
	PlayerGuid string  `json:"playerGuid"`
	Nickname   string  `json:"nickname"`
	GamesWon   int     `json:"gamesWon"`
	WinRate    float64 `json:"winRate"`
}

// LeaderboardManager 排行榜管理器
type LeaderboardManager struct {
	redis *redis.Client
	now   func() time.Time
}

// NewLeaderboardManager 创建排行榜管理器
func NewLeaderboardManager(client *redis.Client) *LeaderboardManager {
	return &LeaderboardManager{redis: client, now: time.Now}
}

// GetPlayerStats 获取玩家战绩，不存在时返回 nil, nil
func (lm *LeaderboardManager) GetPlayerStats(ctx context.Context, guid string) (*PlayerStats, error) {
	data, err := lm.redis.Get(ctx, playerStatsKey+guid).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var stats PlayerStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (lm *LeaderboardManager) saveStats(ctx context.Context, stats *PlayerStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return lm.redis.Set(ctx, playerStatsKey+stats.PlayerGuid, data, 0).Err()
}

// updateStreak 更新连胜/连败
func updateStreak(stats *PlayerStats, isWinner bool) {
	if isWinner {
		stats.CurrentStreak = max(1, stats.CurrentStreak+1)
	} else {
		stats.CurrentStreak = min(-1, stats.CurrentStreak-1)
	}
	if stats.CurrentStreak > stats.MaxWinStreak {
		stats.MaxWinStreak = stats.CurrentStreak
	}
}

func (lm *LeaderboardManager) weeklyKey() string {
	year, week := lm.now().ISOWeek()
	return fmt.Sprintf("%s%d-W%02d", weeklyLeaderboard, year, week)
}

// RecordGameResult 一局结束时记录所有真人玩家的战绩
func (lm *LeaderboardManager) RecordGameResult(ctx context.Context, doc *session.Session) error {
	winner, ok := doc.Winner()
	if !ok {
		return nil
	}

	for _, p := range doc.Players.Values() {
		if p.IsRandom {
			continue
		}

		stats, err := lm.GetPlayerStats(ctx, p.Guid)
		if err != nil {
			return err
		}
		if stats == nil {
			stats = &PlayerStats{PlayerGuid: p.Guid}
		}

		isWinner := p.Guid == winner.Guid
		stats.Nickname = p.Nickname
		stats.GamesPlayed++
		stats.RoundsWon += p.Wins
		stats.LastPlayedAt = lm.now().Unix()
		if isWinner {
			stats.GamesWon++
		}
		updateStreak(stats, isWinner)

		if err := lm.saveStats(ctx, stats); err != nil {
			return err
		}
		if err := lm.updateLeaderboard(ctx, stats, isWinner); err != nil {
			return err
		}
	}
	return nil
}

func (lm *LeaderboardManager) updateLeaderboard(ctx context.Context, stats *PlayerStats, isWinner bool) error {
	if err := lm.redis.ZAdd(ctx, leaderboardKey, redis.Z{
		Score:  float64(stats.GamesWon),
		Member: stats.PlayerGuid,
	}).Err(); err != nil {
		return err
	}

	weekly := lm.weeklyKey()
	inc := 0.0
	if isWinner {
		inc = 1
	}
	if err := lm.redis.ZIncrBy(ctx, weekly, inc, stats.PlayerGuid).Err(); err != nil {
		return err
	}
	// 设置过期时间（8天）
	return lm.redis.Expire(ctx, weekly, 8*24*time.Hour).Err()
}

// GetLeaderboard 获取排行榜，weekly 为 true 时取本周榜
func (lm *LeaderboardManager) GetLeaderboard(ctx context.Context, limit int, weekly bool) ([]LeaderboardEntry, error) {
	key := leaderboardKey
	if weekly {
		key = lm.weeklyKey()
	}

	results, err := lm.redis.ZRevRangeWithScores(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(results))
	for i, result := range results {
		guid, ok := result.Member.(string)
		if !ok {
			continue
		}
		stats, err := lm.GetPlayerStats(ctx, guid)
		if err != nil || stats == nil {
			continue
		}

		winRate := 0.0
		if stats.GamesPlayed > 0 {
			winRate = float64(stats.GamesWon) / float64(stats.GamesPlayed) * 100
		}
		entries = append(entries, LeaderboardEntry{
			Rank:       i + 1,
			PlayerGuid: guid,
			Nickname:   stats.Nickname,
			GamesWon:   int(result.Score),
			WinRate:    winRate,
		})
	}
	return entries, nil
}
