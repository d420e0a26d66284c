package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const autoAdvanceKey = "games:auto_advance"

// RedisScheduler 自动进入下一轮的持久化计划（ZSET，分数为到期毫秒）
type RedisScheduler struct {
	client *redis.Client
}

// NewRedisScheduler 创建调度存储
func NewRedisScheduler(client *redis.Client) *RedisScheduler {
	return &RedisScheduler{client: client}
}

// ScheduleAdvance 登记自动推进时间，重复登记会覆盖
func (s *RedisScheduler) ScheduleAdvance(ctx context.Context, gameID string, at time.Time) error {
	return s.client.ZAdd(ctx, autoAdvanceKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: gameID,
	}).Err()
}

// CancelAdvance 取消登记
func (s *RedisScheduler) CancelAdvance(ctx context.Context, gameID string) error {
	return s.client.ZRem(ctx, autoAdvanceKey, gameID).Err()
}

// ClaimAdvance 认领一次自动推进，只有一个进程能拿到 true
func (s *RedisScheduler) ClaimAdvance(ctx context.Context, gameID string) (bool, error) {
	n, err := s.client.ZRem(ctx, autoAdvanceKey, gameID).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DueAdvances 返回到期时间不晚于 before 的游戏
func (s *RedisScheduler) DueAdvances(ctx context.Context, before time.Time) ([]string, error) {
	return s.client.ZRangeByScore(ctx, autoAdvanceKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
}
