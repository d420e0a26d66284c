package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/palemoky/bad-cards/internal/apperrors"
	"github.com/palemoky/bad-cards/internal/game/session"
)

const (
	// Redis key 前缀
	gameKeyPrefix = "game:"
	publicGameKey = "games:public"

	// 游戏文档过期时间（每次写入刷新）
	gameExpiration = 7 * 24 * time.Hour
)

// RedisStore 基于 Redis 的游戏文档仓库
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore 创建 Redis 存储
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func gameKey(id string) string {
	return gameKeyPrefix + id
}

// Get 读取游戏文档，不存在时返回 nil, nil
func (rs *RedisStore) Get(ctx context.Context, id string) (*session.Session, error) {
	data, err := rs.client.Get(ctx, gameKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 游戏不存在
		}
		return nil, err
	}
	return session.Decode(data)
}

// Create 写入新文档，id 已被占用时返回 false
func (rs *RedisStore) Create(ctx context.Context, doc *session.Session) (bool, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("序列化游戏文档失败: %w", err)
	}

	ok, err := rs.client.SetNX(ctx, gameKey(doc.ID), data, gameExpiration).Result()
	if err != nil || !ok {
		return false, err
	}
	if err := rs.indexPublic(ctx, rs.client, doc); err != nil {
		return true, err
	}
	return true, nil
}

// Replace 比较并交换：仅当库中版本等于 doc.Version 时写入，成功后 doc.Version 加一
func (rs *RedisStore) Replace(ctx context.Context, doc *session.Session) error {
	key := gameKey(doc.ID)
	expected := doc.Version
	doc.Version = expected + 1

	data, err := json.Marshal(doc)
	if err != nil {
		doc.Version = expected
		return fmt.Errorf("序列化游戏文档失败: %w", err)
	}

	err = rs.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return apperrors.ErrGameNotFound
		}
		if err != nil {
			return err
		}

		var head struct {
			Version int64 `json:"version"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return fmt.Errorf("反序列化游戏文档失败: %w", err)
		}
		if head.Version != expected {
			return apperrors.ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, gameExpiration)
			return rs.indexPublic(ctx, pipe, doc)
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		err = apperrors.ErrVersionConflict
	}
	if err != nil {
		doc.Version = expected
		return err
	}
	return nil
}

// indexPublic 维护公开游戏索引（按更新时间排序）
func (rs *RedisStore) indexPublic(ctx context.Context, c redis.Cmdable, doc *session.Session) error {
	if doc.Settings.IsPublic {
		return c.ZAdd(ctx, publicGameKey, redis.Z{
			Score:  float64(doc.DateUpdated.UnixMilli()),
			Member: doc.ID,
		}).Err()
	}
	return c.ZRem(ctx, publicGameKey, doc.ID).Err()
}

// ListPublic 列出 since 之后更新过的公开游戏，按更新时间倒序
func (rs *RedisStore) ListPublic(ctx context.Context, since time.Time, offset, limit int) ([]*session.Session, error) {
	lower := strconv.FormatInt(since.UnixMilli(), 10)

	// 顺手清理过期的索引
	if err := rs.client.ZRemRangeByScore(ctx, publicGameKey, "-inf", "("+lower).Err(); err != nil {
		return nil, err
	}

	ids, err := rs.client.ZRevRangeByScore(ctx, publicGameKey, &redis.ZRangeBy{
		Min:    lower,
		Max:    "+inf",
		Offset: int64(offset),
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*session.Session{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = gameKey(id)
	}
	values, err := rs.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	games := make([]*session.Session, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // 文档已过期
		}
		doc, err := session.Decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		if doc.Settings.IsPublic {
			games = append(games, doc)
		}
	}
	return games, nil
}
