package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/palemoky/bad-cards/internal/game/card"
)

const (
	packKeyPrefix  = "pack:"
	packExpiration = 30 * 24 * time.Hour
)

// PackCache 远程卡包的 Redis 缓存，新鲜期由 StoredAt 判断
type PackCache struct {
	client *redis.Client
}

// NewPackCache 创建卡包缓存
func NewPackCache(client *redis.Client) *PackCache {
	return &PackCache{client: client}
}

// LoadPack 读取缓存，未命中返回 nil, nil
func (c *PackCache) LoadPack(ctx context.Context, id string) (*card.Pack, error) {
	data, err := c.client.Get(ctx, packKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var p card.Pack
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("反序列化卡包失败: %w", err)
	}
	return &p, nil
}

// SavePack 写入缓存
func (c *PackCache) SavePack(ctx context.Context, p *card.Pack) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("序列化卡包失败: %w", err)
	}
	return c.client.Set(ctx, packKeyPrefix+p.ID, data, packExpiration).Err()
}
