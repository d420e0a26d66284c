package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/palemoky/bad-cards/internal/game/session"
	"github.com/palemoky/bad-cards/internal/protocol/codec"
)

// DefaultChannel 所有游戏更新共用的频道
const DefaultChannel = "games"

// Handler 处理一条文档更新
type Handler func(ctx context.Context, doc *session.Session)

// RedisBus 基于 Redis Pub/Sub 的集群总线
type RedisBus struct {
	client  *redis.Client
	channel string
	codec   codec.Codec
	origin  string

	ready     chan struct{}
	readyOnce sync.Once
}

// NewRedisBus 创建总线
func NewRedisBus(client *redis.Client, channel string, c codec.Codec) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{
		client:  client,
		channel: channel,
		codec:   c,
		origin:  uuid.NewString(),
		ready:   make(chan struct{}),
	}
}

// Ready 订阅建立后关闭
func (b *RedisBus) Ready() <-chan struct{} {
	return b.ready
}

// Publish 发布完整文档
func (b *RedisBus) Publish(ctx context.Context, doc *session.Session) error {
	env, err := codec.Seal(doc, b.origin)
	if err != nil {
		return err
	}
	data, err := b.codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("编码总线消息失败: %w", err)
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Run 订阅频道并处理消息（包括本进程发布的），阻塞直到 ctx 结束
//
// 断线重连由 go-redis 负责，期间本进程的推送不可用。
func (b *RedisBus) Run(ctx context.Context, handle Handler) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("订阅频道 %s 失败: %w", b.channel, err)
	}
	b.readyOnce.Do(func() { close(b.ready) })
	log.Printf("📡 已订阅集群频道 %s (编码: %s)", b.channel, b.codec.Name())

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.dispatch(ctx, msg, handle)
		}
	}
}

func (b *RedisBus) dispatch(ctx context.Context, msg *redis.Message, handle Handler) {
	env, err := b.codec.Unmarshal([]byte(msg.Payload))
	if err != nil {
		log.Printf("⚠️ 丢弃无法解析的总线消息: %v", err)
		return
	}
	doc, err := env.Open()
	if err != nil {
		log.Printf("⚠️ 丢弃无法解析的游戏文档 %s: %v", env.GameID, err)
		return
	}
	handle(ctx, doc)
}
