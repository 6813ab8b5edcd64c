package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/msea200/clipshare/internal/domain"
	"github.com/msea200/clipshare/internal/repository"
)

// DefaultKeyPrefix 未配置时使用的 key 前缀
const DefaultKeyPrefix = "cs:"

// 每个订阅的事件缓冲区大小
const subscriptionBuffer = 64

// RedisEventBus 基于 Redis Pub/Sub 的房间事件总线
type RedisEventBus struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisEventBus 创建事件总线实例
func NewRedisEventBus(client *redis.Client, keyPrefix string) *RedisEventBus {
	if client == nil {
		panic("redis client cannot be nil for RedisEventBus")
	}
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisEventBus{client: client, keyPrefix: keyPrefix}
}

// Channel 返回房间的 Pub/Sub 频道名
func (b *RedisEventBus) Channel(code string) string {
	return fmt.Sprintf("%sroom:%s:events", b.keyPrefix, code)
}

// Publish 将事件序列化为 JSON 并发布到房间频道
func (b *RedisEventBus) Publish(ctx context.Context, event domain.RoomEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal room event: %w", err)
	}
	if err := b.client.Publish(ctx, b.Channel(event.Code), payload).Err(); err != nil {
		return fmt.Errorf("redis: failed to publish to %s: %w", b.Channel(event.Code), err)
	}
	return nil
}

// Subscribe 订阅房间频道，返回的订阅在 Close 后关闭事件通道
func (b *RedisEventBus) Subscribe(ctx context.Context, code string) (repository.RoomSubscription, error) {
	channel := b.Channel(code)
	pubsub := b.client.Subscribe(ctx, channel)
	// 等待订阅确认，确保之后发布的消息不会丢失
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: failed to subscribe to %s: %w", channel, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan domain.RoomEvent, subscriptionBuffer),
		done:   make(chan struct{}),
	}
	go sub.pump(code)
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	events chan domain.RoomEvent
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) Events() <-chan domain.RoomEvent { return s.events }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

// pump 将 Redis 消息解码为 RoomEvent，直到订阅关闭
func (s *redisSubscription) pump(code string) {
	defer close(s.events)
	msgs := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var event domain.RoomEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logrus.WithError(err).WithField("room_code", code).Warn("redis: dropping malformed room event")
				continue
			}
			select {
			case s.events <- event:
			case <-s.done:
				return
			}
		}
	}
}
