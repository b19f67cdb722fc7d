package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/disbursement-approvals/internal/application/port"
	"github.com/garyjia/disbursement-approvals/internal/domain/event"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the pub/sub channel events are published on
const DefaultChannel = "disbursement_events"

// RedisConfig holds publisher connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisPublisher publishes domain events as JSON on a Redis channel
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisPublisher connects to Redis and verifies the connection
func NewRedisPublisher(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	logger.Info("Redis publisher connected", zap.String("addr", cfg.Addr), zap.String("channel", channel))
	return &RedisPublisher{rdb: rdb, channel: channel, logger: logger}, nil
}

// Channel returns the channel events are published on
func (p *RedisPublisher) Channel() string {
	return p.channel
}

// Publish implements port.EventPublisher
func (p *RedisPublisher) Publish(ctx context.Context, evt *event.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("Event published to redis",
		zap.String("channel", p.channel),
		zap.String("event_type", string(evt.Type)),
		zap.String("event_id", evt.ID))
	return nil
}

// Close implements port.EventPublisher
func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

// Verify interface compliance
var _ port.EventPublisher = (*RedisPublisher)(nil)
