package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultInvalidationChannel = "allowance:route_feature:invalidate"
	defaultCloseTimeout        = 5 * time.Second
)

type redisInvalidator struct {
	client     *redis.Client
	ownsClient bool
	channel    string
	origin     string
	log        *zap.Logger

	mu        sync.Mutex
	cancelFn  context.CancelFunc
	doneCh    chan struct{}
	doneOnce  sync.Once
	isRunning bool
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Origin   string
}

// NewRedisInvalidator connects to Redis and fails fast when it is unreachable.
func NewRedisInvalidator(ctx context.Context, opts RedisOptions, log *zap.Logger) (Invalidator, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	inv := NewRedisInvalidatorWithClient(client, opts.Channel, opts.Origin, log).(*redisInvalidator)
	inv.ownsClient = true
	return inv, nil
}

// NewRedisInvalidatorWithClient shares client; the caller keeps ownership.
func NewRedisInvalidatorWithClient(client *redis.Client, channel, origin string, log *zap.Logger) Invalidator {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &redisInvalidator{
		client:  client,
		channel: channel,
		origin:  origin,
		log:     log.Named("cache.invalidator"),
		doneCh:  make(chan struct{}),
	}
}

func (i *redisInvalidator) Origin() string { return i.origin }

func (i *redisInvalidator) Publish(ctx context.Context, msg InvalidationMessage) error {
	msg = stamp(msg, i.origin)

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal invalidation: %w", err)
	}
	if err := i.client.Publish(ctx, i.channel, data).Err(); err != nil {
		i.log.Error("publish route cache invalidation failed",
			zap.String("channel", i.channel),
			zap.String("operation_id", msg.OperationID),
			zap.Error(err),
		)
		return fmt.Errorf("publish invalidation: %w", err)
	}

	i.log.Debug("published route cache invalidation",
		zap.String("action", string(msg.Action)),
		zap.String("operation_id", msg.OperationID),
	)
	return nil
}

func (i *redisInvalidator) Subscribe(ctx context.Context, handle func(InvalidationMessage)) error {
	i.mu.Lock()
	if i.isRunning {
		i.mu.Unlock()
		return ErrSubscriptionRunning
	}
	i.isRunning = true
	subCtx, cancel := context.WithCancel(ctx)
	i.cancelFn = cancel
	i.mu.Unlock()

	defer func() {
		i.mu.Lock()
		i.isRunning = false
		i.mu.Unlock()
		i.markDone()
	}()

	pubsub := i.client.Subscribe(subCtx, i.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(subCtx); err != nil {
		return fmt.Errorf("subscribe %s: %w", i.channel, err)
	}
	i.log.Info("subscribed to route cache invalidations", zap.String("channel", i.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			i.log.Info("route cache invalidation subscription stopped")
			return subCtx.Err()
		case raw, ok := <-ch:
			if !ok {
				i.log.Warn("route cache invalidation channel closed")
				return nil
			}

			var msg InvalidationMessage
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				i.log.Error("decode route cache invalidation failed",
					zap.String("payload", raw.Payload),
					zap.Error(err),
				)
				continue
			}
			i.dispatch(handle, msg)
		}
	}
}

func (i *redisInvalidator) dispatch(handle func(InvalidationMessage), msg InvalidationMessage) {
	defer func() {
		if r := recover(); r != nil {
			i.log.Error("route cache invalidation handler panicked", zap.Any("panic", r))
		}
	}()
	handle(msg)
}

func (i *redisInvalidator) markDone() {
	i.doneOnce.Do(func() {
		close(i.doneCh)
	})
}

func (i *redisInvalidator) Close() error {
	i.mu.Lock()
	cancelFn := i.cancelFn
	i.mu.Unlock()

	if cancelFn != nil {
		cancelFn()
		select {
		case <-i.doneCh:
		case <-time.After(defaultCloseTimeout):
			i.log.Warn("timed out waiting for invalidation subscription to stop")
		}
	}

	if i.ownsClient {
		return i.client.Close()
	}
	return nil
}
