package cache

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/smallbiznis/allowance/internal/config"
	"github.com/smallbiznis/allowance/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("cache",
	fx.Provide(NewRouteFeatureCache),
	fx.Provide(NewInvalidator),
	fx.Invoke(RegisterSubscriber),
)

type InvalidatorParams struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

// NewInvalidator returns the Redis broadcaster when REDIS_ADDR is set and a
// no-op one otherwise.
func NewInvalidator(p InvalidatorParams) (Invalidator, error) {
	origin := uuid.NewString()
	if !p.Cfg.Redis.Enabled() {
		p.Log.Info("route cache invalidation broadcast disabled", zap.String("reason", "redis not configured"))
		return NewNoopInvalidator(origin), nil
	}
	return NewRedisInvalidator(context.Background(), RedisOptions{
		Addr:     p.Cfg.Redis.Addr,
		Password: p.Cfg.Redis.Password,
		DB:       p.Cfg.Redis.DB,
		Channel:  p.Cfg.Redis.Channel,
		Origin:   origin,
	}, p.Log)
}

type SubscriberParams struct {
	fx.In

	Lc          fx.Lifecycle
	Cache       RouteFeatureCache
	Invalidator Invalidator
	Metrics     *metrics.Metrics `optional:"true"`
	Log         *zap.Logger
}

// RegisterSubscriber applies invalidations published by other replicas to
// the local route cache for the lifetime of the app.
func RegisterSubscriber(p SubscriberParams) {
	log := p.Log.Named("cache.subscriber")
	ctx, cancel := context.WithCancel(context.Background())

	p.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				err := p.Invalidator.Subscribe(ctx, func(msg InvalidationMessage) {
					if msg.Origin == p.Invalidator.Origin() {
						return
					}
					removed := Apply(p.Cache, msg)
					p.Metrics.RecordInvalidation(ctx, "broadcast")
					log.Debug("applied route cache invalidation",
						zap.String("action", string(msg.Action)),
						zap.String("operation_id", msg.OperationID),
						zap.Int("removed", removed),
					)
				})
				if err != nil && !errors.Is(err, context.Canceled) {
					log.Error("route cache invalidation subscriber stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return p.Invalidator.Close()
		},
	})
}
