package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// NoSubscriptionPolicy decides what happens when a workspace without an active
// subscription hits a metered operation.
type NoSubscriptionPolicy string

const (
	PolicyFailClosed NoSubscriptionPolicy = "fail_closed"
	PolicyFailOpen   NoSubscriptionPolicy = "fail_open"
)

type EnforcementConfig struct {
	NoSubscriptionPolicy NoSubscriptionPolicy `mapstructure:"noSubscriptionPolicy"`
	RouteCacheTTL        time.Duration        `mapstructure:"routeCacheTTL"`
}

func DefaultEnforcementConfig() EnforcementConfig {
	return EnforcementConfig{
		NoSubscriptionPolicy: PolicyFailClosed,
		RouteCacheTTL:        5 * time.Minute,
	}
}

func (c EnforcementConfig) FailOpen() bool {
	return c.NoSubscriptionPolicy == PolicyFailOpen
}

// EnforcementConfigHolder serves the current enforcement settings and swaps
// them atomically when enforcement.yml changes on disk.
type EnforcementConfigHolder struct {
	current atomic.Value // holds EnforcementConfig
}

// NewStaticEnforcementConfig returns a holder that never reloads.
func NewStaticEnforcementConfig(cfg EnforcementConfig) *EnforcementConfigHolder {
	holder := &EnforcementConfigHolder{}
	holder.current.Store(normalizeEnforcementConfig(cfg))
	return holder
}

func NewEnforcementConfigHolder(cfg Config, log *zap.Logger) (*EnforcementConfigHolder, error) {
	log = log.Named("config.enforcement")
	v := viper.New()

	v.SetConfigName("enforcement")
	v.SetConfigType("yml")
	for _, path := range cfg.EnforcementConfigPaths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("ALLOWANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultEnforcementConfig()
	v.SetDefault("enforcement.noSubscriptionPolicy", string(defaults.NoSubscriptionPolicy))
	v.SetDefault("enforcement.routeCacheTTL", defaults.RouteCacheTTL)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	loaded, err := unmarshalEnforcement(v)
	if err != nil {
		return nil, err
	}

	holder := &EnforcementConfigHolder{}
	holder.current.Store(loaded)
	log.Info("enforcement config loaded",
		zap.String("policy", string(loaded.NoSubscriptionPolicy)),
		zap.Duration("route_cache_ttl", loaded.RouteCacheTTL),
		zap.Bool("from_file", fileFound),
	)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := unmarshalEnforcement(v)
			if err != nil {
				log.Warn("enforcement config reload ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("enforcement config reloaded",
				zap.String("file", e.Name),
				zap.String("policy", string(updated.NoSubscriptionPolicy)),
			)
		})
	}

	return holder, nil
}

func (h *EnforcementConfigHolder) Get() EnforcementConfig {
	if h == nil {
		return DefaultEnforcementConfig()
	}
	value, ok := h.current.Load().(EnforcementConfig)
	if !ok {
		return DefaultEnforcementConfig()
	}
	return value
}

func unmarshalEnforcement(v *viper.Viper) (EnforcementConfig, error) {
	var cfg EnforcementConfig
	if err := v.UnmarshalKey("enforcement", &cfg); err != nil {
		return EnforcementConfig{}, err
	}
	if err := validateEnforcementConfig(cfg); err != nil {
		return EnforcementConfig{}, err
	}
	return normalizeEnforcementConfig(cfg), nil
}

func validateEnforcementConfig(cfg EnforcementConfig) error {
	switch cfg.NoSubscriptionPolicy {
	case PolicyFailClosed, PolicyFailOpen:
	default:
		return fmt.Errorf("enforcement.noSubscriptionPolicy %q is not supported", cfg.NoSubscriptionPolicy)
	}
	if cfg.RouteCacheTTL < 0 {
		return errors.New("enforcement.routeCacheTTL cannot be negative")
	}
	return nil
}

func normalizeEnforcementConfig(cfg EnforcementConfig) EnforcementConfig {
	if cfg.NoSubscriptionPolicy == "" {
		cfg.NoSubscriptionPolicy = PolicyFailClosed
	}
	if cfg.RouteCacheTTL == 0 {
		cfg.RouteCacheTTL = DefaultEnforcementConfig().RouteCacheTTL
	}
	return cfg
}
