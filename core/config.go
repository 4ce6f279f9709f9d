package core

import (
	"fmt"
	"strings"
	"time"
)

type RoutingConfig struct {
	DefaultChannel string `koanf:"default_channel" mapstructure:"default_channel" yaml:"default_channel"`
}

type FallbackConfig struct {
	Enabled     bool              `koanf:"enabled" mapstructure:"enabled" yaml:"enabled"`
	MaxAttempts int               `koanf:"max_attempts" mapstructure:"max_attempts" yaml:"max_attempts"`
	Chains      map[string]string `koanf:"chains" mapstructure:"chains" yaml:"chains"`
}

type BreakerConfig struct {
	FailureRateThreshold float64                  `koanf:"failure_rate_threshold" mapstructure:"failure_rate_threshold" yaml:"failure_rate_threshold"`
	MinimumCalls         int                      `koanf:"minimum_calls" mapstructure:"minimum_calls" yaml:"minimum_calls"`
	Interval             time.Duration            `koanf:"interval" mapstructure:"interval" yaml:"interval"`
	OpenDuration         time.Duration            `koanf:"open_duration" mapstructure:"open_duration" yaml:"open_duration"`
	HalfOpenMaxCalls     int                      `koanf:"half_open_max_calls" mapstructure:"half_open_max_calls" yaml:"half_open_max_calls"`
	DefaultTimeout       time.Duration            `koanf:"default_timeout" mapstructure:"default_timeout" yaml:"default_timeout"`
	ChannelTimeouts      map[string]time.Duration `koanf:"channel_timeouts" mapstructure:"channel_timeouts" yaml:"channel_timeouts"`
}

type DegradedConfig struct {
	ErrorRateThreshold float64       `koanf:"error_rate_threshold" mapstructure:"error_rate_threshold" yaml:"error_rate_threshold"`
	RecoveryThreshold  float64       `koanf:"recovery_threshold" mapstructure:"recovery_threshold" yaml:"recovery_threshold"`
	SustainWindow      time.Duration `koanf:"sustain_window" mapstructure:"sustain_window" yaml:"sustain_window"`
	RecoveryWindow     time.Duration `koanf:"recovery_window" mapstructure:"recovery_window" yaml:"recovery_window"`
	MinDuration        time.Duration `koanf:"min_duration" mapstructure:"min_duration" yaml:"min_duration"`
	MaxOpenBreakers    int           `koanf:"max_open_breakers" mapstructure:"max_open_breakers" yaml:"max_open_breakers"`
	MinSamples         int           `koanf:"min_samples" mapstructure:"min_samples" yaml:"min_samples"`
	SampleWindow       time.Duration `koanf:"sample_window" mapstructure:"sample_window" yaml:"sample_window"`
	CheckInterval      time.Duration `koanf:"check_interval" mapstructure:"check_interval" yaml:"check_interval"`
}

type IdempotencyConfig struct {
	TTL           time.Duration `koanf:"ttl" mapstructure:"ttl" yaml:"ttl"`
	PendingLease  time.Duration `koanf:"pending_lease" mapstructure:"pending_lease" yaml:"pending_lease"`
	SweepInterval time.Duration `koanf:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

type ChallengeConfig struct {
	TTL        time.Duration `koanf:"ttl" mapstructure:"ttl" yaml:"ttl"`
	CodeLength int           `koanf:"code_length" mapstructure:"code_length" yaml:"code_length"`
}

type RequestConfig struct {
	TTL time.Duration `koanf:"ttl" mapstructure:"ttl" yaml:"ttl"`
}

type Config struct {
	ServiceName string            `koanf:"service_name" mapstructure:"service_name" yaml:"service_name"`
	Routing     RoutingConfig     `koanf:"routing" mapstructure:"routing" yaml:"routing"`
	Fallback    FallbackConfig    `koanf:"fallback" mapstructure:"fallback" yaml:"fallback"`
	Breaker     BreakerConfig     `koanf:"breaker" mapstructure:"breaker" yaml:"breaker"`
	Degraded    DegradedConfig    `koanf:"degraded" mapstructure:"degraded" yaml:"degraded"`
	Idempotency IdempotencyConfig `koanf:"idempotency" mapstructure:"idempotency" yaml:"idempotency"`
	Challenge   ChallengeConfig   `koanf:"challenge" mapstructure:"challenge" yaml:"challenge"`
	Request     RequestConfig     `koanf:"request" mapstructure:"request" yaml:"request"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "signatures",
		Routing: RoutingConfig{
			DefaultChannel: string(ChannelSMS),
		},
		Fallback: FallbackConfig{
			Enabled:     true,
			MaxAttempts: 3,
			Chains: map[string]string{
				string(ChannelPush):      string(ChannelSMS),
				string(ChannelSMS):       string(ChannelVoice),
				string(ChannelBiometric): string(ChannelPush),
			},
		},
		Breaker: BreakerConfig{
			FailureRateThreshold: 0.5,
			MinimumCalls:         10,
			Interval:             60 * time.Second,
			OpenDuration:         30 * time.Second,
			HalfOpenMaxCalls:     1,
			DefaultTimeout:       5 * time.Second,
			ChannelTimeouts: map[string]time.Duration{
				string(ChannelPush):      3 * time.Second,
				string(ChannelSMS):       5 * time.Second,
				string(ChannelBiometric): 5 * time.Second,
				string(ChannelVoice):     10 * time.Second,
			},
		},
		Degraded: DegradedConfig{
			ErrorRateThreshold: 0.8,
			RecoveryThreshold:  0.5,
			SustainWindow:      30 * time.Second,
			RecoveryWindow:     60 * time.Second,
			MinDuration:        120 * time.Second,
			MaxOpenBreakers:    2,
			MinSamples:         10,
			SampleWindow:       60 * time.Second,
			CheckInterval:      10 * time.Second,
		},
		Idempotency: IdempotencyConfig{
			TTL:           24 * time.Hour,
			PendingLease:  5 * time.Minute,
			SweepInterval: 15 * time.Minute,
		},
		Challenge: ChallengeConfig{
			TTL:        5 * time.Minute,
			CodeLength: 6,
		},
		Request: RequestConfig{
			TTL: 15 * time.Minute,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Fallback.MaxAttempts < 1 {
		return fmt.Errorf("core: fallback.max_attempts must be at least 1")
	}
	for from, to := range c.Fallback.Chains {
		if _, err := ParseChannel(from); err != nil {
			return fmt.Errorf("core: fallback.chains key: %w", err)
		}
		if _, err := ParseChannel(to); err != nil {
			return fmt.Errorf("core: fallback.chains[%s]: %w", from, err)
		}
	}
	if c.Breaker.FailureRateThreshold <= 0 || c.Breaker.FailureRateThreshold > 1 {
		return fmt.Errorf("core: breaker.failure_rate_threshold must be within (0,1]")
	}
	if c.Breaker.OpenDuration <= 0 || c.Breaker.Interval <= 0 {
		return fmt.Errorf("core: breaker.open_duration and breaker.interval must be positive")
	}
	for channel, timeout := range c.Breaker.ChannelTimeouts {
		if _, err := ParseChannel(channel); err != nil {
			return fmt.Errorf("core: breaker.channel_timeouts key: %w", err)
		}
		if timeout <= 0 {
			return fmt.Errorf("core: breaker.channel_timeouts[%s] must be positive", channel)
		}
	}
	if c.Degraded.ErrorRateThreshold <= 0 || c.Degraded.ErrorRateThreshold > 1 {
		return fmt.Errorf("core: degraded.error_rate_threshold must be within (0,1]")
	}
	if c.Degraded.RecoveryThreshold <= 0 || c.Degraded.RecoveryThreshold >= c.Degraded.ErrorRateThreshold {
		return fmt.Errorf("core: degraded.recovery_threshold must be positive and below error_rate_threshold")
	}
	if c.Degraded.MinDuration < 0 || c.Degraded.SustainWindow < 0 || c.Degraded.RecoveryWindow < 0 {
		return fmt.Errorf("core: degraded windows must not be negative")
	}
	if c.Idempotency.TTL <= 0 {
		return fmt.Errorf("core: idempotency.ttl must be positive")
	}
	if c.Idempotency.PendingLease <= 0 || c.Idempotency.PendingLease > c.Idempotency.TTL {
		return fmt.Errorf("core: idempotency.pending_lease must be positive and at most idempotency.ttl")
	}
	if c.Challenge.TTL <= 0 || c.Request.TTL <= 0 {
		return fmt.Errorf("core: challenge.ttl and request.ttl must be positive")
	}
	if c.Challenge.CodeLength < 4 || c.Challenge.CodeLength > 12 {
		return fmt.Errorf("core: challenge.code_length must be between 4 and 12")
	}
	return nil
}

// DefaultChannel resolves the configured default, falling back to SMS when it is not a known channel.
func (c Config) DefaultChannel() (Channel, bool) {
	channel, err := ParseChannel(c.Routing.DefaultChannel)
	if err != nil {
		return SafeDefaultChannel, false
	}
	return channel, true
}

func (c Config) FallbackFor(channel Channel) (Channel, bool) {
	if !c.Fallback.Enabled {
		return "", false
	}
	for from, to := range c.Fallback.Chains {
		if !strings.EqualFold(strings.TrimSpace(from), string(channel)) {
			continue
		}
		next, err := ParseChannel(to)
		if err != nil {
			return "", false
		}
		return next, true
	}
	return "", false
}

func (c Config) TimeoutFor(channel Channel) time.Duration {
	for key, timeout := range c.Breaker.ChannelTimeouts {
		if strings.EqualFold(strings.TrimSpace(key), string(channel)) && timeout > 0 {
			return timeout
		}
	}
	if c.Breaker.DefaultTimeout > 0 {
		return c.Breaker.DefaultTimeout
	}
	return 5 * time.Second
}
