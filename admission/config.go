/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"fmt"
	"time"

	"github.com/acronis/go-admission/config"
)

const cfgDefaultKeyPrefix = "admission"

const (
	cfgKeyShards                         = "shards"
	cfgKeyMaxKeys                        = "maxKeys"
	cfgKeySweepInterval                  = "sweep.interval"
	cfgKeySweepRetention                 = "sweep.retention"
	cfgKeySweepRetentionFloor            = "sweep.retentionFloor"
	cfgKeySweepRetentionWindowMultiplier = "sweep.retentionWindowMultiplier"
)

const (
	defaultShards                         = DefaultShardsNum
	defaultSweepInterval                  = time.Second * 15
	defaultSweepRetentionFloor            = time.Minute
	defaultSweepRetentionWindowMultiplier = 4
)

// Config represents a set of configuration parameters for the admission Controller.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	// ShardsNum is a number of registry shards. It's rounded up to a power of two.
	ShardsNum int `mapstructure:"shards" yaml:"shards" json:"shards"`

	// MaxKeys is a hard limit of keys in the registry. Zero means no limit.
	MaxKeys int `mapstructure:"maxKeys" yaml:"maxKeys" json:"maxKeys"`

	Sweep SweepConfig `mapstructure:"sweep" yaml:"sweep" json:"sweep"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// SweepConfig represents a set of configuration parameters for removing idle keys.
type SweepConfig struct {
	// Interval is a delay between sweep passes.
	Interval config.TimeDuration `mapstructure:"interval" yaml:"interval" json:"interval"`

	// Retention is a fixed idle time after which the key is removed.
	// If it's zero, retention is max(RetentionFloor, RetentionWindowMultiplier * the longest window seen).
	Retention config.TimeDuration `mapstructure:"retention" yaml:"retention" json:"retention"`

	RetentionFloor            config.TimeDuration `mapstructure:"retentionFloor" yaml:"retentionFloor" json:"retentionFloor"`
	RetentionWindowMultiplier int                 `mapstructure:"retentionWindowMultiplier" yaml:"retentionWindowMultiplier" json:"retentionWindowMultiplier"` //nolint:lll
}

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	cfg := NewConfig(options...)
	cfg.ShardsNum = defaultShards
	cfg.Sweep = SweepConfig{
		Interval:                  config.TimeDuration(defaultSweepInterval),
		RetentionFloor:            config.TimeDuration(defaultSweepRetentionFloor),
		RetentionWindowMultiplier: defaultSweepRetentionWindowMultiplier,
	}
	return cfg
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the admission controller in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyShards, defaultShards)
	dp.SetDefault(cfgKeyMaxKeys, 0)
	dp.SetDefault(cfgKeySweepInterval, defaultSweepInterval)
	dp.SetDefault(cfgKeySweepRetention, time.Duration(0))
	dp.SetDefault(cfgKeySweepRetentionFloor, defaultSweepRetentionFloor)
	dp.SetDefault(cfgKeySweepRetentionWindowMultiplier, defaultSweepRetentionWindowMultiplier)
}

// Set sets admission controller configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.ShardsNum, err = dp.GetInt(cfgKeyShards); err != nil {
		return err
	}
	if c.ShardsNum < 1 {
		return dp.WrapKeyErr(cfgKeyShards, fmt.Errorf("must be positive"))
	}

	if c.MaxKeys, err = dp.GetInt(cfgKeyMaxKeys); err != nil {
		return err
	}
	if c.MaxKeys < 0 {
		return dp.WrapKeyErr(cfgKeyMaxKeys, fmt.Errorf("must not be negative"))
	}

	return c.Sweep.Set(dp)
}

// Set sets sweep configuration values from config.DataProvider.
func (s *SweepConfig) Set(dp config.DataProvider) error {
	var err error
	var dur time.Duration

	if dur, err = dp.GetDuration(cfgKeySweepInterval); err != nil {
		return err
	}
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeySweepInterval, fmt.Errorf("must be positive"))
	}
	s.Interval = config.TimeDuration(dur)

	if dur, err = dp.GetDuration(cfgKeySweepRetention); err != nil {
		return err
	}
	if dur < 0 {
		return dp.WrapKeyErr(cfgKeySweepRetention, fmt.Errorf("must not be negative"))
	}
	s.Retention = config.TimeDuration(dur)

	if dur, err = dp.GetDuration(cfgKeySweepRetentionFloor); err != nil {
		return err
	}
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeySweepRetentionFloor, fmt.Errorf("must be positive"))
	}
	s.RetentionFloor = config.TimeDuration(dur)

	if s.RetentionWindowMultiplier, err = dp.GetInt(cfgKeySweepRetentionWindowMultiplier); err != nil {
		return err
	}
	if s.RetentionWindowMultiplier < 1 {
		return dp.WrapKeyErr(cfgKeySweepRetentionWindowMultiplier, fmt.Errorf("must be positive"))
	}

	return nil
}

// Validate checks values of the configuration that was filled without config.Loader.
func (c *Config) Validate() error {
	if c.ShardsNum < 0 {
		return fmt.Errorf("%s: must not be negative", cfgKeyShards)
	}
	if c.MaxKeys < 0 {
		return fmt.Errorf("%s: must not be negative", cfgKeyMaxKeys)
	}
	if c.Sweep.Interval < 0 {
		return fmt.Errorf("%s: must not be negative", cfgKeySweepInterval)
	}
	if c.Sweep.Retention < 0 {
		return fmt.Errorf("%s: must not be negative", cfgKeySweepRetention)
	}
	if c.Sweep.RetentionFloor < 0 {
		return fmt.Errorf("%s: must not be negative", cfgKeySweepRetentionFloor)
	}
	if c.Sweep.RetentionWindowMultiplier < 0 {
		return fmt.Errorf("%s: must not be negative", cfgKeySweepRetentionWindowMultiplier)
	}
	return nil
}

// withDefaults returns a copy of the configuration where zero values are replaced with defaults.
func (c *Config) withDefaults() Config {
	res := *c
	if res.ShardsNum == 0 {
		res.ShardsNum = defaultShards
	}
	if res.Sweep.Interval == 0 {
		res.Sweep.Interval = config.TimeDuration(defaultSweepInterval)
	}
	if res.Sweep.RetentionFloor == 0 {
		res.Sweep.RetentionFloor = config.TimeDuration(defaultSweepRetentionFloor)
	}
	if res.Sweep.RetentionWindowMultiplier == 0 {
		res.Sweep.RetentionWindowMultiplier = defaultSweepRetentionWindowMultiplier
	}
	return res
}
