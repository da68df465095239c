/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"fmt"
	"time"

	"github.com/acronis/go-admission/config"
)

const cfgDefaultKeyPrefix = "server"

const (
	cfgKeyServerAddress              = "address"
	cfgKeyServerTimeoutsWrite        = "timeouts.write"
	cfgKeyServerTimeoutsRead         = "timeouts.read"
	cfgKeyServerTimeoutsReadHeader   = "timeouts.readHeader"
	cfgKeyServerTimeoutsIdle         = "timeouts.idle"
	cfgKeyServerTimeoutsShutdown     = "timeouts.shutdown"
	cfgKeyServerLogRequestStart      = "log.requestStart"
	cfgKeyServerLogExcludedEndpoints = "log.excludedEndpoints"
)

const (
	defaultServerAddress            = ":8080"
	defaultServerTimeoutsWrite      = time.Minute
	defaultServerTimeoutsRead       = time.Second * 15
	defaultServerTimeoutsReadHeader = time.Second * 10
	defaultServerTimeoutsIdle       = time.Minute
	defaultServerTimeoutsShutdown   = time.Second * 5
)

// Config represents a set of configuration parameters for HTTPServer.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	Address  string         `mapstructure:"address" yaml:"address" json:"address"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts" json:"timeouts"`
	Log      LogConfig      `mapstructure:"log" yaml:"log" json:"log"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

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
	cfg.Address = defaultServerAddress
	cfg.Timeouts = TimeoutsConfig{
		Write:      config.TimeDuration(defaultServerTimeoutsWrite),
		Read:       config.TimeDuration(defaultServerTimeoutsRead),
		ReadHeader: config.TimeDuration(defaultServerTimeoutsReadHeader),
		Idle:       config.TimeDuration(defaultServerTimeoutsIdle),
		Shutdown:   config.TimeDuration(defaultServerTimeoutsShutdown),
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

// SetProviderDefaults sets default configuration values for HTTPServer in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyServerAddress, defaultServerAddress)
	dp.SetDefault(cfgKeyServerTimeoutsWrite, defaultServerTimeoutsWrite)
	dp.SetDefault(cfgKeyServerTimeoutsRead, defaultServerTimeoutsRead)
	dp.SetDefault(cfgKeyServerTimeoutsReadHeader, defaultServerTimeoutsReadHeader)
	dp.SetDefault(cfgKeyServerTimeoutsIdle, defaultServerTimeoutsIdle)
	dp.SetDefault(cfgKeyServerTimeoutsShutdown, defaultServerTimeoutsShutdown)
	dp.SetDefault(cfgKeyServerLogRequestStart, false)
}

// Set sets HTTPServer configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Address, err = dp.GetString(cfgKeyServerAddress); err != nil {
		return err
	}
	if c.Address == "" {
		return dp.WrapKeyErr(cfgKeyServerAddress, fmt.Errorf("cannot be empty"))
	}

	if err = c.Timeouts.Set(dp); err != nil {
		return err
	}

	return c.Log.Set(dp)
}

// TimeoutsConfig represents a set of configuration parameters for HTTPServer relating to timeouts.
type TimeoutsConfig struct {
	Write      config.TimeDuration `mapstructure:"write" yaml:"write" json:"write"`
	Read       config.TimeDuration `mapstructure:"read" yaml:"read" json:"read"`
	ReadHeader config.TimeDuration `mapstructure:"readHeader" yaml:"readHeader" json:"readHeader"`
	Idle       config.TimeDuration `mapstructure:"idle" yaml:"idle" json:"idle"`
	Shutdown   config.TimeDuration `mapstructure:"shutdown" yaml:"shutdown" json:"shutdown"`
}

// Set sets timeout server configuration values from config.DataProvider.
func (t *TimeoutsConfig) Set(dp config.DataProvider) error {
	for _, item := range []struct {
		key string
		dst *config.TimeDuration
	}{
		{cfgKeyServerTimeoutsWrite, &t.Write},
		{cfgKeyServerTimeoutsRead, &t.Read},
		{cfgKeyServerTimeoutsReadHeader, &t.ReadHeader},
		{cfgKeyServerTimeoutsIdle, &t.Idle},
		{cfgKeyServerTimeoutsShutdown, &t.Shutdown},
	} {
		dur, err := dp.GetDuration(item.key)
		if err != nil {
			return err
		}
		if dur < 0 {
			return dp.WrapKeyErr(item.key, fmt.Errorf("cannot be negative"))
		}
		*item.dst = config.TimeDuration(dur)
	}
	return nil
}

// LogConfig represents a set of configuration parameters for HTTPServer relating to logging.
type LogConfig struct {
	RequestStart      bool     `mapstructure:"requestStart" yaml:"requestStart" json:"requestStart"`
	ExcludedEndpoints []string `mapstructure:"excludedEndpoints" yaml:"excludedEndpoints" json:"excludedEndpoints"`
}

// Set sets log server configuration values from config.DataProvider.
func (l *LogConfig) Set(dp config.DataProvider) error {
	var err error
	if l.RequestStart, err = dp.GetBool(cfgKeyServerLogRequestStart); err != nil {
		return err
	}
	if l.ExcludedEndpoints, err = dp.GetStringSlice(cfgKeyServerLogExcludedEndpoints); err != nil {
		return err
	}
	return nil
}
