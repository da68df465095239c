/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"fmt"
	"net"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/vasayxtx/go-glob"

	"github.com/acronis/go-admission/admission"
	"github.com/acronis/go-admission/config"
)

const cfgDefaultRateLimitedKeyPrefix = "rateLimits"

// RateLimitedKeyType defines how the admission key of the request is obtained.
type RateLimitedKeyType string

// Admission key types.
// RateLimitedKeyTypeRemoteAddrRoute (remote host and route pattern) is the default.
// RateLimitedKeyTypeNoKey makes all requests share a single limiter of the rule.
const (
	RateLimitedKeyTypeRemoteAddrRoute RateLimitedKeyType = "remote_addr_route"
	RateLimitedKeyTypeRemoteAddr      RateLimitedKeyType = "remote_addr"
	RateLimitedKeyTypeHeader          RateLimitedKeyType = "header"
	RateLimitedKeyTypeNoKey           RateLimitedKeyType = "no_key"
)

// RateLimitedConfig represents named admission rules that may be attached to HTTP endpoints.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type RateLimitedConfig struct {
	// Rules maps a rule name to its configuration.
	// Note that viper lowercases map keys, so rule names should be in lower case.
	Rules map[string]RateLimitedRuleConfig `mapstructure:"rules" yaml:"rules" json:"rules"`

	keyPrefix string
}

var _ config.Config = (*RateLimitedConfig)(nil)
var _ config.KeyPrefixProvider = (*RateLimitedConfig)(nil)

// RateLimitedConfigOption is a type for functional options for the RateLimitedConfig.
type RateLimitedConfigOption func(*rateLimitedConfigOptions)

type rateLimitedConfigOptions struct {
	keyPrefix string
}

// WithRateLimitedKeyPrefix returns a RateLimitedConfigOption that sets a key prefix for parsing configuration parameters.
func WithRateLimitedKeyPrefix(keyPrefix string) RateLimitedConfigOption {
	return func(o *rateLimitedConfigOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewRateLimitedConfig creates a new instance of the RateLimitedConfig.
func NewRateLimitedConfig(options ...RateLimitedConfigOption) *RateLimitedConfig {
	opts := rateLimitedConfigOptions{keyPrefix: cfgDefaultRateLimitedKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &RateLimitedConfig{keyPrefix: opts.keyPrefix}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *RateLimitedConfig) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultRateLimitedKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults is part of config.Config interface implementation.
func (c *RateLimitedConfig) SetProviderDefaults(_ config.DataProvider) {
}

// Set sets rules from config.DataProvider.
// Implements config.Config interface.
func (c *RateLimitedConfig) Set(dp config.DataProvider) error {
	if err := dp.Unmarshal(c, func(decoderConfig *mapstructure.DecoderConfig) {
		decoderConfig.DecodeHook = MapstructureDecodeHook()
	}); err != nil {
		return err
	}
	return c.Validate()
}

// Validate validates all rules.
func (c *RateLimitedConfig) Validate() error {
	names := make([]string, 0, len(c.Rules))
	for name := range c.Rules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rule := c.Rules[name]
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("validate rate limited rule %q: %w", name, err)
		}
	}
	return nil
}

// Middleware builds RateLimited middleware for the named rule.
// Rule, GetKey, ResponseStatusCode and DryRun of opts are overridden by the rule configuration.
func (c *RateLimitedConfig) Middleware(
	rule string, acquirer Acquirer, errDomain string, opts RateLimitedOpts,
) (func(next http.Handler) http.Handler, error) {
	ruleCfg, ok := c.Rules[rule]
	if !ok {
		return nil, fmt.Errorf("rate limited rule %q is not configured", rule)
	}
	if opts.GetRoutePattern == nil {
		opts.GetRoutePattern = GetChiRoutePattern
	}
	getKey, err := ruleCfg.makeGetKeyFunc(opts.GetRoutePattern)
	if err != nil {
		return nil, fmt.Errorf("rate limited rule %q: %w", rule, err)
	}
	opts.Rule = rule
	opts.GetKey = getKey
	opts.ResponseStatusCode = ruleCfg.ResponseStatusCode
	opts.DryRun = ruleCfg.DryRun
	return RateLimitedMiddleware(acquirer, ruleCfg.RateLimited(), errDomain, opts)
}

// RateLimitedRuleConfig represents a single admission rule.
type RateLimitedRuleConfig struct {
	Capacity           int                  `mapstructure:"capacity" yaml:"capacity" json:"capacity"`
	Window             config.TimeDuration  `mapstructure:"window" yaml:"window" json:"window"`
	Algorithm          admission.Algorithm  `mapstructure:"algorithm" yaml:"algorithm" json:"algorithm"`
	Key                RateLimitedKeyConfig `mapstructure:"key" yaml:"key" json:"key"`
	ExcludedKeys       []string             `mapstructure:"excludedKeys" yaml:"excludedKeys" json:"excludedKeys"`
	ResponseStatusCode int                  `mapstructure:"responseStatusCode" yaml:"responseStatusCode" json:"responseStatusCode"`
	DryRun             bool                 `mapstructure:"dryRun" yaml:"dryRun" json:"dryRun"`
}

// RateLimited returns the limit declared by the rule.
func (c *RateLimitedRuleConfig) RateLimited() RateLimited {
	return RateLimited{Capacity: c.Capacity, Window: time.Duration(c.Window), Algorithm: c.Algorithm}
}

// Validate validates the rule.
func (c *RateLimitedRuleConfig) Validate() error {
	if err := c.RateLimited().LimiterConfig().Validate(); err != nil {
		return err
	}
	if err := c.Key.Validate(); err != nil {
		return err
	}
	if c.Key.Type == RateLimitedKeyTypeNoKey && len(c.ExcludedKeys) != 0 {
		return fmt.Errorf("excluded keys cannot be used with %q key type", RateLimitedKeyTypeNoKey)
	}
	if c.ResponseStatusCode != 0 && (c.ResponseStatusCode < 400 || c.ResponseStatusCode > 599) {
		return fmt.Errorf("response status code should be in [400, 599], got %d", c.ResponseStatusCode)
	}
	return nil
}

// RateLimitedKeyConfig represents a configuration of the admission key.
type RateLimitedKeyConfig struct {
	// Type determines how the key is obtained. RateLimitedKeyTypeRemoteAddrRoute is used if empty.
	Type RateLimitedKeyType `mapstructure:"type" yaml:"type" json:"type"`

	// HeaderName is a name of the HTTP request header which value will be used as a key.
	// Matters only when Type is a "header".
	HeaderName string `mapstructure:"headerName" yaml:"headerName" json:"headerName"`

	// NoBypassEmpty specifies whether admission will be used if the header value is empty.
	NoBypassEmpty bool `mapstructure:"noBypassEmpty" yaml:"noBypassEmpty" json:"noBypassEmpty"`
}

// Validate validates the key configuration.
func (c *RateLimitedKeyConfig) Validate() error {
	switch c.Type {
	case "", RateLimitedKeyTypeRemoteAddrRoute, RateLimitedKeyTypeRemoteAddr, RateLimitedKeyTypeNoKey:
	case RateLimitedKeyTypeHeader:
		if c.HeaderName == "" {
			return fmt.Errorf("header name should be specified for %q key type", RateLimitedKeyTypeHeader)
		}
	default:
		return fmt.Errorf("unknown key type %q", c.Type)
	}
	return nil
}

func (c *RateLimitedRuleConfig) makeGetKeyFunc(getRoutePattern RoutePatternGetterFunc) (RateLimitedGetKeyFunc, error) {
	var getKey RateLimitedGetKeyFunc
	switch c.Key.Type {
	case "", RateLimitedKeyTypeRemoteAddrRoute:
		getKey = MakeRemoteHostAndRouteKeyFunc(getRoutePattern)
	case RateLimitedKeyTypeRemoteAddr:
		getKey = func(r *http.Request) (string, bool, error) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			return host, false, err
		}
	case RateLimitedKeyTypeHeader:
		headerName, noBypassEmpty := c.Key.HeaderName, c.Key.NoBypassEmpty
		getKey = func(r *http.Request) (string, bool, error) {
			headerVal := strings.TrimSpace(r.Header.Get(headerName))
			return headerVal, headerVal == "" && !noBypassEmpty, nil
		}
	case RateLimitedKeyTypeNoKey:
		return func(*http.Request) (string, bool, error) { return "", false, nil }, nil
	default:
		return nil, fmt.Errorf("unknown key type %q", c.Key.Type)
	}
	if len(c.ExcludedKeys) == 0 {
		return getKey, nil
	}

	excluded := make([]func(s string) bool, 0, len(c.ExcludedKeys))
	for _, pattern := range c.ExcludedKeys {
		excluded = append(excluded, glob.Compile(pattern))
	}
	return func(r *http.Request) (string, bool, error) {
		key, bypass, err := getKey(r)
		if err != nil || bypass {
			return key, bypass, err
		}
		for _, match := range excluded {
			if match(key) {
				return key, true, nil
			}
		}
		return key, false, nil
	}, nil
}

// MapstructureDecodeHook returns a DecodeHookFunc for the mapstructure package
// that handles durations, algorithm names and untrimmed strings in key lists.
func MapstructureDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructureTrimSpaceStringsHookFunc(),
	)
}

func mapstructureTrimSpaceStringsHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Kind, t reflect.Kind, data interface{}) (interface{}, error) {
		if f != reflect.Slice || t != reflect.Slice {
			return data, nil
		}
		switch dt := data.(type) {
		case []string:
			res := make([]string, 0, len(dt))
			for _, s := range dt {
				res = append(res, strings.TrimSpace(s))
			}
			return res, nil
		case []interface{}:
			res := make([]interface{}, 0, len(dt))
			for _, v := range dt {
				if s, ok := v.(string); ok {
					res = append(res, strings.TrimSpace(s))
					continue
				}
				res = append(res, v)
			}
			return res, nil
		}
		return data, nil
	}
}
