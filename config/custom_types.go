/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v3"
)

// ByteSize represents a size in bytes that can be parsed from JSON, YAML and text.
// Both integers and human-readable strings ("100M", "1Gi") are accepted.
type ByteSize uint64

// UnmarshalJSON implements json.Unmarshaler interface.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	return b.UnmarshalText([]byte(strings.Trim(string(data), `"`)))
}

// UnmarshalYAML implements yaml.Unmarshaler interface.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("invalid byte size format: %v", value.Value)
	}
	return b.UnmarshalText([]byte(value.Value))
}

// UnmarshalText implements encoding.TextUnmarshaler interface, which is used by mapstructure.TextUnmarshallerHookFunc.
func (b *ByteSize) UnmarshalText(text []byte) error {
	bs, err := parseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = bs
	return nil
}

// String returns the human-readable string representation.
func (b ByteSize) String() string {
	return bytefmt.ByteSize(uint64(b))
}

// MarshalJSON implements json.Marshaler interface.
func (b ByteSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// MarshalYAML implements yaml.Marshaler interface.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return b.String(), nil
}

// MarshalText implements encoding.TextMarshaler interface.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func parseByteSize(s string) (ByteSize, error) {
	v := strings.TrimSpace(s)
	if num, err := strconv.ParseInt(v, 10, 64); err == nil {
		if num < 0 {
			return 0, fmt.Errorf("negative value is not allowed: %d", num)
		}
		return ByteSize(num), nil
	}
	// bytefmt treats all units as powers of two, so "Mi" is the same as "M".
	for _, suffix := range [...]string{"Ki", "Mi", "Gi", "Ti", "Pi", "Ei"} {
		if strings.HasSuffix(v, suffix) {
			v = v[:len(v)-1]
			break
		}
	}
	num, err := bytefmt.ToBytes(v)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size format (%s): %w", s, err)
	}
	return ByteSize(num), nil
}

// TimeDuration represents a time duration that can be parsed from JSON, YAML and text.
// Both integers (nanoseconds) and human-readable strings ("1h30m") are accepted, negative values are rejected.
type TimeDuration time.Duration

// UnmarshalJSON implements json.Unmarshaler interface.
func (d *TimeDuration) UnmarshalJSON(data []byte) error {
	return d.UnmarshalText([]byte(strings.Trim(string(data), `"`)))
}

// UnmarshalYAML implements yaml.Unmarshaler interface.
func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("invalid time duration format: %v", value.Value)
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText implements encoding.TextUnmarshaler interface, which is used by mapstructure.TextUnmarshallerHookFunc.
func (d *TimeDuration) UnmarshalText(text []byte) error {
	dur, err := parseTimeDuration(string(text))
	if err != nil {
		return err
	}
	*d = TimeDuration(dur)
	return nil
}

// String returns the human-readable string representation.
func (d TimeDuration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler interface.
func (d TimeDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// MarshalYAML implements yaml.Marshaler interface.
func (d TimeDuration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// MarshalText implements encoding.TextMarshaler interface.
func (d TimeDuration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func parseTimeDuration(s string) (time.Duration, error) {
	v := strings.TrimSpace(s)
	if num, err := strconv.ParseInt(v, 10, 64); err == nil {
		if num < 0 {
			return 0, fmt.Errorf("negative value is not allowed: %d", num)
		}
		return time.Duration(num), nil
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid time duration format (%s): %w", s, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("negative value is not allowed: %s", s)
	}
	return dur, nil
}
