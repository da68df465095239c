/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"io"
	"strings"
	"time"
)

// KeyPrefixedDataProvider is a DataProvider implementation that uses a specified key prefix for parsing configuration parameters.
// It allows a config object to use short keys ("address") while values are stored under the prefix ("server.address").
type KeyPrefixedDataProvider struct {
	delegate  DataProvider
	keyPrefix string
}

var _ DataProvider = (*KeyPrefixedDataProvider)(nil)

// NewKeyPrefixedDataProvider creates a new KeyPrefixedDataProvider.
func NewKeyPrefixedDataProvider(delegate DataProvider, keyPrefix string) *KeyPrefixedDataProvider {
	return &KeyPrefixedDataProvider{delegate: delegate, keyPrefix: keyPrefix}
}

func (kp *KeyPrefixedDataProvider) makeKey(key string) string {
	return strings.Trim(kp.keyPrefix+"."+key, ".")
}

// UseEnvVars enables the ability to use environment variables for configuration parameters.
func (kp *KeyPrefixedDataProvider) UseEnvVars(prefix string) {
	kp.delegate.UseEnvVars(prefix)
}

// Set sets the value for the prefixed key in the override register.
func (kp *KeyPrefixedDataProvider) Set(key string, value interface{}) {
	kp.delegate.Set(kp.makeKey(key), value)
}

// SetDefault sets the default value for the prefixed key.
func (kp *KeyPrefixedDataProvider) SetDefault(key string, value interface{}) {
	kp.delegate.SetDefault(kp.makeKey(key), value)
}

// IsSet checks to see if the prefixed key has been set in any of the data locations.
func (kp *KeyPrefixedDataProvider) IsSet(key string) bool {
	return kp.delegate.IsSet(kp.makeKey(key))
}

// Get retrieves any value given the prefixed key to use.
func (kp *KeyPrefixedDataProvider) Get(key string) interface{} {
	return kp.delegate.Get(kp.makeKey(key))
}

// SetFromFile reads configuration data from file. The prefix is not applied here.
func (kp *KeyPrefixedDataProvider) SetFromFile(path string, dataType DataType) error {
	return kp.delegate.SetFromFile(path, dataType)
}

// SetFromReader reads configuration data from reader. The prefix is not applied here.
func (kp *KeyPrefixedDataProvider) SetFromReader(reader io.Reader, dataType DataType) error {
	return kp.delegate.SetFromReader(reader, dataType)
}

// GetInt tries to retrieve the value associated with the prefixed key as an integer.
func (kp *KeyPrefixedDataProvider) GetInt(key string) (int, error) {
	return kp.delegate.GetInt(kp.makeKey(key))
}

// GetString tries to retrieve the value associated with the prefixed key as a string.
func (kp *KeyPrefixedDataProvider) GetString(key string) (string, error) {
	return kp.delegate.GetString(kp.makeKey(key))
}

// GetBool tries to retrieve the value associated with the prefixed key as a bool.
func (kp *KeyPrefixedDataProvider) GetBool(key string) (bool, error) {
	return kp.delegate.GetBool(kp.makeKey(key))
}

// GetStringSlice tries to retrieve the value associated with the prefixed key as a slice of strings.
func (kp *KeyPrefixedDataProvider) GetStringSlice(key string) ([]string, error) {
	return kp.delegate.GetStringSlice(kp.makeKey(key))
}

// GetStringFromSet tries to retrieve the value associated with the prefixed key as a string from the specified set.
func (kp *KeyPrefixedDataProvider) GetStringFromSet(key string, set []string, ignoreCase bool) (string, error) {
	return kp.delegate.GetStringFromSet(kp.makeKey(key), set, ignoreCase)
}

// GetDuration tries to retrieve the value associated with the prefixed key as a duration.
func (kp *KeyPrefixedDataProvider) GetDuration(key string) (time.Duration, error) {
	return kp.delegate.GetDuration(kp.makeKey(key))
}

// GetByteSize tries to retrieve the value associated with the prefixed key as a size in bytes.
func (kp *KeyPrefixedDataProvider) GetByteSize(key string) (ByteSize, error) {
	return kp.delegate.GetByteSize(kp.makeKey(key))
}

// Unmarshal unmarshals the subtree under the prefix into a Struct.
func (kp *KeyPrefixedDataProvider) Unmarshal(rawVal interface{}, opts ...DecoderConfigOption) error {
	return kp.delegate.UnmarshalKey(kp.keyPrefix, rawVal, opts...)
}

// UnmarshalKey takes a single prefixed key and unmarshals it into a Struct.
func (kp *KeyPrefixedDataProvider) UnmarshalKey(key string, rawVal interface{}, opts ...DecoderConfigOption) error {
	return kp.delegate.UnmarshalKey(kp.makeKey(key), rawVal, opts...)
}

// WrapKeyErr wraps error adding information about the prefixed key where this error occurs.
func (kp *KeyPrefixedDataProvider) WrapKeyErr(key string, err error) error {
	return WrapKeyErr(kp.makeKey(key), err)
}
