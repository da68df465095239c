/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import "reflect"

// Config is a common interface for configuration objects that may be used by Loader.
// SetProviderDefaults is called for all objects before any Set call.
type Config interface {
	SetProviderDefaults(dp DataProvider)
	Set(dp DataProvider) error
}

// KeyPrefixProvider is an interface for providing key prefix that will be used for configuration parameters.
type KeyPrefixProvider interface {
	KeyPrefix() string
}

// providerFor returns dp wrapped with the key prefix of cfg (if it has a non-empty one).
func providerFor(cfg Config, dp DataProvider) DataProvider {
	if kp, ok := cfg.(KeyPrefixProvider); ok && kp.KeyPrefix() != "" {
		return NewKeyPrefixedDataProvider(dp, kp.KeyPrefix())
	}
	return dp
}

// configFields returns all exported non-nil fields of the struct pointed by obj that implement Config.
func configFields(obj interface{}) []Config {
	el := reflect.ValueOf(obj).Elem()
	var cfgs []Config
	for i := 0; i < el.NumField(); i++ {
		if !el.Type().Field(i).IsExported() {
			continue
		}
		field := el.Field(i)
		if field.Kind() == reflect.Ptr && field.IsNil() {
			continue
		}
		if c, ok := field.Interface().(Config); ok {
			cfgs = append(cfgs, c)
		}
	}
	return cfgs
}

// CallSetProviderDefaultsForFields finds all initialized (non-nil) fields of the passed object
// that implement Config interface and calls SetProviderDefaults() method for each of them.
// It allows aggregating configs of several packages into a single application config.
func CallSetProviderDefaultsForFields(obj interface{}, dp DataProvider) {
	for _, c := range configFields(obj) {
		c.SetProviderDefaults(providerFor(c, dp))
	}
}

// CallSetForFields finds all initialized (non-nil) fields of the passed object
// that implement Config interface and calls Set() method for each of them.
func CallSetForFields(obj interface{}, dp DataProvider) error {
	for _, c := range configFields(obj) {
		if err := c.Set(providerFor(c, dp)); err != nil {
			return err
		}
	}
	return nil
}
