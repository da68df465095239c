/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"io"
)

// Loader loads configuration values from data provider (with initializing default values before)
// and sets them in configuration objects.
type Loader struct {
	DataProvider DataProvider
}

// NewDefaultLoader creates a new configurations loader with an ability to read values from the environment variables.
// E.g. if envVarsPrefix is "admission_demo", the "server.address" key may be overridden by ADMISSION_DEMO_SERVER_ADDRESS.
func NewDefaultLoader(envVarsPrefix string) *Loader {
	va := NewViperAdapter()
	va.UseEnvVars(envVarsPrefix)
	return NewLoader(va)
}

// NewLoader creates a new configurations' loader.
func NewLoader(dp DataProvider) *Loader {
	return &Loader{dp}
}

// LoadFromFile loads configuration values from file and sets them in configuration objects.
func (l *Loader) LoadFromFile(path string, dataType DataType, cfg Config, cfgs ...Config) error {
	if err := l.DataProvider.SetFromFile(path, dataType); err != nil {
		return err
	}
	return l.load(append([]Config{cfg}, cfgs...))
}

// LoadFromReader loads configuration values from reader and sets them in configuration objects.
func (l *Loader) LoadFromReader(reader io.Reader, dataType DataType, cfg Config, cfgs ...Config) error {
	if err := l.DataProvider.SetFromReader(reader, dataType); err != nil {
		return err
	}
	return l.load(append([]Config{cfg}, cfgs...))
}

func (l *Loader) load(cfgs []Config) error {
	for _, cfg := range cfgs {
		cfg.SetProviderDefaults(providerFor(cfg, l.DataProvider))
	}
	for _, cfg := range cfgs {
		if err := cfg.Set(providerFor(cfg, l.DataProvider)); err != nil {
			return err
		}
	}
	return nil
}
