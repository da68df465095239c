/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"fmt"
	"strings"

	"github.com/acronis/go-admission/config"
)

const cfgDefaultKeyPrefix = "log"

const (
	cfgKeyLevel                        = "level"
	cfgKeyFormat                       = "format"
	cfgKeyOutput                       = "output"
	cfgKeyNoColor                      = "nocolor"
	cfgKeyAddCaller                    = "addCaller"
	cfgKeyFilePath                     = "file.path"
	cfgKeyFileRotationCompress         = "file.rotation.compress"
	cfgKeyFileRotationMaxSize          = "file.rotation.maxSize"
	cfgKeyFileRotationMaxBackups       = "file.rotation.maxBackups"
	cfgKeyFileRotationMaxAgeDays       = "file.rotation.maxAgeDays"
	cfgKeyFileRotationLocalTimeInNames = "file.rotation.localTimeInNames"
	cfgKeyErrorNoVerbose               = "error.noVerbose"
	cfgKeyErrorVerboseSuffix           = "error.verboseSuffix"
)

// Default and restriction values.
const (
	DefaultFileRotationMaxSizeBytes = 1024 * 1024 * 250
	MinFileRotationMaxSizeBytes     = 1024 * 1024

	DefaultFileRotationMaxBackups = 10
	MinFileRotationMaxBackups     = 1

	defaultErrorVerboseSuffix = "_verbose"
)

// Level defines possible values for log levels.
type Level string

// Logging levels.
const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

// Format defines possible values for log formats.
type Format string

// Logging formats.
const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Output defines possible values for log outputs.
type Output string

// Logging outputs.
const (
	OutputStdout Output = "stdout"
	OutputStderr Output = "stderr"
	OutputFile   Output = "file"
)

var (
	availableLevels  = []string{string(LevelError), string(LevelWarn), string(LevelInfo), string(LevelDebug)}
	availableFormats = []string{string(FormatJSON), string(FormatText)}
	availableOutputs = []string{string(OutputStdout), string(OutputStderr), string(OutputFile)}
)

// Config represents a set of configuration parameters for logging.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	Level   Level            `mapstructure:"level" yaml:"level" json:"level"`
	Format  Format           `mapstructure:"format" yaml:"format" json:"format"`
	Output  Output           `mapstructure:"output" yaml:"output" json:"output"`
	NoColor bool             `mapstructure:"nocolor" yaml:"nocolor" json:"nocolor"`
	File    FileOutputConfig `mapstructure:"file" yaml:"file" json:"file"`
	Error   ErrorConfig      `mapstructure:"error" yaml:"error" json:"error"`

	// AddCaller determines whether the caller (in package/file:line format) will be added to each logged message.
	AddCaller bool `mapstructure:"addCaller" yaml:"addCaller" json:"addCaller"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// FileOutputConfig is a configuration for file log output.
// Path may contain the {{pid}} placeholder which is replaced with the process id.
type FileOutputConfig struct {
	Path     string             `mapstructure:"path" yaml:"path" json:"path"`
	Rotation FileRotationConfig `mapstructure:"rotation" yaml:"rotation" json:"rotation"`
}

// FileRotationConfig is a configuration for file log rotation (lumberjack is used under the hood).
type FileRotationConfig struct {
	Compress         bool            `mapstructure:"compress" yaml:"compress" json:"compress"`
	MaxSize          config.ByteSize `mapstructure:"maxSize" yaml:"maxSize" json:"maxSize"`
	MaxBackups       int             `mapstructure:"maxBackups" yaml:"maxBackups" json:"maxBackups"`
	MaxAgeDays       int             `mapstructure:"maxAgeDays" yaml:"maxAgeDays" json:"maxAgeDays"`
	LocalTimeInNames bool            `mapstructure:"localTimeInNames" yaml:"localTimeInNames" json:"localTimeInNames"`
}

// ErrorConfig controls how logged errors are encoded.
type ErrorConfig struct {
	// NoVerbose disables the additional field with the verbose ("%+v") error message.
	// The field is named "error" + VerboseSuffix and is added only if it differs from err.Error().
	NoVerbose     bool   `mapstructure:"noVerbose" yaml:"noVerbose" json:"noVerbose"`
	VerboseSuffix string `mapstructure:"verboseSuffix" yaml:"verboseSuffix" json:"verboseSuffix"`
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
	cfg.Level = LevelInfo
	cfg.Format = FormatJSON
	cfg.Output = OutputStdout
	cfg.File.Rotation.MaxSize = DefaultFileRotationMaxSizeBytes
	cfg.File.Rotation.MaxBackups = DefaultFileRotationMaxBackups
	cfg.Error.VerboseSuffix = defaultErrorVerboseSuffix
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

// SetProviderDefaults sets default configuration values for logger in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	defaults := NewDefaultConfig()
	dp.SetDefault(cfgKeyLevel, string(defaults.Level))
	dp.SetDefault(cfgKeyFormat, string(defaults.Format))
	dp.SetDefault(cfgKeyOutput, string(defaults.Output))
	dp.SetDefault(cfgKeyFileRotationMaxSize, defaults.File.Rotation.MaxSize.String())
	dp.SetDefault(cfgKeyFileRotationMaxBackups, defaults.File.Rotation.MaxBackups)
	dp.SetDefault(cfgKeyErrorVerboseSuffix, defaults.Error.VerboseSuffix)
}

// Set sets logger configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	level, err := getLowerStringFromSet(dp, cfgKeyLevel, availableLevels)
	if err != nil {
		return err
	}
	c.Level = Level(level)

	format, err := getLowerStringFromSet(dp, cfgKeyFormat, availableFormats)
	if err != nil {
		return err
	}
	c.Format = Format(format)

	output, err := getLowerStringFromSet(dp, cfgKeyOutput, availableOutputs)
	if err != nil {
		return err
	}
	c.Output = Output(output)

	if err = c.setFileOutputConfig(dp); err != nil {
		return err
	}
	if c.AddCaller, err = dp.GetBool(cfgKeyAddCaller); err != nil {
		return err
	}
	if c.NoColor, err = dp.GetBool(cfgKeyNoColor); err != nil {
		return err
	}
	if c.Error.NoVerbose, err = dp.GetBool(cfgKeyErrorNoVerbose); err != nil {
		return err
	}
	c.Error.VerboseSuffix, err = dp.GetString(cfgKeyErrorVerboseSuffix)
	return err
}

func (c *Config) setFileOutputConfig(dp config.DataProvider) error {
	var err error

	if c.File.Path, err = dp.GetString(cfgKeyFilePath); err != nil {
		return err
	}
	if c.File.Path == "" && c.Output == OutputFile {
		return dp.WrapKeyErr(cfgKeyFilePath, fmt.Errorf("cannot be empty when %q output is used", OutputFile))
	}

	rotation := &c.File.Rotation
	if rotation.Compress, err = dp.GetBool(cfgKeyFileRotationCompress); err != nil {
		return err
	}
	if rotation.LocalTimeInNames, err = dp.GetBool(cfgKeyFileRotationLocalTimeInNames); err != nil {
		return err
	}
	if rotation.MaxSize, err = dp.GetByteSize(cfgKeyFileRotationMaxSize); err != nil {
		return err
	}
	if rotation.MaxSize < MinFileRotationMaxSizeBytes {
		return dp.WrapKeyErr(cfgKeyFileRotationMaxSize,
			fmt.Errorf("should be >= %s", config.ByteSize(MinFileRotationMaxSizeBytes)))
	}
	if rotation.MaxBackups, err = dp.GetInt(cfgKeyFileRotationMaxBackups); err != nil {
		return err
	}
	if rotation.MaxBackups < MinFileRotationMaxBackups {
		return dp.WrapKeyErr(cfgKeyFileRotationMaxBackups, fmt.Errorf("should be >= %d", MinFileRotationMaxBackups))
	}
	if rotation.MaxAgeDays, err = dp.GetInt(cfgKeyFileRotationMaxAgeDays); err != nil {
		return err
	}
	if rotation.MaxAgeDays < 0 {
		return dp.WrapKeyErr(cfgKeyFileRotationMaxAgeDays, fmt.Errorf("should be >= 0"))
	}
	return nil
}

func getLowerStringFromSet(dp config.DataProvider, key string, set []string) (string, error) {
	s, err := dp.GetStringFromSet(key, set, true)
	return strings.ToLower(s), err
}
