// Package config implements the global lego settings: a flat set of named
// values with aliases and allowed values, persisted to an INI file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-ini/ini"
)

// Setting names as they appear in the settings file.
const (
	Environment = "Environment"
	LoggerLevel = "Logger_Level"
	AWSRegion   = "AWS_Region"
)

// GlobalSection is the INI section holding every setting.
const GlobalSection = "Global"

// Environment variables that override values after loading.
const (
	EnvEnvironment = "LEGO_ENVIRONMENT"
	EnvLogLevel    = "LEGO_LOG_LEVEL"
	EnvRegion      = "LEGO_REGION"
)

var (
	// ErrNotInitialized is returned by Load when the settings file does not exist.
	ErrNotInitialized = errors.New("settings file not found")

	// ErrUnknownSetting is returned when an alias matches no setting.
	ErrUnknownSetting = errors.New("unknown setting")

	// ErrInvalidValue is returned when a value is not in the allowed set.
	ErrInvalidValue = errors.New("invalid setting value")
)

// Regions accepted for AWS_Region.
var Regions = []string{
	"us-east-2", "us-east-1", "us-west-1", "us-west-2", "af-south-1", "ap-east-1",
	"ap-south-2", "ap-southeast-3", "ap-southeast-4", "ap-south-1", "ap-northeast-3",
	"ap-northeast-2", "ap-southeast-1", "ap-southeast-2", "ap-northeast-1", "ca-central-1",
	"eu-central-1", "eu-west-1", "eu-west-2", "eu-south-1", "eu-west-3", "eu-north-1",
	"eu-central-2", "me-south-1", "me-central-1", "sa-east-1", "us-gov-east-1", "us-gov-west-1",
}

// LogLevels accepted for Logger_Level.
var LogLevels = []string{"notset", "debug", "info", "warn", "error", "critical"}

// Setting is a single named value.
type Setting struct {
	Section string
	Name    string
	Value   string
	Aliases []string
	Allowed []string
}

// Settings holds every known setting in file order.
type Settings struct {
	entries []*Setting
}

// Defaults returns the settings used when no file exists.
func Defaults() *Settings {
	return &Settings{entries: []*Setting{
		{
			Section: GlobalSection,
			Name:    Environment,
			Value:   "test",
			Aliases: []string{"env", "environment"},
			Allowed: []string{"prod", "test"},
		},
		{
			Section: GlobalSection,
			Name:    LoggerLevel,
			Value:   "info",
			Aliases: []string{"log", "logger", "logger_level", "logging"},
			Allowed: LogLevels,
		},
		{
			Section: GlobalSection,
			Name:    AWSRegion,
			Value:   "us-east-2",
			Aliases: []string{"aws", "aws_region", "region"},
			Allowed: Regions,
		},
	}}
}

// DefaultPath returns ~/.lp/settings.ini.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".lp", "settings.ini"), nil
}

// All returns the settings in file order.
func (s *Settings) All() []Setting {
	out := make([]Setting, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out
}

// Get returns the value of the named setting, or "" if unknown.
func (s *Settings) Get(name string) string {
	for _, e := range s.entries {
		if e.Name == name {
			return e.Value
		}
	}
	return ""
}

// Environment returns the active environment name.
func (s *Settings) Environment() string { return s.Get(Environment) }

// LoggerLevel returns the configured log level.
func (s *Settings) LoggerLevel() string { return s.Get(LoggerLevel) }

// AWSRegion returns the configured AWS region.
func (s *Settings) AWSRegion() string { return s.Get(AWSRegion) }

// Lookup finds a setting by one of its aliases or its exact name.
func (s *Settings) Lookup(alias string) (*Setting, bool) {
	alias = strings.ToLower(strings.TrimSpace(alias))
	for _, e := range s.entries {
		if strings.ToLower(e.Name) == alias || slices.Contains(e.Aliases, alias) {
			return e, true
		}
	}
	return nil, false
}

// Set updates the setting matched by alias. Values are lower-cased and must
// be one of the setting's allowed values.
func (s *Settings) Set(alias, value string) error {
	e, ok := s.Lookup(alias)
	if !ok {
		return fmt.Errorf("%w: %s is not a setting, valid settings are %v", ErrUnknownSetting, alias, s.aliases())
	}
	value = strings.ToLower(strings.TrimSpace(value))
	if !slices.Contains(e.Allowed, value) {
		return fmt.Errorf("%w: supported %s values are %v", ErrInvalidValue, e.Name, e.Allowed)
	}
	e.Value = value
	return nil
}

func (s *Settings) aliases() [][]string {
	out := make([][]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Aliases)
	}
	return out
}

// Validate checks that every value is allowed.
func (s *Settings) Validate() error {
	for _, e := range s.entries {
		if !slices.Contains(e.Allowed, e.Value) {
			return fmt.Errorf("%w: %s=%q, supported values are %v", ErrInvalidValue, e.Name, e.Value, e.Allowed)
		}
	}
	return nil
}

// ApplyEnv overrides values from LEGO_ENVIRONMENT, LEGO_LOG_LEVEL and LEGO_REGION.
func (s *Settings) ApplyEnv() error {
	overrides := []struct{ env, name string }{
		{EnvEnvironment, Environment},
		{EnvLogLevel, LoggerLevel},
		{EnvRegion, AWSRegion},
	}
	for _, o := range overrides {
		v, ok := os.LookupEnv(o.env)
		if !ok || v == "" {
			continue
		}
		if err := s.Set(o.name, v); err != nil {
			return fmt.Errorf("%s: %w", o.env, err)
		}
	}
	return nil
}

// Load reads settings from an INI file. Every known setting must be present
// and hold an allowed value.
func Load(path string) (*Settings, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotInitialized, path)
		}
		return nil, fmt.Errorf("failed to stat settings file: %w", err)
	}

	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}

	s := Defaults()
	for _, e := range s.entries {
		sec, err := f.GetSection(e.Section)
		if err != nil || !sec.HasKey(e.Name) {
			return nil, fmt.Errorf("invalid %s config setting found at %s", e.Name, path)
		}
		e.Value = strings.ToLower(sec.Key(e.Name).String())
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes every setting to path, creating the parent directory.
func (s *Settings) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	f := ini.Empty()
	for _, e := range s.entries {
		if _, err := f.Section(e.Section).NewKey(e.Name, e.Value); err != nil {
			return fmt.Errorf("failed to set %s: %w", e.Name, err)
		}
	}

	if err := f.SaveTo(path); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

// Init loads the settings file, or writes the defaults over it when it is
// missing or invalid. created reports whether defaults were written.
func Init(path string) (s *Settings, created bool, err error) {
	s, err = Load(path)
	if err == nil {
		return s, false, nil
	}

	s = Defaults()
	if err := s.Save(path); err != nil {
		return nil, false, err
	}
	return s, true, nil
}
