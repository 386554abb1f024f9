// Package config loads runtime configuration from TOML files.
//
// Keys use the Go field names of the structs below. Sections for the
// engine and cache are the packages' own Config types, so every knob those
// packages expose can be set from a file. Unknown keys are rejected.
package config

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/naoina/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/contract-runtime/abi"
	"github.com/wippyai/contract-runtime/cache"
	"github.com/wippyai/contract-runtime/codestore"
	"github.com/wippyai/contract-runtime/engine"
	"github.com/wippyai/contract-runtime/errors"
	"github.com/wippyai/contract-runtime/runtime"
	"github.com/wippyai/contract-runtime/secrets"
	"github.com/wippyai/contract-runtime/statestore"
)

// Store backends.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendLevelDB  = "leveldb"
	BackendPostgres = "postgres"
	BackendDir      = "dir"
)

// Duration is a time.Duration written as a string such as "5s".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// LimitsConfig bounds every call.
type LimitsConfig struct {
	Fuel           uint64
	Timeout        Duration
	MaxMemoryPages uint32
}

// ABIConfig bounds buffers crossing the guest boundary.
type ABIConfig struct {
	MaxStateSize  int
	MaxOutputSize int
}

// CodesConfig sizes the code registry.
type CodesConfig struct {
	MaxBytes int
	Journal  string `toml:",omitempty"`
}

// RelatedConfig controls related-contract fetching.
type RelatedConfig struct {
	MaxRounds int
}

// SecretsConfig selects the delegate secret store.
type SecretsConfig struct {
	Backend string
	Path    string `toml:",omitempty"`
}

// StateConfig selects the state fetcher used for related contracts.
type StateConfig struct {
	Backend     string
	DatabaseURL string `toml:",omitempty"`
	Dir         string `toml:",omitempty"`
	Concurrency int
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string
	Development bool
}

// Config is the complete file layout.
type Config struct {
	Engine  engine.Config
	Limits  LimitsConfig
	ABI     ABIConfig
	Cache   cache.Config
	Codes   CodesConfig
	Related RelatedConfig
	Secrets SecretsConfig
	State   StateConfig
	Log     LogConfig
}

// Default returns the configuration used when no file is given.
func Default() Config {
	lim := engine.DefaultLimits()
	a := abi.DefaultConfig()
	return Config{
		Engine: engine.DefaultConfig(),
		Limits: LimitsConfig{
			Fuel:           lim.Fuel,
			Timeout:        Duration(lim.Timeout),
			MaxMemoryPages: lim.MaxMemoryPages,
		},
		ABI: ABIConfig{
			MaxStateSize:  a.MaxStateSize,
			MaxOutputSize: a.MaxOutputSize,
		},
		Cache:   cache.DefaultConfig(),
		Codes:   CodesConfig{MaxBytes: codestore.DefaultConfig().MaxBytes},
		Related: RelatedConfig{MaxRounds: runtime.DefaultMaxRelatedRounds},
		Secrets: SecretsConfig{Backend: BackendMemory},
		State:   StateConfig{Backend: BackendNone, Concurrency: 8},
		Log:     LogConfig{Level: "info"},
	}
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// Load reads file over the values already in cfg.
func Load(file string, cfg *Config) error {
	f, err := os.Open(file)
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "open config")
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = fmt.Errorf("%s, %w", file, err)
	}
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "decode config")
	}
	return cfg.Validate()
}

// LoadFile returns the defaults overlaid with file. An empty file name
// returns the defaults.
func LoadFile(file string) (Config, error) {
	cfg := Default()
	if file == "" {
		return cfg, nil
	}
	if err := Load(file, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal renders cfg as TOML.
func Marshal(cfg Config) ([]byte, error) {
	return tomlSettings.Marshal(&cfg)
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).Detail(format, args...).Build()
	}
	if c.Cache.Shards < 0 || c.Cache.MaxCost < 0 {
		return invalid("cache: negative size")
	}
	if c.Engine.MaxInstances < 0 {
		return invalid("engine: negative MaxInstances")
	}
	if c.Limits.Timeout < 0 {
		return invalid("limits: negative Timeout")
	}
	switch c.Secrets.Backend {
	case BackendNone, BackendMemory:
	case BackendLevelDB:
		if c.Secrets.Path == "" {
			return invalid("secrets: leveldb backend needs Path")
		}
	default:
		return invalid("secrets: unknown backend %q", c.Secrets.Backend)
	}
	switch c.State.Backend {
	case BackendNone, BackendMemory:
	case BackendPostgres:
		if c.State.DatabaseURL == "" {
			return invalid("state: postgres backend needs DatabaseURL")
		}
	case BackendDir:
		if c.State.Dir == "" {
			return invalid("state: dir backend needs Dir")
		}
	default:
		return invalid("state: unknown backend %q", c.State.Backend)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return invalid("log: %v", err)
	}
	return nil
}

// EngineLimits converts the Limits section.
func (c Config) EngineLimits() engine.Limits {
	return engine.Limits{
		Fuel:           c.Limits.Fuel,
		Timeout:        time.Duration(c.Limits.Timeout),
		MaxMemoryPages: c.Limits.MaxMemoryPages,
	}
}

// ABIConfig converts the ABI and Limits sections.
func (c Config) ABIConfig() abi.Config {
	return abi.Config{
		Limits:        c.EngineLimits(),
		MaxStateSize:  c.ABI.MaxStateSize,
		MaxOutputSize: c.ABI.MaxOutputSize,
	}
}

// CodesConfig converts the Codes section.
func (c Config) CodesConfig() codestore.Config {
	return codestore.Config{MaxBytes: c.Codes.MaxBytes, Journal: c.Codes.Journal}
}

// Logger builds the configured zap logger.
func (c Config) Logger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log level")
	}
	zc.Level = lvl
	return zc.Build()
}

// OpenSecrets opens the configured secret store. It returns nil for the
// none backend.
func (c Config) OpenSecrets() (secrets.Store, error) {
	switch c.Secrets.Backend {
	case BackendNone:
		return nil, nil
	case BackendLevelDB:
		db, err := secrets.OpenLevelDB(c.Secrets.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return secrets.NewMemory(), nil
	}
}

// OpenState opens the configured state fetcher. The returned close
// function is never nil.
func (c Config) OpenState(ctx context.Context) (statestore.Fetcher, func() error, error) {
	nop := func() error { return nil }
	switch c.State.Backend {
	case BackendMemory:
		return statestore.NewMemory(), nop, nil
	case BackendPostgres:
		p, err := statestore.NewPostgres(ctx, c.State.DatabaseURL)
		if err != nil {
			return nil, nop, err
		}
		if err := p.EnsureSchema(ctx); err != nil {
			p.Close()
			return nil, nop, err
		}
		return p, p.Close, nil
	case BackendDir:
		return statestore.Fanout{StateFetcher: statestore.Dir(c.State.Dir), Limit: c.State.Concurrency}, nop, nil
	default:
		return nil, nop, nil
	}
}

// RuntimeConfig assembles a runtime configuration from the file sections
// and the opened collaborators.
func (c Config) RuntimeConfig(log *zap.Logger, fetcher statestore.Fetcher, store secrets.Store) runtime.Config {
	return runtime.Config{
		Logger:           log,
		Cache:            c.Cache,
		Codes:            c.CodesConfig(),
		ABI:              c.ABIConfig(),
		MaxRelatedRounds: c.Related.MaxRounds,
		Fetcher:          fetcher,
		Secrets:          store,
	}
}
