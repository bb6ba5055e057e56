// Package config loads the settings of a bufferdb instance from an INI or TOML file.
//
// INI files use three sections:
//
//	[storage]
//	dir        = data
//	block_size = 400
//	log_file   = bufferdb.log
//
//	[buffer]
//	capacity     = 8
//	strategy     = lru
//	pin_timeout  = 10s
//	lock_timeout = 10s
//
//	[logs]
//	log_level = info
//	log_path  =
//
// TOML files use the same tables and keys. Missing keys keep their defaults.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"bufferdb/buffer"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

type Config struct {
	// storage
	DBDir     string
	BlockSize int
	LogFile   string

	// buffer
	BufferCapacity int
	Strategy       string
	PinTimeout     time.Duration
	LockTimeout    time.Duration

	// logs
	LogLevel string
	LogPath  string
}

func Default() *Config {
	return &Config{
		DBDir:          "data",
		BlockSize:      400,
		LogFile:        "bufferdb.log",
		BufferCapacity: 8,
		Strategy:       buffer.StrategyNaive.String(),
		PinTimeout:     10 * time.Second,
		LockTimeout:    10 * time.Second,
		LogLevel:       "warn",
	}
}

// Load reads path over the defaults and validates the result. Files ending in .toml are parsed as TOML,
// everything else as INI.
func Load(path string) (*Config, error) {
	cfg := Default()
	var err error
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = cfg.loadTOML(path)
	} else {
		err = cfg.loadINI(path)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration in %s", path)
	}
	return cfg, nil
}

// Validate checks that the settings describe a usable instance.
func (cfg *Config) Validate() error {
	if cfg.DBDir == "" {
		return errors.New("storage.dir must not be empty")
	}
	if cfg.BlockSize <= 0 {
		return errors.Errorf("storage.block_size must be positive, got %d", cfg.BlockSize)
	}
	if cfg.LogFile == "" {
		return errors.New("storage.log_file must not be empty")
	}
	if cfg.BufferCapacity <= 0 {
		return errors.Errorf("buffer.capacity must be positive, got %d", cfg.BufferCapacity)
	}
	if _, err := buffer.ParseStrategy(cfg.Strategy); err != nil {
		return errors.Wrap(err, "buffer.strategy")
	}
	if cfg.PinTimeout <= 0 {
		return errors.Errorf("buffer.pin_timeout must be positive, got %v", cfg.PinTimeout)
	}
	if cfg.LockTimeout <= 0 {
		return errors.Errorf("buffer.lock_timeout must be positive, got %v", cfg.LockTimeout)
	}
	return nil
}

// StrategyCode returns the configured replacement strategy. It assumes Validate passed.
func (cfg *Config) StrategyCode() buffer.StrategyCode {
	code, _ := buffer.ParseStrategy(cfg.Strategy)
	return code
}

func (cfg *Config) loadINI(path string) error {
	file, err := ini.Load(path)
	if err != nil {
		return errors.Wrapf(err, "failed to load %s", path)
	}

	storage := file.Section("storage")
	cfg.DBDir = storage.Key("dir").MustString(cfg.DBDir)
	cfg.LogFile = storage.Key("log_file").MustString(cfg.LogFile)
	if cfg.BlockSize, err = iniInt(storage, "block_size", cfg.BlockSize); err != nil {
		return err
	}

	buf := file.Section("buffer")
	cfg.Strategy = buf.Key("strategy").MustString(cfg.Strategy)
	if cfg.BufferCapacity, err = iniInt(buf, "capacity", cfg.BufferCapacity); err != nil {
		return err
	}
	if cfg.PinTimeout, err = iniDuration(buf, "pin_timeout", cfg.PinTimeout); err != nil {
		return err
	}
	if cfg.LockTimeout, err = iniDuration(buf, "lock_timeout", cfg.LockTimeout); err != nil {
		return err
	}

	logs := file.Section("logs")
	cfg.LogLevel = logs.Key("log_level").MustString(cfg.LogLevel)
	cfg.LogPath = logs.Key("log_path").MustString(cfg.LogPath)
	return nil
}

func iniInt(section *ini.Section, key string, def int) (int, error) {
	if !section.HasKey(key) {
		return def, nil
	}
	v, err := section.Key(key).Int()
	if err != nil {
		return 0, errors.Wrapf(err, "%s.%s", section.Name(), key)
	}
	return v, nil
}

func iniDuration(section *ini.Section, key string, def time.Duration) (time.Duration, error) {
	if !section.HasKey(key) {
		return def, nil
	}
	v, err := section.Key(key).Duration()
	if err != nil {
		return 0, errors.Wrapf(err, "%s.%s", section.Name(), key)
	}
	return v, nil
}

func (cfg *Config) loadTOML(path string) error {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to load %s", path)
	}

	stringKeys := []struct {
		key string
		dst *string
	}{
		{"storage.dir", &cfg.DBDir},
		{"storage.log_file", &cfg.LogFile},
		{"buffer.strategy", &cfg.Strategy},
		{"logs.log_level", &cfg.LogLevel},
		{"logs.log_path", &cfg.LogPath},
	}
	for _, s := range stringKeys {
		if v := tree.Get(s.key); v != nil {
			str, ok := v.(string)
			if !ok {
				return errors.Errorf("%s must be a string, got %T", s.key, v)
			}
			*s.dst = str
		}
	}

	intKeys := []struct {
		key string
		dst *int
	}{
		{"storage.block_size", &cfg.BlockSize},
		{"buffer.capacity", &cfg.BufferCapacity},
	}
	for _, i := range intKeys {
		if v := tree.Get(i.key); v != nil {
			n, ok := v.(int64)
			if !ok {
				return errors.Errorf("%s must be an integer, got %T", i.key, v)
			}
			*i.dst = int(n)
		}
	}

	durationKeys := []struct {
		key string
		dst *time.Duration
	}{
		{"buffer.pin_timeout", &cfg.PinTimeout},
		{"buffer.lock_timeout", &cfg.LockTimeout},
	}
	for _, d := range durationKeys {
		if v := tree.Get(d.key); v != nil {
			str, ok := v.(string)
			if !ok {
				return errors.Errorf("%s must be a duration string, got %T", d.key, v)
			}
			if *d.dst, err = time.ParseDuration(str); err != nil {
				return errors.Wrapf(err, "%s", d.key)
			}
		}
	}
	return nil
}
