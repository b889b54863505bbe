// Package config holds the resolved clipstash configuration.
//
// Values are layered by viper in cmd/clipstash (defaults, config file,
// CLIPSTASH_* env vars, flags) and read once into a Config, which is passed by
// value into the components.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"go.klb.dev/clipstash/internal/apperr"
)

// Config keys, shared by flags, env vars and the config file.
const (
	KeyMaxHistorySize  = "max-history-size"
	KeyRetentionDays   = "retention-days"
	KeyCheckIntervalMS = "check-interval-ms"
	KeyDataDir         = "data-dir"
	KeyChannelCapacity = "channel-capacity"
	KeyInject          = "inject"
	KeyAddr            = "addr"
	KeyToken           = "token"
	KeyLogFormat       = "log-format"
	KeyLogLevel        = "log-level"
)

// Config is the daemon configuration.
type Config struct {
	MaxHistorySize  int    `toml:"max-history-size" mapstructure:"max-history-size" comment:"Unpinned items kept; 0 keeps everything"`
	RetentionDays   int    `toml:"retention-days" mapstructure:"retention-days" comment:"Unpinned items older than this are removed; 0 disables"`
	CheckIntervalMS int    `toml:"check-interval-ms" mapstructure:"check-interval-ms" comment:"Clipboard poll interval in milliseconds"`
	DataDir         string `toml:"data-dir" mapstructure:"data-dir" comment:"Directory holding history.db"`
	ChannelCapacity int    `toml:"channel-capacity" mapstructure:"channel-capacity" comment:"Detected changes buffered before the watcher blocks"`
	Inject          string `toml:"inject" mapstructure:"inject" comment:"Paste utility: auto, none, xdotool, wtype or osascript"`
	Addr            string `toml:"addr" mapstructure:"addr" comment:"Optional TCP listen address for gRPC and HTTP, e.g. 127.0.0.1:8752"`
	Token           string `toml:"token" mapstructure:"token" comment:"Shared secret for the TCP listener; enables TLS"`
	LogFormat       string `toml:"log-format" mapstructure:"log-format" comment:"auto, text or json"`
	LogLevel        string `toml:"log-level" mapstructure:"log-level" comment:"debug, info, warn or error; empty picks by terminal"`
}

// Default returns the built-in configuration. dataDir is resolved by the
// caller because it depends on the user's environment.
func Default(dataDir string) Config {
	return Config{
		MaxHistorySize:  100,
		RetentionDays:   30,
		CheckIntervalMS: 500,
		DataDir:         dataDir,
		ChannelCapacity: 100,
		Inject:          "auto",
		LogFormat:       "auto",
	}
}

// SetDefaults registers the values of d as viper defaults.
func SetDefaults(v *viper.Viper, d Config) {
	v.SetDefault(KeyMaxHistorySize, d.MaxHistorySize)
	v.SetDefault(KeyRetentionDays, d.RetentionDays)
	v.SetDefault(KeyCheckIntervalMS, d.CheckIntervalMS)
	v.SetDefault(KeyDataDir, d.DataDir)
	v.SetDefault(KeyChannelCapacity, d.ChannelCapacity)
	v.SetDefault(KeyInject, d.Inject)
	v.SetDefault(KeyAddr, d.Addr)
	v.SetDefault(KeyToken, d.Token)
	v.SetDefault(KeyLogFormat, d.LogFormat)
	v.SetDefault(KeyLogLevel, d.LogLevel)
}

// FromViper reads every key from v and validates the result.
func FromViper(v *viper.Viper) (Config, error) {
	c := Config{
		MaxHistorySize:  v.GetInt(KeyMaxHistorySize),
		RetentionDays:   v.GetInt(KeyRetentionDays),
		CheckIntervalMS: v.GetInt(KeyCheckIntervalMS),
		DataDir:         v.GetString(KeyDataDir),
		ChannelCapacity: v.GetInt(KeyChannelCapacity),
		Inject:          v.GetString(KeyInject),
		Addr:            v.GetString(KeyAddr),
		Token:           v.GetString(KeyToken),
		LogFormat:       v.GetString(KeyLogFormat),
		LogLevel:        v.GetString(KeyLogLevel),
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	switch {
	case c.MaxHistorySize < 0:
		return apperr.Errorf(apperr.KindConfig, "validate config", "%s must not be negative, got %d", KeyMaxHistorySize, c.MaxHistorySize)
	case c.RetentionDays < 0:
		return apperr.Errorf(apperr.KindConfig, "validate config", "%s must not be negative, got %d", KeyRetentionDays, c.RetentionDays)
	case c.CheckIntervalMS <= 0:
		return apperr.Errorf(apperr.KindConfig, "validate config", "%s must be positive, got %d", KeyCheckIntervalMS, c.CheckIntervalMS)
	case c.ChannelCapacity <= 0:
		return apperr.Errorf(apperr.KindConfig, "validate config", "%s must be positive, got %d", KeyChannelCapacity, c.ChannelCapacity)
	case c.DataDir == "":
		return apperr.Errorf(apperr.KindConfig, "validate config", "%s is not set", KeyDataDir)
	}
	switch c.Inject {
	case "", "auto", "none", "xdotool", "wtype", "osascript":
	default:
		return apperr.Errorf(apperr.KindConfig, "validate config", "unknown %s %q", KeyInject, c.Inject)
	}
	return nil
}

// CheckInterval is the watcher poll interval.
func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalMS) * time.Millisecond
}

// MaxAge is the retention age bound, or zero when disabled.
func (c Config) MaxAge() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Marshal renders c as a commented TOML document.
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return nil, apperr.New(apperr.KindSerialization, "encode config", err)
	}
	return buf.Bytes(), nil
}

// Load parses a TOML config file on top of base, ignoring viper. It is used to
// check files written by Write.
func Load(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, apperr.New(apperr.KindIO, "read config", err)
	}
	if err := toml.Unmarshal(data, &base); err != nil {
		return base, apperr.New(apperr.KindConfig, "parse config", fmt.Errorf("%s: %w", path, err))
	}
	return base, nil
}

// Write saves c to path. An existing file is left alone unless force is set.
func Write(path string, c Config, force bool) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.New(apperr.KindIO, "create config dir", err)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	// The file may hold the TCP token.
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return apperr.New(apperr.KindIO, "write config", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return apperr.New(apperr.KindIO, "write config", err)
	}
	if err := f.Close(); err != nil {
		return apperr.New(apperr.KindIO, "write config", err)
	}
	return nil
}
