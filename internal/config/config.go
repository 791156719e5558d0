package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

// Duration is a time.Duration written as a string ("1m", "250ms") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the global ~/.baatkare/config.toml.
type Config struct {
	DefaultInstance string   `toml:"default_instance"`
	ListenAddr      string   `toml:"listen_addr"`
	DBPath          string   `toml:"db_path,omitempty"`
	JWTSecret       string   `toml:"jwt_secret"`
	TokenTTL        Duration `toml:"token_ttl"`
	LogLevel        string   `toml:"log_level"`

	Bot       Bot       `toml:"bot"`
	Scheduler Scheduler `toml:"scheduler"`
	Realtime  Realtime  `toml:"realtime"`
}

// Bot configures the AI mention responder.
type Bot struct {
	Enabled       bool     `toml:"enabled"`
	Mention       string   `toml:"mention"`
	Model         string   `toml:"model"`
	APIKey        string   `toml:"api_key,omitempty"`
	Timeout       Duration `toml:"timeout"`
	HistorySize   int      `toml:"history_size"`
	MinDelay      Duration `toml:"min_delay"`
	MaxDelay      Duration `toml:"max_delay"`
	MsPerChar     int      `toml:"ms_per_char"`
	RatePerSecond int      `toml:"rate_per_second"`
}

// Scheduler configures the scheduled delivery loop.
type Scheduler struct {
	Interval Duration `toml:"interval"`
	Timezone string   `toml:"timezone"`
}

// Realtime configures websocket sessions.
type Realtime struct {
	TypingTTL  Duration `toml:"typing_ttl"`
	SendBuffer int      `toml:"send_buffer"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		ListenAddr: ":5000",
		TokenTTL:   Duration{7 * 24 * time.Hour},
		LogLevel:   "info",
		Bot: Bot{
			Enabled:       true,
			Mention:       "@smartbot",
			Model:         "gemini-2.5-flash",
			Timeout:       Duration{20 * time.Second},
			HistorySize:   10,
			MinDelay:      Duration{time.Second},
			MaxDelay:      Duration{3 * time.Second},
			MsPerChar:     20,
			RatePerSecond: 2,
		},
		Scheduler: Scheduler{
			Interval: Duration{time.Minute},
			Timezone: "Local",
		},
		Realtime: Realtime{
			TypingTTL:  Duration{8 * time.Second},
			SendBuffer: 128,
		},
	}
}

// Load reads config from path on top of Default. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv loads an optional .env file and lets environment variables
// override the file values.
func (c *Config) ApplyEnv(envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load env: %w", err)
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Bot.APIKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.ListenAddr = ":" + v
	}
	if v := os.Getenv("CHATD_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("CHATD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CHATD_DB_PATH"); v != "" {
		c.DBPath = v
	}
	return nil
}

// Location returns the scheduler time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Scheduler.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Scheduler.Timezone)
}

// Level returns the parsed log level.
func (c *Config) Level() (zapcore.Level, error) {
	if c.LogLevel == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(c.LogLevel)
}

// Validate checks the settings the daemon cannot start without.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("jwt_secret is required (set it in config.toml or JWT_SECRET)")
	}
	if c.TokenTTL.Duration <= 0 {
		return errors.New("token_ttl must be positive")
	}
	if c.Scheduler.Interval.Duration <= 0 {
		return errors.New("scheduler.interval must be positive")
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	if c.Bot.MinDelay.Duration <= 0 {
		return errors.New("bot.min_delay must be positive")
	}
	if c.Bot.MinDelay.Duration > c.Bot.MaxDelay.Duration {
		return errors.New("bot.min_delay must not exceed bot.max_delay")
	}
	if c.Bot.HistorySize < 0 {
		return errors.New("bot.history_size must not be negative")
	}
	if c.Realtime.SendBuffer <= 0 {
		return errors.New("realtime.send_buffer must be positive")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
