package config

import (
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type PomodoroConfig struct {
	FocusMinutes      int `mapstructure:"focus_minutes"`
	ShortBreakMinutes int `mapstructure:"short_break_minutes"`
}

type CoordinatorConfig struct {
	DebounceMs       int `mapstructure:"debounce_ms"`
	WaitingTimeoutMs int `mapstructure:"waiting_timeout_ms"`
	UIBuffer         int `mapstructure:"ui_buffer"`
}

type PreferencesConfig struct {
	AskToCompleteWithoutTimer bool `mapstructure:"ask_to_complete_without_timer"`
}

type Config struct {
	DatabasePath   string            `mapstructure:"database_path"`
	SocketPath     string            `mapstructure:"socket_path"`
	HTTPAddr       string            `mapstructure:"http_addr"` // Empty disables the HTTP API
	TickIntervalMs int               `mapstructure:"tick_interval_ms"`
	Coordinator    CoordinatorConfig `mapstructure:"coordinator"`
	Pomodoro       PomodoroConfig    `mapstructure:"pomodoro"`
	Preferences    PreferencesConfig `mapstructure:"preferences"`
}

const (
	defaultDatabasePath     = "habitkeeper.db"
	defaultSocketPath       = "/tmp/habitkeeper.sock"
	defaultTickIntervalMs   = 1000
	defaultDebounceMs       = 500
	defaultWaitingTimeoutMs = 5000
	defaultUIBuffer         = 16
	defaultFocusMinutes     = 25
	defaultBreakMinutes     = 5
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_path", defaultDatabasePath)
	v.SetDefault("socket_path", defaultSocketPath)
	v.SetDefault("http_addr", "")
	v.SetDefault("tick_interval_ms", defaultTickIntervalMs)
	v.SetDefault("coordinator.debounce_ms", defaultDebounceMs)
	v.SetDefault("coordinator.waiting_timeout_ms", defaultWaitingTimeoutMs)
	v.SetDefault("coordinator.ui_buffer", defaultUIBuffer)
	v.SetDefault("pomodoro.focus_minutes", defaultFocusMinutes)
	v.SetDefault("pomodoro.short_break_minutes", defaultBreakMinutes)
	v.SetDefault("preferences.ask_to_complete_without_timer", true)
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/habitkeeper")
		v.AddConfigPath("/etc/habitkeeper/")
	}

	v.SetEnvPrefix("HABITKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// LoadConfig reads the config file (if any), environment and defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg, _, err := load(configPath)
	return cfg, err
}

func load(configPath string) (*Config, *viper.Viper, error) {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("Config file not found, using defaults.")
		} else {
			return nil, nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, err
	}
	cfg.validate()

	log.Printf("Configuration loaded: %+v", cfg)
	return &cfg, v, nil
}

func (c *Config) validate() {
	if c.DatabasePath == "" {
		c.DatabasePath = defaultDatabasePath
	}
	if c.SocketPath == "" {
		c.SocketPath = defaultSocketPath
	}
	if c.TickIntervalMs < 10 {
		log.Printf("Warning: tick_interval_ms %d too low, using %d", c.TickIntervalMs, defaultTickIntervalMs)
		c.TickIntervalMs = defaultTickIntervalMs
	}
	if c.Coordinator.DebounceMs < 0 {
		log.Printf("Warning: coordinator.debounce_ms %d invalid, using %d", c.Coordinator.DebounceMs, defaultDebounceMs)
		c.Coordinator.DebounceMs = defaultDebounceMs
	}
	if c.Coordinator.WaitingTimeoutMs <= 0 {
		log.Printf("Warning: coordinator.waiting_timeout_ms %d invalid, using %d", c.Coordinator.WaitingTimeoutMs, defaultWaitingTimeoutMs)
		c.Coordinator.WaitingTimeoutMs = defaultWaitingTimeoutMs
	}
	if c.Coordinator.UIBuffer <= 0 {
		c.Coordinator.UIBuffer = defaultUIBuffer
	}
	if c.Pomodoro.FocusMinutes <= 0 {
		c.Pomodoro.FocusMinutes = defaultFocusMinutes
	}
	if c.Pomodoro.ShortBreakMinutes <= 0 {
		c.Pomodoro.ShortBreakMinutes = defaultBreakMinutes
	}
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

func (c CoordinatorConfig) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

func (c CoordinatorConfig) WaitingTimeout() time.Duration {
	return time.Duration(c.WaitingTimeoutMs) * time.Millisecond
}

func (p PomodoroConfig) FocusDuration() time.Duration {
	return time.Duration(p.FocusMinutes) * time.Minute
}

func (p PomodoroConfig) ShortBreakDuration() time.Duration {
	return time.Duration(p.ShortBreakMinutes) * time.Minute
}

// Preferences exposes user preferences that may change while the daemon runs.
type Preferences struct {
	askWithoutTimer atomic.Bool
}

func NewPreferences(p PreferencesConfig) *Preferences {
	prefs := &Preferences{}
	prefs.Set(p)
	return prefs
}

func (p *Preferences) Set(c PreferencesConfig) {
	p.askWithoutTimer.Store(c.AskToCompleteWithoutTimer)
}

func (p *Preferences) AskToCompleteWithoutTimer() bool {
	return p.askWithoutTimer.Load()
}

// Watch loads the config and keeps the returned Preferences in sync with
// edits to the config file.
func Watch(configPath string) (*Config, *Preferences, error) {
	cfg, v, err := load(configPath)
	if err != nil {
		return nil, nil, err
	}
	prefs := NewPreferences(cfg.Preferences)
	if v.ConfigFileUsed() == "" {
		return cfg, prefs, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var next Config
		if err := v.Unmarshal(&next); err != nil {
			log.Printf("Warning: ignoring config change from %s: %v", e.Name, err)
			return
		}
		prefs.Set(next.Preferences)
		log.Printf("Preferences reloaded from %s: %+v", e.Name, next.Preferences)
	})
	v.WatchConfig()
	return cfg, prefs, nil
}
