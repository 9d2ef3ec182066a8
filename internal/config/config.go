// Package config loads lumitrack configuration.
//
// Precedence, highest first: runtime overrides, LUMITRACK_* environment
// variables, the config file, defaults.
package config

import (
	"time"
)

// Config is the complete application configuration.
type Config struct {
	API            APIConfig     `mapstructure:"api"`
	Poll           PollConfig    `mapstructure:"poll"`
	Workers        int           `mapstructure:"workers"`
	Logging        LoggingConfig `mapstructure:"logging"`
	Server         ServerConfig  `mapstructure:"server"`
	DataDir        string        `mapstructure:"data_dir"`
	AnnotationGlob string        `mapstructure:"annotation_glob"`
}

// APIConfig configures the backend client.
type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
}

// PollConfig configures polling cadence and failure handling.
type PollConfig struct {
	LogInterval    time.Duration `mapstructure:"log_interval"`
	StatusInterval time.Duration `mapstructure:"status_interval"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	StallAfter     int           `mapstructure:"stall_after"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// ServerConfig configures the status API server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Identity names the application for config paths and env vars.
type Identity struct {
	BinaryName string
	ConfigName string
	EnvPrefix  string
}

// DefaultIdentity is the lumitrack identity.
var DefaultIdentity = Identity{
	BinaryName: "lumitrack",
	ConfigName: "lumitrack",
	EnvPrefix:  "LUMITRACK_",
}

// EnvSpec maps one environment variable to a config path.
type EnvSpec struct {
	Name string
	Path string
}
