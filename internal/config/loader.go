package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

var (
	configMu    sync.RWMutex
	appConfig   *Config
	appIdentity *Identity
	configFile  string
)

// SetConfigFile makes Load read path instead of searching the config paths.
// An empty path restores the search.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// Load builds the configuration and makes it available through GetConfig.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()

	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(appIdentity.ConfigName)
		v.SetConfigType("yaml")
		for _, p := range getUserConfigPaths() {
			v.AddConfigPath(p)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	normalize(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	appConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, nil before Load.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate checks value ranges.
func Validate(cfg *Config) error {
	var errs []error

	if u, err := url.Parse(cfg.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url %q must be an http(s) URL", cfg.API.BaseURL))
	}
	if cfg.API.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("api.timeout must be > 0"))
	}
	if cfg.API.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("api.rate_limit must be >= 0"))
	}
	if cfg.Poll.LogInterval <= 0 || cfg.Poll.StatusInterval <= 0 || cfg.Poll.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll intervals must be > 0"))
	}
	if cfg.Poll.MaxBackoff < 0 {
		errs = append(errs, fmt.Errorf("poll.max_backoff must be >= 0"))
	}
	if cfg.Poll.StallAfter < 0 {
		errs = append(errs, fmt.Errorf("poll.stall_after must be >= 0"))
	}
	if cfg.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be > 0"))
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q must be debug, info, warn or error", cfg.Logging.Level))
	}
	switch cfg.Logging.Profile {
	case "structured", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.profile %q must be structured or console", cfg.Logging.Profile))
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}
	if cfg.AnnotationGlob != "" && !doublestar.ValidatePattern(cfg.AnnotationGlob) {
		errs = append(errs, fmt.Errorf("annotation_glob %q is not a valid pattern", cfg.AnnotationGlob))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func normalize(cfg *Config) {
	cfg.API.BaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.API.BaseURL), "/")
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Profile = strings.ToLower(strings.TrimSpace(cfg.Logging.Profile))
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
}

// setDefaults registers every key so env bindings and Unmarshal see it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8000/api/v1")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.rate_limit", 0)

	v.SetDefault("poll.log_interval", "3s")
	v.SetDefault("poll.status_interval", "3s")
	v.SetDefault("poll.sweep_interval", "5s")
	v.SetDefault("poll.max_backoff", "30s")
	v.SetDefault("poll.stall_after", 10)

	v.SetDefault("workers", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	name := DefaultIdentity.ConfigName
	if appIdentity != nil {
		name = appIdentity.ConfigName
	}
	v.SetDefault("data_dir", gfconfig.GetAppDataDir(name))
	v.SetDefault("annotation_glob", "Ground truth for *")
}

// getUserConfigPaths lists the directories searched for <config_name>.yaml.
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return []string{}
	}
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, appIdentity.ConfigName))
	}
	return paths
}

// getEnvSpecs maps the supported environment variables to config paths.
func getEnvSpecs() []EnvSpec {
	if appIdentity == nil {
		return []EnvSpec{}
	}
	p := appIdentity.EnvPrefix
	return []EnvSpec{
		{Name: p + "API_URL", Path: "api.base_url"},
		{Name: p + "API_TIMEOUT", Path: "api.timeout"},
		{Name: p + "RATE_LIMIT", Path: "api.rate_limit"},
		{Name: p + "LOG_INTERVAL", Path: "poll.log_interval"},
		{Name: p + "STATUS_INTERVAL", Path: "poll.status_interval"},
		{Name: p + "SWEEP_INTERVAL", Path: "poll.sweep_interval"},
		{Name: p + "MAX_BACKOFF", Path: "poll.max_backoff"},
		{Name: p + "STALL_AFTER", Path: "poll.stall_after"},
		{Name: p + "WORKERS", Path: "workers"},
		{Name: p + "LOG_LEVEL", Path: "logging.level"},
		{Name: p + "LOG_PROFILE", Path: "logging.profile"},
		{Name: p + "HOST", Path: "server.host"},
		{Name: p + "PORT", Path: "server.port"},
		{Name: p + "READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: p + "WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: p + "IDLE_TIMEOUT", Path: "server.idle_timeout"},
		{Name: p + "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: p + "DATA_DIR", Path: "data_dir"},
		{Name: p + "ANNOTATION_GLOB", Path: "annotation_glob"},
	}
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}
