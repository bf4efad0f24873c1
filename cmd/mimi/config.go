package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/mimi/internal/analytics"
	"github.com/mesh-intelligence/mimi/internal/logger"
	"github.com/mesh-intelligence/mimi/internal/paths"
	"github.com/mesh-intelligence/mimi/internal/surface"
	"github.com/mesh-intelligence/mimi/pkg/types"
)

const envPrefix = "MIMI"

const (
	defaultHTTPAddr  = "127.0.0.1:8737"
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"
)

// errPanelThrottle is returned for a non-positive panel_throttle.
var errPanelThrottle = errors.New("panel_throttle must be positive")

// Settings is the CLI configuration after defaults, config.yaml and
// environment overrides are merged.
type Settings struct {
	Backend        string           `mapstructure:"backend"`
	DataDir        string           `mapstructure:"data_dir"`
	SyncStrategy   string           `mapstructure:"sync_strategy"`
	BatchSize      int              `mapstructure:"batch_size"`
	BatchInterval  int              `mapstructure:"batch_interval"`
	Env            string           `mapstructure:"env"`
	LogLevel       string           `mapstructure:"log_level"`
	HTTPAddr       string           `mapstructure:"http_addr"`
	PanelThrottle  time.Duration    `mapstructure:"panel_throttle"`
	TitleUserAgent string           `mapstructure:"title_user_agent"`
	TitleBaseURL   string           `mapstructure:"title_base_url"`
	Analytics      analytics.Config `mapstructure:"analytics"`

	// HTTPAllowedOrigins are browser origins, besides loopback pages,
	// allowed to call the HTTP API. MIMI_HTTP_ALLOWED_ORIGINS is comma
	// separated.
	HTTPAllowedOrigins []string `mapstructure:"http_allowed_origins"`
}

func defaultSettings() Settings {
	return Settings{
		Backend:        types.BackendSQLite,
		SyncStrategy:   types.SyncImmediate,
		BatchSize:      types.DefaultBatchSize,
		BatchInterval:  types.DefaultBatchInterval,
		Env:            logger.EnvLocal,
		LogLevel:       "info",
		HTTPAddr:       defaultHTTPAddr,
		PanelThrottle:  surface.DefaultPanelThrottle,
		TitleUserAgent: defaultUserAgent,
		Analytics: analytics.Config{
			Endpoint: analytics.DefaultEndpoint,
			Timeout:  analytics.DefaultTimeout,
		},
	}
}

// storeConfig returns the backend configuration for dataDir.
func (s Settings) storeConfig(dataDir string) types.Config {
	return types.Config{
		Backend:       s.Backend,
		DataDir:       dataDir,
		SyncStrategy:  s.SyncStrategy,
		BatchSize:     s.BatchSize,
		BatchInterval: s.BatchInterval,
	}
}

func (s Settings) validate() error {
	if err := s.storeConfig("").Validate(); err != nil {
		return err
	}
	if s.PanelThrottle <= 0 {
		return errPanelThrottle
	}
	return nil
}

// envKeys are bound to MIMI_<KEY> with dots replaced by underscores.
// data_dir is absent: paths resolves it so config.yaml keeps precedence
// over MIMI_DATA_DIR.
var envKeys = []string{
	"backend",
	"sync_strategy",
	"batch_size",
	"batch_interval",
	"env",
	"log_level",
	"http_addr",
	"http_allowed_origins",
	"panel_throttle",
	"title_user_agent",
	"title_base_url",
	"analytics.enabled",
	"analytics.endpoint",
	"analytics.measurement_id",
	"analytics.api_secret",
	"analytics.client_id",
	"analytics.timeout",
	"analytics.queue_size",
}

func setDefaults(v *viper.Viper, d Settings) {
	v.SetDefault("backend", d.Backend)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("sync_strategy", d.SyncStrategy)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("batch_interval", d.BatchInterval)
	v.SetDefault("env", d.Env)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("http_addr", d.HTTPAddr)
	v.SetDefault("http_allowed_origins", d.HTTPAllowedOrigins)
	v.SetDefault("panel_throttle", d.PanelThrottle)
	v.SetDefault("title_user_agent", d.TitleUserAgent)
	v.SetDefault("title_base_url", d.TitleBaseURL)
	v.SetDefault("analytics.enabled", d.Analytics.Enabled)
	v.SetDefault("analytics.endpoint", d.Analytics.Endpoint)
	v.SetDefault("analytics.measurement_id", d.Analytics.MeasurementID)
	v.SetDefault("analytics.api_secret", d.Analytics.APISecret)
	v.SetDefault("analytics.client_id", d.Analytics.ClientID)
	v.SetDefault("analytics.timeout", d.Analytics.Timeout)
	v.SetDefault("analytics.queue_size", d.Analytics.QueueSize)
}

// loadSettings reads config.yaml from configDir, creating the directory and
// a default file on first run. A .env file next to it is loaded into the
// process environment first; variables already set win.
func loadSettings(configDir string) (Settings, error) {
	dirs := paths.Dirs{Config: configDir}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return Settings{}, systemError(fmt.Errorf("creating config dir: %w", err))
	}
	if err := ensureDefaultConfigFile(dirs.ConfigFile()); err != nil {
		return Settings{}, systemError(err)
	}
	if err := loadEnvFile(dirs.EnvFile()); err != nil {
		return Settings{}, err
	}

	v := viper.New()
	setDefaults(v, defaultSettings())
	v.SetConfigFile(dirs.ConfigFile())
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return Settings{}, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	if err := s.validate(); err != nil {
		return Settings{}, fmt.Errorf("config %s: %w", dirs.ConfigFile(), err)
	}
	return s, nil
}

func loadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// fileConfig is the shape written to a fresh config.yaml.
type fileConfig struct {
	Backend        string        `yaml:"backend"`
	SyncStrategy   string        `yaml:"sync_strategy"`
	BatchSize      int           `yaml:"batch_size"`
	BatchInterval  int           `yaml:"batch_interval"`
	Env            string        `yaml:"env"`
	LogLevel       string        `yaml:"log_level"`
	HTTPAddr       string        `yaml:"http_addr"`
	AllowedOrigins []string      `yaml:"http_allowed_origins,omitempty"`
	PanelThrottle  string        `yaml:"panel_throttle"`
	TitleUserAgent string        `yaml:"title_user_agent"`
	Analytics      fileAnalytics `yaml:"analytics"`
}

type fileAnalytics struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	MeasurementID string `yaml:"measurement_id"`
	APISecret     string `yaml:"api_secret"`
	Timeout       string `yaml:"timeout"`
}

func defaultConfigYAML() ([]byte, error) {
	d := defaultSettings()
	fc := fileConfig{
		Backend:        d.Backend,
		SyncStrategy:   d.SyncStrategy,
		BatchSize:      d.BatchSize,
		BatchInterval:  d.BatchInterval,
		Env:            d.Env,
		LogLevel:       d.LogLevel,
		HTTPAddr:       d.HTTPAddr,
		AllowedOrigins: d.HTTPAllowedOrigins,
		PanelThrottle:  d.PanelThrottle.String(),
		TitleUserAgent: d.TitleUserAgent,
		Analytics: fileAnalytics{
			Endpoint: d.Analytics.Endpoint,
			Timeout:  d.Analytics.Timeout.String(),
		},
	}

	var node yaml.Node
	if err := node.Encode(fc); err != nil {
		return nil, fmt.Errorf("encoding default config: %w", err)
	}
	node.HeadComment = "mimi configuration\n" +
		"MIMI_<KEY> environment variables override these values (MIMI_ANALYTICS_ENABLED).\n" +
		"data_dir: set to move the note database; the --data-dir flag wins.\n" +
		"http_allowed_origins: add the extension origin (chrome-extension://<id>) to let it use the HTTP API."
	return yaml.Marshal(&node)
}

// ensureDefaultConfigFile writes the default config.yaml when none exists.
func ensureDefaultConfigFile(path string) error {
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat config file: %w", err)
	}
	data, err := defaultConfigYAML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// readLastVersion returns the version recorded by the previous run, or "".
func readLastVersion(dirs paths.Dirs) string {
	data, err := os.ReadFile(dirs.VersionFile())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func writeLastVersion(dirs paths.Dirs, v string) error {
	return os.WriteFile(dirs.VersionFile(), []byte(v+"\n"), 0o644)
}
