package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "LAZYLOAD"

var configDir string
var configFilePath string

// Config is the resolved configuration for one run.
type Config struct {
	Loader    LoaderConfig
	Viewport  ViewportConfig
	Fetch     FetchConfig
	Cache     CacheConfig
	Redis     RedisConfig
	S3        S3Config
	History   HistoryConfig
	Server    ServerConfig
	Telemetry TelemetryConfig
	Log       LogConfig
}

type LoaderConfig struct {
	MaxConcurrent   int
	DispatchDelay   time.Duration
	DefaultPriority int
}

type ViewportConfig struct {
	Width      float64
	Height     float64
	RootMargin float64
}

type FetchConfig struct {
	Timeout   time.Duration
	UserAgent string
	Token     string
	Retries   int
	ProxyURL  string
}

type CacheConfig struct {
	Backend string // memory, redis
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	TTL      time.Duration
}

type S3Config struct {
	Region string
}

type HistoryConfig struct {
	Driver string // sqlite, postgres, none
	DSN    string
}

type ServerConfig struct {
	Addr string
}

type TelemetryConfig struct {
	Enabled  bool
	Endpoint string
	Sampling float64
}

type LogConfig struct {
	Level string
	File  string
}

// getConfigDir returns platform-specific config directory
func getConfigDir() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = home
		}
		return filepath.Join(appData, "sidechain", "lazyload"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "sidechain", "lazyload"), nil
}

func getSystemConfigPaths() []string {
	if runtime.GOOS == "windows" {
		return []string{filepath.Join(os.Getenv("ProgramFiles"), "Sidechain", "lazyload", "config.toml")}
	}
	return []string{
		"/etc/sidechain/lazyload/config.toml",
		"/usr/local/etc/sidechain/lazyload/config.toml",
	}
}

// Init loads defaults, the first system config found, the user config and
// LAZYLOAD_* environment overrides, in increasing precedence.
func Init(configPath string) error {
	var err error
	if configPath != "" {
		configDir = filepath.Dir(configPath)
		configFilePath = configPath
	} else {
		configDir, err = getConfigDir()
		if err != nil {
			return err
		}
		configFilePath = filepath.Join(configDir, "config.toml")
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return err
	}

	viper.Reset()
	viper.SetConfigType("toml")
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	for _, sysConfigPath := range getSystemConfigPaths() {
		if _, err := os.Stat(sysConfigPath); err == nil {
			viper.SetConfigFile(sysConfigPath)
			_ = viper.ReadInConfig()
			break
		}
	}

	// A missing user config is fine; a malformed one is not.
	if _, err := os.Stat(configFilePath); err == nil {
		viper.SetConfigFile(configFilePath)
		if err := viper.MergeInConfig(); err != nil {
			return err
		}
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("loader.max_concurrent", 3)
	viper.SetDefault("loader.dispatch_delay_ms", 50)
	viper.SetDefault("loader.default_priority", 3)

	viper.SetDefault("viewport.width", 1280)
	viper.SetDefault("viewport.height", 800)
	viper.SetDefault("viewport.root_margin", 200)

	viper.SetDefault("fetch.timeout", 30)
	viper.SetDefault("fetch.user_agent", "Sidechain-LazyLoad/0.1.0")
	viper.SetDefault("fetch.token", "")
	viper.SetDefault("fetch.retries", 0)
	viper.SetDefault("fetch.proxy_url", "")

	viper.SetDefault("cache.backend", "memory")
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.ttl_minutes", 60)

	viper.SetDefault("s3.region", "us-east-1")

	viper.SetDefault("history.driver", "sqlite")
	viper.SetDefault("history.dsn", filepath.Join(configDir, "history.db"))

	viper.SetDefault("server.addr", ":8788")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.endpoint", "localhost:4318")
	viper.SetDefault("telemetry.sampling", 1.0)

	viper.SetDefault("output.format", "text")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", filepath.Join(configDir, "lazyload.log"))
}

// Load resolves the current settings into a Config.
func Load() *Config {
	return &Config{
		Loader: LoaderConfig{
			MaxConcurrent:   viper.GetInt("loader.max_concurrent"),
			DispatchDelay:   time.Duration(viper.GetInt("loader.dispatch_delay_ms")) * time.Millisecond,
			DefaultPriority: viper.GetInt("loader.default_priority"),
		},
		Viewport: ViewportConfig{
			Width:      viper.GetFloat64("viewport.width"),
			Height:     viper.GetFloat64("viewport.height"),
			RootMargin: viper.GetFloat64("viewport.root_margin"),
		},
		Fetch: FetchConfig{
			Timeout:   time.Duration(viper.GetInt("fetch.timeout")) * time.Second,
			UserAgent: viper.GetString("fetch.user_agent"),
			Token:     viper.GetString("fetch.token"),
			Retries:   viper.GetInt("fetch.retries"),
			ProxyURL:  viper.GetString("fetch.proxy_url"),
		},
		Cache: CacheConfig{
			Backend: strings.ToLower(viper.GetString("cache.backend")),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetString("redis.port"),
			Password: viper.GetString("redis.password"),
			TTL:      time.Duration(viper.GetInt("redis.ttl_minutes")) * time.Minute,
		},
		S3: S3Config{
			Region: viper.GetString("s3.region"),
		},
		History: HistoryConfig{
			Driver: strings.ToLower(viper.GetString("history.driver")),
			DSN:    GetString("history.dsn"),
		},
		Server: ServerConfig{
			Addr: viper.GetString("server.addr"),
		},
		Telemetry: TelemetryConfig{
			Enabled:  viper.GetBool("telemetry.enabled"),
			Endpoint: viper.GetString("telemetry.endpoint"),
			Sampling: viper.GetFloat64("telemetry.sampling"),
		},
		Log: LogConfig{
			Level: viper.GetString("log.level"),
			File:  GetString("log.file"),
		},
	}
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// GetString returns a string configuration value
func GetString(key string) string {
	value := viper.GetString(key)
	if key == "log.file" || key == "history.dsn" {
		return expandPath(value)
	}
	return value
}

func GetInt(key string) int {
	return viper.GetInt(key)
}

func GetBool(key string) bool {
	return viper.GetBool(key)
}

// Set overrides a value for this process only, e.g. from a command flag.
func Set(key string, value any) {
	viper.Set(key, value)
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() string {
	return configDir
}

// GetConfigFile returns the user config file path
func GetConfigFile() string {
	return configFilePath
}
