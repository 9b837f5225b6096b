package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "GOSH_FETCH"

// Config holds process configuration aggregated from env/config files.
// User-editable download settings live in the database, not here.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Log struct {
		Level string
	}
	Bridge struct {
		CommandBuffer int `mapstructure:"command_buffer"`
		EventBuffer   int `mapstructure:"event_buffer"`
	}
	Engine struct {
		StatusInterval time.Duration `mapstructure:"status_interval"`
	}
	Resolver struct {
		Timeout time.Duration
	}
	Trackers struct {
		URL             string
		RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	}
	History struct {
		Limit int
	}
	API struct {
		TokenSecret string        `mapstructure:"token_secret"`
		TokenTTL    time.Duration `mapstructure:"token_ttl"`
	}
	Storage struct {
		Bucket    string
		KeyPrefix string `mapstructure:"key_prefix"`
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
}

// Load reads configuration from the environment, an optional .env file and
// an optional config file. configFile overrides the search path when set.
func Load(configFile string) (Config, error) {
	// existing environment wins over .env
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "gosh-fetch"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:6880")
	v.SetDefault("database.path", DefaultDatabasePath())
	v.SetDefault("log.level", "info")
	v.SetDefault("bridge.command_buffer", 100)
	v.SetDefault("bridge.event_buffer", 100)
	v.SetDefault("engine.status_interval", time.Second)
	v.SetDefault("resolver.timeout", 30*time.Second)
	v.SetDefault("trackers.url", "https://raw.githubusercontent.com/ngosang/trackerslist/master/trackers_best.txt")
	v.SetDefault("trackers.refresh_interval", time.Hour)
	v.SetDefault("history.limit", 100)
	v.SetDefault("api.token_secret", "")
	v.SetDefault("api.token_ttl", 720*time.Hour)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.key_prefix", "gosh-fetch")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
}

// DefaultDatabasePath is one store per user profile.
func DefaultDatabasePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join("data", "gosh-fetch.db")
	}
	return filepath.Join(dir, "gosh-fetch", "gosh-fetch.db")
}
