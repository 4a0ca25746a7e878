package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LatencyRange bounds one class of simulated repository delay.
type LatencyRange struct {
	Min time.Duration
	Max time.Duration
}

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Log struct {
		Level  string
		Format string
	}
	Seed struct {
		Enabled bool
	}
	Latency struct {
		Enabled bool
		Create  LatencyRange
		Update  LatencyRange
		Read    LatencyRange
	}
	Database struct {
		Path string
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	Metrics struct {
		Enabled bool
	}
}

// Load reads configuration from environment variables and optional config files.
// A .env file in the working directory is applied first; variables already
// present in the environment win over it.
func Load() (Config, error) {
	_ = godotenv.Load() // optional file

	v := viper.New()
	v.SetEnvPrefix("USERHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("seed.enabled", true)
	v.SetDefault("latency.enabled", true)
	v.SetDefault("latency.create.min", 500*time.Millisecond)
	v.SetDefault("latency.create.max", 1500*time.Millisecond)
	v.SetDefault("latency.update.min", 200*time.Millisecond)
	v.SetDefault("latency.update.max", 700*time.Millisecond)
	v.SetDefault("latency.read.min", 100*time.Millisecond)
	v.SetDefault("latency.read.max", 400*time.Millisecond)
	v.SetDefault("database.path", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "userhub-snapshots")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("metrics.enabled", true)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	ranges := map[string]LatencyRange{
		"create": c.Latency.Create,
		"update": c.Latency.Update,
		"read":   c.Latency.Read,
	}
	for name, r := range ranges {
		if r.Min < 0 || r.Max < 0 {
			return fmt.Errorf("latency.%s: negative duration", name)
		}
		if r.Max < r.Min {
			return fmt.Errorf("latency.%s: max %s below min %s", name, r.Max, r.Min)
		}
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}
