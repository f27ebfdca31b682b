package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode   string `mapstructure:"mode"`
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"`

	Match     Match     `mapstructure:"match"`
	Room      Room      `mapstructure:"room"`
	Reconnect Reconnect `mapstructure:"reconnect"`
	Coins     Coins     `mapstructure:"coins"`

	PostgresURL string `mapstructure:"postgres_url"`
	RedisAddr   string `mapstructure:"redis_addr"`
}

type Match struct {
	Delay       time.Duration `mapstructure:"delay"`
	DrainDelay  time.Duration `mapstructure:"drain_delay"`
	PartnerKeep int           `mapstructure:"partner_keep"`
	PartnerTTL  time.Duration `mapstructure:"partner_ttl"`
}

type Room struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	TypingTTL      time.Duration `mapstructure:"typing_ttl"`
	RateLimit      int           `mapstructure:"rate_limit"`
	RateWindow     time.Duration `mapstructure:"rate_window"`
	MaxIdle        time.Duration `mapstructure:"max_idle"`
	SweepEvery     time.Duration `mapstructure:"sweep_every"`
	LimiterIdleTTL time.Duration `mapstructure:"limiter_idle_ttl"`
	LimiterSweep   time.Duration `mapstructure:"limiter_sweep"`
}

type Reconnect struct {
	Window       time.Duration `mapstructure:"window"`
	SessionGrace time.Duration `mapstructure:"session_grace"`
}

type Coins struct {
	MatchCost int `mapstructure:"match_cost"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "change-me")

	v.SetDefault("match.delay", "150ms")
	v.SetDefault("match.drain_delay", "100ms")
	v.SetDefault("match.partner_keep", 5)
	v.SetDefault("match.partner_ttl", "5m")

	v.SetDefault("room.buffer_size", 30)
	v.SetDefault("room.typing_ttl", "3s")
	v.SetDefault("room.rate_limit", 10)
	v.SetDefault("room.rate_window", "10s")
	v.SetDefault("room.max_idle", "30m")
	v.SetDefault("room.sweep_every", "5m")
	v.SetDefault("room.limiter_idle_ttl", "5m")
	v.SetDefault("room.limiter_sweep", "1m")

	v.SetDefault("reconnect.window", "30s")
	v.SetDefault("reconnect.session_grace", "60s")

	v.SetDefault("coins.match_cost", 1)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d\n", cfg.Mode, cfg.Port)
	return &cfg, nil
}
