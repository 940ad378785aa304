package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "WATCHPARTY"

type Config struct {
	Mode          string        `mapstructure:"mode"`
	Port          int           `mapstructure:"port"`
	StaticPath    string        `mapstructure:"static_path"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	PongWait      time.Duration `mapstructure:"pong_wait"`
	Secret        string        `mapstructure:"secret"`
	RoomIdleTTL   time.Duration `mapstructure:"room_idle_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	SendBuffer    int           `mapstructure:"send_buffer"`
	LogLevel      string        `mapstructure:"log_level"`

	// BackpressureStrikes is how many full-buffer drops a connection gets
	// before it is kicked.
	BackpressureStrikes int `mapstructure:"backpressure_strikes"`

	ChatRateLimit RateLimit    `mapstructure:"chat_rate_limit"`
	Redis         RedisConfig  `mapstructure:"redis"`
	Client        ClientConfig `mapstructure:"client"`
}

type RateLimit struct {
	Count  int           `mapstructure:"count"`
	Window time.Duration `mapstructure:"window"`
}

// RedisConfig enables the presence mirror when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ClientConfig drives the headless participant.
type ClientConfig struct {
	ServerURL          string        `mapstructure:"server_url"`
	Username           string        `mapstructure:"username"`
	STUNURLs           []string      `mapstructure:"stun_urls"`
	TURNURLs           []string      `mapstructure:"turn_urls"`
	TURNUsername       string        `mapstructure:"turn_username"`
	TURNPassword       string        `mapstructure:"turn_password"`
	ForceRelay         bool          `mapstructure:"force_relay"`
	FallbackWindow     time.Duration `mapstructure:"fallback_window"`
	RequestStreamDelay time.Duration `mapstructure:"request_stream_delay"`
	ViewerControl      bool          `mapstructure:"viewer_control"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default).
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName, falling back to defaults when it is missing.
// WATCHPARTY_* environment variables override both.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 1_000_000)
	v.SetDefault("ping_period", "25s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("secret", "watchparty-dev-secret")
	v.SetDefault("room_idle_ttl", "30m")
	v.SetDefault("sweep_interval", "5m")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("backpressure_strikes", 3)
	v.SetDefault("log_level", "info")
	v.SetDefault("chat_rate_limit.count", 20)
	v.SetDefault("chat_rate_limit.window", "10s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "watchparty")
	v.SetDefault("redis.ttl", "1h")

	v.SetDefault("client.server_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("client.username", "")
	v.SetDefault("client.stun_urls", []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
		"stun:stun2.l.google.com:19302",
	})
	v.SetDefault("client.turn_urls", []string{})
	v.SetDefault("client.turn_username", "")
	v.SetDefault("client.turn_password", "")
	v.SetDefault("client.force_relay", false)
	v.SetDefault("client.fallback_window", "15s")
	v.SetDefault("client.request_stream_delay", "400ms")
	v.SetDefault("client.viewer_control", false)
}
