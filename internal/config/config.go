package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	SignalURL string `mapstructure:"signal_url"`

	Call CallConfig `mapstructure:"call"`
}

// CallConfig is the immutable per-session configuration handed unmodified
// to every new peer connection.
type CallConfig struct {
	STUNServers    []string `mapstructure:"stun_servers"`
	TURNServer     string   `mapstructure:"turn_server"`
	TURNUsername   string   `mapstructure:"turn_username"`
	TURNCredential string   `mapstructure:"turn_credential"`

	CandidatePoolSize uint8 `mapstructure:"candidate_pool_size"`
	MaxReconnects     int   `mapstructure:"max_reconnects"`
	VoiceOnly         bool  `mapstructure:"voice_only"`
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
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("signal_url", "ws://localhost:8080/api/ws/signal")

	v.SetDefault("call.stun_servers", []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
	})
	v.SetDefault("call.candidate_pool_size", 10)
	v.SetDefault("call.max_reconnects", 3)
	v.SetDefault("call.voice_only", false)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
