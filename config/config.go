package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// BrokerConfig holds all configuration for the federation broker.
// Tags use mapstructure for Viper unmarshalling.
type BrokerConfig struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	PublicURL   string `mapstructure:"PUBLIC_URL"` // externally reachable base URL, used to build callback URLs
	EngineURL   string `mapstructure:"ENGINE_URL"` // base URL of the authorization engine collaborator
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogPretty   bool   `mapstructure:"LOG_PRETTY"`

	// PKCEStore selects the ephemeral session backend: "mongo", "redis"
	// or "memory".
	PKCEStore string `mapstructure:"PKCE_STORE"`
	RedisAddr string `mapstructure:"REDIS_ADDR"`

	// SecureCookies should only be disabled for local development over
	// plain http.
	SecureCookies bool `mapstructure:"SECURE_COOKIES"`

	// CorrelationTTLMin bounds both the correlation cookies and the PKCE
	// sessions. A callback arriving after this window fails and the user
	// restarts the flow.
	CorrelationTTLMin int `mapstructure:"CORRELATION_TTL_MIN"`
	// DiscoveryTTLMin bounds the per-connection OIDC discovery cache.
	DiscoveryTTLMin int `mapstructure:"DISCOVERY_TTL_MIN"`
}

// LoadConfig reads configuration from file, environment variables, and
// defaults.
func LoadConfig() (*BrokerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/idfed/")
	v.AddConfigPath("$HOME/.idfed")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("PUBLIC_URL", "http://localhost:8080")
	v.SetDefault("ENGINE_URL", "http://localhost:3000")
	v.SetDefault("SECURE_COOKIES", true)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/idfed_dev")
	v.SetDefault("MONGO_DB_NAME", "idfed_dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("PKCE_STORE", "mongo")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("CORRELATION_TTL_MIN", 10)
	v.SetDefault("DISCOVERY_TTL_MIN", 60)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults carry.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg BrokerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
