package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Tracking       TrackingConfig       `mapstructure:"tracking"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Neo4j          Neo4jConfig          `mapstructure:"neo4j"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	Auth           AuthConfig           `mapstructure:"auth"`
	Remote         RemoteConfig         `mapstructure:"remote"`
	Recommendation RecommendationConfig `mapstructure:"recommendation"`
	Context        ContextConfig        `mapstructure:"context"`
	Session        SessionConfig        `mapstructure:"session"`
	Catalog        CatalogConfig        `mapstructure:"catalog"`
	Security       SecurityConfig       `mapstructure:"security"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig selects the durable per-visitor store.
// Driver is one of memory, redis or postgres. QuotaBytes bounds each
// visitor's keys in the memory driver, the way a browser bounds one origin.
type StorageConfig struct {
	Driver        string        `mapstructure:"driver"`
	QuotaBytes    int           `mapstructure:"quota_bytes"`
	KeyTTL        time.Duration `mapstructure:"key_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// TrackingConfig bounds how long one sink may hold up an event.
type TrackingConfig struct {
	SinkTimeout time.Duration `mapstructure:"sink_timeout"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type Neo4jConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topics  struct {
		UserInteractions string `mapstructure:"user_interactions"`
	} `mapstructure:"topics"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AuthConfig verifies identity tokens issued by the storefront's identity
// provider. With no secret configured, login accepts a bare user id.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type RemoteConfig struct {
	Recommendations RemoteEndpointConfig `mapstructure:"recommendations"`
	Interactions    RemoteEndpointConfig `mapstructure:"interactions"`
}

// RemoteEndpointConfig describes one external HTTP collaborator. An empty
// BaseURL disables it.
type RemoteEndpointConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Method  string        `mapstructure:"method"`
	Timeout time.Duration `mapstructure:"timeout"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

func (c RemoteEndpointConfig) Enabled() bool {
	return strings.TrimSpace(c.BaseURL) != ""
}

type BreakerConfig struct {
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

type RecommendationConfig struct {
	DefaultCount   int           `mapstructure:"default_count"`
	MaxCount       int           `mapstructure:"max_count"`
	RemoteCacheTTL time.Duration `mapstructure:"remote_cache_ttl"`
}

type ContextConfig struct {
	GeolocationTimeout time.Duration `mapstructure:"geolocation_timeout"`
	DefaultTimezone    string        `mapstructure:"default_timezone"`
}

type SessionConfig struct {
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
	CookieName    string        `mapstructure:"cookie_name"`
	CookieMaxAge  time.Duration `mapstructure:"cookie_max_age"`
	CookieSecure  bool          `mapstructure:"cookie_secure"`
	VisitorHeader string        `mapstructure:"visitor_header"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// Load reads config/app.yaml (optional), applies defaults and lets
// environment variables override any key, e.g. STORAGE_DRIVER=redis.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "development")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Storage defaults
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.quota_bytes", 5*1024*1024)
	v.SetDefault("storage.key_ttl", "720h")
	v.SetDefault("storage.sweep_interval", "10m")

	// Tracking defaults
	v.SetDefault("tracking.sink_timeout", "3s")

	// Database defaults
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_time", "15m")
	v.SetDefault("database.max_lifetime", "1h")
	v.SetDefault("database.connect_timeout", "10s")

	// Redis defaults
	v.SetDefault("redis.url", "localhost:6379")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.timeout", "5s")

	// Neo4j defaults
	v.SetDefault("neo4j.enabled", false)
	v.SetDefault("neo4j.url", "neo4j://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.database", "neo4j")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topics.user_interactions", "user-interactions")
	v.SetDefault("kafka.write_timeout", "5s")

	// Auth defaults
	v.SetDefault("auth.token_ttl", "24h")

	// Remote collaborator defaults
	for _, endpoint := range []string{"recommendations", "interactions"} {
		prefix := "remote." + endpoint
		v.SetDefault(prefix+".base_url", "")
		v.SetDefault(prefix+".timeout", "2s")
		v.SetDefault(prefix+".breaker.max_requests", 1)
		v.SetDefault(prefix+".breaker.interval", "60s")
		v.SetDefault(prefix+".breaker.timeout", "30s")
		v.SetDefault(prefix+".breaker.min_requests", 5)
		v.SetDefault(prefix+".breaker.failure_ratio", 0.6)
	}
	v.SetDefault("remote.recommendations.method", "post")
	v.SetDefault("remote.interactions.method", "post")

	// Recommendation defaults
	v.SetDefault("recommendation.default_count", 4)
	v.SetDefault("recommendation.max_count", 50)
	v.SetDefault("recommendation.remote_cache_ttl", "5m")

	// Context defaults
	v.SetDefault("context.geolocation_timeout", "5s")
	v.SetDefault("context.default_timezone", "UTC")

	// Session defaults
	v.SetDefault("session.idle_ttl", "30m")
	v.SetDefault("session.cookie_name", "shopsense_visitor")
	v.SetDefault("session.cookie_max_age", "8760h")
	v.SetDefault("session.cookie_secure", false)
	v.SetDefault("session.visitor_header", "X-Visitor-ID")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"})
	v.SetDefault("security.cors.allowed_headers", []string{"*"})
}
