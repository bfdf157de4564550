package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	CORS        CORSConfig
	Auth        AuthConfig
	Geocode     GeocodeConfig
	PropertyAPI PropertyAPIConfig
	Sync        SyncConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

// DatabaseConfig holds PostgreSQL connection configuration for the favorites store.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	PoolMin  int
	PoolMax  int
}

// RedisConfig holds the cache connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// AuthConfig holds the shared secret used to verify bearer tokens.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// GeocodeConfig holds the geocoding boundary settings.
type GeocodeConfig struct {
	BaseURL     string
	AccessToken string
	RegionHint  string
	RPS         int
	Timeout     time.Duration
	CacheTTL    time.Duration
}

// PropertyAPIConfig holds the property query boundary settings.
type PropertyAPIConfig struct {
	BaseURL string
	RPS     int
	Timeout time.Duration
}

// SyncConfig holds discovery session tuning.
type SyncConfig struct {
	URLDebounce  time.Duration
	SessionTTL   time.Duration
	ListingCache time.Duration
	SearchPath   string
}

// Load reads configuration from environment variables.
// It uses viper to read values and provides sensible defaults for development.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "homefinder")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:3001")
	v.SetDefault("JWT_ISSUER", "homefinder")
	v.SetDefault("GEOCODE_BASE_URL", "https://api.mapbox.com/geocoding/v5/mapbox.places")
	v.SetDefault("GEOCODE_REGION_HINT", "Tarkwa Ghana")
	v.SetDefault("GEOCODE_RPS", 5)
	v.SetDefault("GEOCODE_TIMEOUT", "10s")
	v.SetDefault("GEOCODE_CACHE_TTL", "24h")
	v.SetDefault("PROPERTY_API_URL", "http://localhost:3001")
	v.SetDefault("PROPERTY_API_RPS", 10)
	v.SetDefault("PROPERTY_API_TIMEOUT", "15s")
	v.SetDefault("URL_DEBOUNCE", "300ms")
	v.SetDefault("SESSION_TTL", "30m")
	v.SetDefault("LISTING_CACHE_TTL", "60s")
	v.SetDefault("SEARCH_PATH", "/search")

	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("PORT"),
			Env:      v.GetString("ENV"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		CORS: CORSConfig{
			Origins: parseOrigins(v.GetString("CORS_ORIGINS")),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("JWT_SECRET"),
			Issuer:    v.GetString("JWT_ISSUER"),
		},
		Geocode: GeocodeConfig{
			BaseURL:     v.GetString("GEOCODE_BASE_URL"),
			AccessToken: v.GetString("MAPBOX_ACCESS_TOKEN"),
			RegionHint:  v.GetString("GEOCODE_REGION_HINT"),
			RPS:         v.GetInt("GEOCODE_RPS"),
			Timeout:     v.GetDuration("GEOCODE_TIMEOUT"),
			CacheTTL:    v.GetDuration("GEOCODE_CACHE_TTL"),
		},
		PropertyAPI: PropertyAPIConfig{
			BaseURL: v.GetString("PROPERTY_API_URL"),
			RPS:     v.GetInt("PROPERTY_API_RPS"),
			Timeout: v.GetDuration("PROPERTY_API_TIMEOUT"),
		},
		Sync: SyncConfig{
			URLDebounce:  v.GetDuration("URL_DEBOUNCE"),
			SessionTTL:   v.GetDuration("SESSION_TTL"),
			ListingCache: v.GetDuration("LISTING_CACHE_TTL"),
			SearchPath:   v.GetString("SEARCH_PATH"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.Port == "" {
		return fmt.Errorf("DB_PORT is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Database.PoolMin < 0 {
		return fmt.Errorf("DB_POOL_MIN must be non-negative")
	}
	if c.Database.PoolMax < 1 {
		return fmt.Errorf("DB_POOL_MAX must be at least 1")
	}
	if c.Database.PoolMin > c.Database.PoolMax {
		return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}

	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Geocode.AccessToken == "" {
		return fmt.Errorf("MAPBOX_ACCESS_TOKEN is required")
	}
	if c.Geocode.BaseURL == "" {
		return fmt.Errorf("GEOCODE_BASE_URL is required")
	}
	if c.Geocode.RPS < 1 {
		return fmt.Errorf("GEOCODE_RPS must be at least 1")
	}

	if c.PropertyAPI.BaseURL == "" {
		return fmt.Errorf("PROPERTY_API_URL is required")
	}
	if c.PropertyAPI.RPS < 1 {
		return fmt.Errorf("PROPERTY_API_RPS must be at least 1")
	}

	if c.Sync.URLDebounce <= 0 {
		return fmt.Errorf("URL_DEBOUNCE must be positive")
	}
	if c.Sync.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if !strings.HasPrefix(c.Sync.SearchPath, "/") {
		return fmt.Errorf("SEARCH_PATH must start with /")
	}

	return nil
}

// parseOrigins splits a comma-separated string of origins into a slice.
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
