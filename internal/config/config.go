package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBDSN    string
	RedisDSN string
	HTTPAddr string
	LogLevel string

	// default poll interval; per-install override lives in the settings table
	CheckInterval time.Duration

	// static credential fallbacks, lowest rung of the precedence chain
	// (account config_json -> stored setting -> these)
	SpotifyCookie    string
	InstagramSession string

	AdminSecretKey string
	CORSOrigins    []string

	// optional S3/R2 profile image archive
	MediaEndpoint  string
	MediaBucket    string
	MediaRegion    string
	MediaAccessKey string
	MediaSecretKey string
	MediaPublicURL string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DBDSN:            os.Getenv("DB_DSN"),
		RedisDSN:         getenvDefault("REDIS_DSN", "redis://localhost:6379/0"),
		HTTPAddr:         getenvDefault("HTTP_ADDR", ":3456"),
		LogLevel:         getenvDefault("LOG_LEVEL", "info"),
		SpotifyCookie:    os.Getenv("SP_DC_COOKIE"),
		InstagramSession: os.Getenv("INSTAGRAM_SESSION_ID"),
		AdminSecretKey:   getenvDefault("ADMIN_SECRET_KEY", ""),
		MediaEndpoint:    os.Getenv("MEDIA_ENDPOINT"),
		MediaBucket:      os.Getenv("MEDIA_BUCKET"),
		MediaRegion:      getenvDefault("MEDIA_REGION", "auto"),
		MediaAccessKey:   os.Getenv("MEDIA_ACCESS_KEY_ID"),
		MediaSecretKey:   os.Getenv("MEDIA_SECRET_ACCESS_KEY"),
		MediaPublicURL:   os.Getenv("MEDIA_PUBLIC_URL"),
	}

	if cfg.DBDSN == "" {
		return Config{}, errors.New("missing DB_DSN")
	}

	interval := 300
	if raw := os.Getenv("CHECK_INTERVAL"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 10 {
			return Config{}, errors.New("CHECK_INTERVAL must be an integer >= 10 (seconds)")
		}
		interval = n
	}
	cfg.CheckInterval = time.Duration(interval) * time.Second

	corsOrigins := getenvDefault("CORS_ORIGINS", "")
	if corsOrigins != "" {
		cfg.CORSOrigins = strings.Split(corsOrigins, ",")
		for i := range cfg.CORSOrigins {
			cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
		}
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000"}
	}

	return cfg, nil
}

// MediaConfigured reports whether the optional image archive can be enabled.
func (c Config) MediaConfigured() bool {
	return c.MediaBucket != "" && c.MediaAccessKey != "" && c.MediaSecretKey != ""
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
