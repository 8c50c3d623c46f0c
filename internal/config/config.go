package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Log struct {
		Level     string
		Format    string
		Component string
		Source    bool
	}

	Store struct {
		// Driver selects the remote store backend: memory, sql or firestore.
		Driver string
	}

	DB struct {
		DSN        string
		Host       string
		Port       string
		User       string
		Password   string
		Name       string
		SQLitePath string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	Firebase struct {
		ProjectID       string
		CredentialsJSON string
	}

	Feed struct {
		PageSize int
	}

	Provision struct {
		MaxAttempts int
		SuffixRange int
	}

	App struct {
		AdminUsername string
		MetricsAddr   string
	}
}

func New() *Config {
	cfg := &Config{}

	// Logger
	cfg.Log.Level = getEnvDefault("LOG_LEVEL", "info")
	cfg.Log.Format = getEnvDefault("LOG_FORMAT", "text")
	cfg.Log.Component = getEnvDefault("LOG_COMPONENT", "feedsync")
	cfg.Log.Source = isTruthy(os.Getenv("LOG_SOURCE"))

	cfg.Store.Driver = strings.ToLower(getEnvDefault("STORE_DRIVER", "memory"))

	// Database. SQLITE_PATH wins over MySQL settings when present.
	cfg.DB.SQLitePath = os.Getenv("SQLITE_PATH")
	cfg.DB.DSN = os.Getenv("MYSQL_DSN")
	if cfg.DB.DSN == "" {
		cfg.DB.Host = getEnvDefault("DB_HOST", "localhost")
		cfg.DB.Port = getEnvDefault("DB_PORT", "3306")
		cfg.DB.User = getEnvDefault("DB_USER", "root")
		cfg.DB.Password = getEnvDefault("DB_PASSWORD", "root")
		cfg.DB.Name = getEnvDefault("DB_NAME", "feedsync")

		cfg.DB.DSN = fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
			cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name,
		)
	}

	// Redis
	cfg.Redis.Addr = getEnvDefault("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnvDefault("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	// Firebase
	cfg.Firebase.ProjectID = os.Getenv("FIREBASE_PROJECT_ID")
	cfg.Firebase.CredentialsJSON = os.Getenv("FIREBASE_CREDENTIALS_JSON")

	cfg.Feed.PageSize = getEnvInt("FEED_PAGE_SIZE", 20)

	cfg.Provision.MaxAttempts = getEnvInt("PROVISION_MAX_ATTEMPTS", 20)
	cfg.Provision.SuffixRange = getEnvInt("PROVISION_SUFFIX_RANGE", 100000)

	cfg.App.AdminUsername = getEnvDefault("ADMIN_USERNAME", "")
	cfg.App.MetricsAddr = getEnvDefault("METRICS_ADDR", ":9090")

	return cfg
}

func getEnvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v := getEnvDefault(k, ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}
