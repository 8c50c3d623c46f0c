package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaults(t *testing.T) {
	for _, k := range []string{"STORE_DRIVER", "MYSQL_DSN", "SQLITE_PATH", "FEED_PAGE_SIZE", "PROVISION_MAX_ATTEMPTS", "REDIS_ADDR", "LOG_SOURCE"} {
		t.Setenv(k, "")
	}
	cfg := New()

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "root:root@tcp(localhost:3306)/feedsync?parseTime=true&charset=utf8mb4&loc=UTC", cfg.DB.DSN)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 20, cfg.Feed.PageSize)
	assert.Equal(t, 20, cfg.Provision.MaxAttempts)
	assert.Equal(t, 100000, cfg.Provision.SuffixRange)
	assert.False(t, cfg.Log.Source)
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", " SQL ")
	t.Setenv("MYSQL_DSN", "u:p@tcp(db:3306)/x")
	t.Setenv("FEED_PAGE_SIZE", "5")
	t.Setenv("PROVISION_MAX_ATTEMPTS", "-3")
	t.Setenv("LOG_SOURCE", "yes")
	t.Setenv("ADMIN_USERNAME", "root")
	cfg := New()

	assert.Equal(t, "sql", cfg.Store.Driver)
	assert.Equal(t, "u:p@tcp(db:3306)/x", cfg.DB.DSN)
	assert.Empty(t, cfg.DB.Host)
	assert.Equal(t, 5, cfg.Feed.PageSize)
	// non-positive numbers fall back to the default
	assert.Equal(t, 20, cfg.Provision.MaxAttempts)
	assert.True(t, cfg.Log.Source)
	assert.Equal(t, "root", cfg.App.AdminUsername)
}
