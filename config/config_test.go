package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "STORE_DRIVER", "STORE_FIXTURE", "JWT_SECRET_KEY", "SERVER_PORT",
		"WEBSOCKET_AUTH_TIMEOUT", "WS_RATE_LIMIT", "WS_RATE_BURST", "CORS_ALLOWED_ORIGINS", "RUN_MIGRATIONS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/league")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, 10*time.Second, cfg.AuthTimeout)
	assert.Equal(t, 5.0, cfg.WSRateLimit)
	assert.Equal(t, 10, cfg.WSRateBurst)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.RunMigrations)
	assert.Empty(t, cfg.JWTSecretKey)
}

func TestLoad_MemoryDriverNeedsNoDatabase(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("WEBSOCKET_AUTH_TIMEOUT", "3")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, 3*time.Second, cfg.AuthTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing database url", map[string]string{}},
		{"unknown driver", map[string]string{"STORE_DRIVER": "mysql"}},
		{"bad port", map[string]string{"DATABASE_URL": "x", "SERVER_PORT": "99999"}},
		{"bad timeout", map[string]string{"DATABASE_URL": "x", "WEBSOCKET_AUTH_TIMEOUT": "soon"}},
		{"zero timeout", map[string]string{"DATABASE_URL": "x", "WEBSOCKET_AUTH_TIMEOUT": "0"}},
		{"bad burst", map[string]string{"DATABASE_URL": "x", "WS_RATE_BURST": "-1"}},
		{"bad migrations flag", map[string]string{"DATABASE_URL": "x", "RUN_MIGRATIONS": "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
