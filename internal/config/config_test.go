package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"port": 8080,
		"database": {"host": "localhost", "user": "docchat", "dbname": "docchat"},
		"auth": {"supabase": {"jwt_secret": "secret"}},
		"ai": {
			"generators": [{"provider": "openai", "model": "gpt-4o-mini", "data": {"api_key": "k"}}],
			"embedders": [{"provider": "openai", "model": "text-embedding-3-small", "data": {"api_key": "k"}}]
		}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5432, cfg.Database.Port)
	require.Equal(t, "local", cfg.FileStore.Type)
	require.Equal(t, "pgvector", cfg.VectorStore.Type)
	require.Equal(t, "memory", cfg.RateLimit.Backend)
	require.Equal(t, 20, cfg.RateLimit.Chat.Limit)
	require.Equal(t, 60, cfg.RateLimit.Chat.WindowSeconds)
	require.Equal(t, "authenticated", cfg.Auth.Supabase.Audience)
	require.Equal(t, 7, cfg.Auth.InviteTTLDays)
	require.Equal(t, 8, cfg.Chat.TopK)
	require.Equal(t, "info", cfg.LogConfig.Level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing port", body: `{"database": {"host": "h"}}`},
		{name: "missing database", body: `{"port": 1}`},
		{name: "missing supabase secret", body: `{"port": 1, "database": {"host": "h"}}`},
		{name: "bad vector store", body: `{"port": 1, "database": {"host": "h"}, "auth": {"supabase": {"jwt_secret": "s"}}, "vector_store": {"type": "qdrant"}}`},
		{name: "redis backend without addr", body: `{"port": 1, "database": {"host": "h"}, "auth": {"supabase": {"jwt_secret": "s"}}, "ai": {"generators": [{"provider": "openai"}], "embedders": [{"provider": "openai"}]}, "rate_limit": {"backend": "redis"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}
