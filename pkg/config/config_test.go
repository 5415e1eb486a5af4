package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettingsValidate(t *testing.T) {
	settings := DefaultSettings()
	assert.NoError(t, settings.Validate())
}

func TestBackendSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		backend BackendSettings
		wantErr bool
	}{
		{
			name:    "memory",
			backend: BackendSettings{Type: BackendMemory},
		},
		{
			name:    "memory with redis settings",
			backend: BackendSettings{Type: BackendMemory, Redis: &RedisSettings{URL: "redis://localhost:6379"}},
			wantErr: true,
		},
		{
			name:    "memory with archive",
			backend: BackendSettings{Type: BackendMemory, Archive: &ArchiveSettings{DSN: "postgres://x"}},
			wantErr: true,
		},
		{
			name:    "memory with vector",
			backend: BackendSettings{Type: BackendMemory, Vector: &VectorSettings{Provider: "openai"}},
			wantErr: true,
		},
		{
			name:    "redis",
			backend: BackendSettings{Type: BackendRedis, Redis: &RedisSettings{URL: "redis://localhost:6379"}},
		},
		{
			name:    "redis without url",
			backend: BackendSettings{Type: BackendRedis},
			wantErr: true,
		},
		{
			name: "redis with archive",
			backend: BackendSettings{
				Type:    BackendRedis,
				Redis:   &RedisSettings{URL: "redis://localhost:6379"},
				Archive: &ArchiveSettings{DSN: "postgres://localhost/memoir"},
			},
		},
		{
			name: "redis with empty archive dsn",
			backend: BackendSettings{
				Type:    BackendRedis,
				Redis:   &RedisSettings{URL: "redis://localhost:6379"},
				Archive: &ArchiveSettings{},
			},
			wantErr: true,
		},
		{
			name: "redis with vector",
			backend: BackendSettings{
				Type:   BackendRedis,
				Redis:  &RedisSettings{URL: "redis://localhost:6379"},
				Vector: &VectorSettings{Provider: "openai", Model: "text-embedding-3-small"},
			},
		},
		{
			name: "redis with empty vector provider",
			backend: BackendSettings{
				Type:   BackendRedis,
				Redis:  &RedisSettings{URL: "redis://localhost:6379"},
				Vector: &VectorSettings{},
			},
			wantErr: true,
		},
		{
			name:    "missing type",
			backend: BackendSettings{},
			wantErr: true,
		},
		{
			name:    "unknown type",
			backend: BackendSettings{Type: "sqlite"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.backend.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestModelSettingsValidate(t *testing.T) {
	settings := DefaultSettings()

	settings.Model = ModelSettings{Provider: "openai"}
	assert.Error(t, settings.Validate())

	settings.Model = ModelSettings{Provider: "openai", APIKey: "sk-test"}
	assert.NoError(t, settings.Validate())

	settings.Model = ModelSettings{Provider: "ollama", Name: "llama3"}
	assert.NoError(t, settings.Validate())

	settings.Model = ModelSettings{Provider: "gpt5000"}
	assert.Error(t, settings.Validate())

	settings.Model = ModelSettings{}
	assert.Error(t, settings.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memoir.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend:
  type: redis
  redis:
    url: redis://localhost:6379
model:
  provider: echo
tokenizerModel: gpt-4
`), 0o600))

	settings, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, settings.Backend.Type)
	assert.Equal(t, "redis://localhost:6379", settings.Backend.Redis.URL)
	assert.Equal(t, "echo", settings.Model.Provider)
	assert.Equal(t, "gpt-4", settings.TokenizerModel)
}

func TestLoadFromFileInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memoir.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend:
  type: memory
  archive:
    dsn: postgres://nope
model:
  provider: echo
`), 0o600))

	_, err := LoadFromFile(path)
	require.Error(t, err)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/memoir.yaml")
	require.Error(t, err)
}
