package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"TODO_BASE_URL", "TODO_TOKEN", "TODO_SECRET", "TODO_DB_PATH"} {
		t.Setenv(k, "")
	}
}

func TestLoadOrCreateWritesDefaults(t *testing.T) {
	clearEnv(t)
	fs := afero.NewMemMapFs()

	cfg, err := LoadOrCreate(fs, "/etc/esther/config.toml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/esther/todo.db", cfg.DBPath)
	assert.True(t, cfg.Server.AllowAnonymous)
	assert.Equal(t, DefaultListFormat, cfg.UI.ListFormat)

	exists, err := afero.Exists(fs, "/etc/esther/config.toml")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLoadOrCreateReadsExisting(t *testing.T) {
	clearEnv(t)
	fs := afero.NewMemMapFs()
	data := []byte(`
db_path = "/data/todo.db"

[server]
listen = ":8080"
allow_anonymous = false

[client]
base_url = "http://todo.local"
`)
	require.NoError(t, afero.WriteFile(fs, "/cfg/config.toml", data, 0o644))

	cfg, err := LoadOrCreate(fs, "/cfg/config.toml")
	require.NoError(t, err)
	assert.Equal(t, "/data/todo.db", cfg.DBPath)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.False(t, cfg.Server.AllowAnonymous)
	assert.Equal(t, "http://todo.local", cfg.Client.BaseURL)
	// untouched sections keep their defaults
	assert.Equal(t, "q", cfg.Keys.Quit)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TODO_TOKEN", "abc")
	t.Setenv("TODO_SECRET", "shh")

	cfg, err := LoadOrCreate(afero.NewMemMapFs(), "/x/config.toml")
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.Client.Token)
	assert.Equal(t, "shh", cfg.Server.Secret)
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	fs := afero.NewMemMapFs()
	cfg, err := LoadOrCreate(fs, "/x/config.toml")
	require.NoError(t, err)

	cfg.Client.Token = "tok"
	require.NoError(t, Save(fs, "/x/config.toml", cfg))

	again, err := LoadOrCreate(fs, "/x/config.toml")
	require.NoError(t, err)
	assert.Equal(t, "tok", again.Client.Token)
}
