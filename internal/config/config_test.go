package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("E5N_JWT_SECRET", "secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, "localhost", cfg.DB.Host)
	assert.Equal(t, int32(20), cfg.DB.MaxConns)
	assert.Equal(t, 10.0, cfg.BasePoint)
	assert.Equal(t, "E5N", cfg.ScoringEventCode)
	assert.Equal(t, 60*time.Second, cfg.StudentListTTL)
	assert.Equal(t, map[int]float64{1: 1, 2: 0.8, 3: 0.7, 4: 0.6}, cfg.TeamSizeModifiers)
	assert.Equal(t, "host=localhost port=5432 user=postgres password=postgres dbname=e5n sslmode=disable", cfg.DB.DSN())
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("E5N_JWT_SECRET", "")
	os.Unsetenv("E5N_JWT_SECRET")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("E5N_JWT_SECRET=fromfile\nE5N_STORE=memory\nE5N_DB_NAME=school\n"), 0o600))
	t.Setenv("E5N_JWT_SECRET", "")
	os.Unsetenv("E5N_JWT_SECRET")
	t.Setenv("E5N_STORE", "")
	os.Unsetenv("E5N_STORE")
	t.Setenv("E5N_DB_NAME", "")
	os.Unsetenv("E5N_DB_NAME")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "fromfile", cfg.JWTSecret)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "school", cfg.DB.Name)
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	t.Setenv("E5N_JWT_SECRET", "secret")
	t.Setenv("E5N_STORE", "mongo")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "unknown store")
}

func TestTeamSizeModifier(t *testing.T) {
	cfg := Config{TeamSizeModifiers: map[int]float64{2: 0.8, 3: 0.7, 5: 0.5}}
	mod := cfg.TeamSizeModifier()

	assert.Equal(t, 0.8, mod(1))
	assert.Equal(t, 0.8, mod(2))
	assert.Equal(t, 0.7, mod(3))
	assert.Equal(t, 0.7, mod(4))
	assert.Equal(t, 0.5, mod(9))
}
