package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func missingEnvFile(t *testing.T) string {
	return "-env-file=" + filepath.Join(t.TempDir(), "absent.env")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load([]string{missingEnvFile(t)}, noEnv)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_EnvironmentThenFlags(t *testing.T) {
	env := envOf(map[string]string{
		"PORT":             "9000",
		"DB_PATH":          "/var/lib/tips.db",
		"LOG_LEVEL":        "debug",
		"AUTO_CLOSE_SWEEP": "30s",
		"RATE_LIMIT":       "2.5",
	})

	cfg, err := load([]string{missingEnvFile(t)}, env)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "/var/lib/tips.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 2.5, cfg.RateLimit)

	// Flags override the environment.
	cfg, err = load([]string{missingEnvFile(t), "-port", "7000", "-db=:memory:", "-sweep=0"}, env)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Zero(t, cfg.SweepInterval)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{"bad port env", map[string]string{"PORT": "http"}, nil},
		{"bad sweep env", map[string]string{"AUTO_CLOSE_SWEEP": "often"}, nil},
		{"port out of range", nil, []string{"-port=70000"}},
		{"negative sweep", nil, []string{"-sweep=-1s"}},
		{"empty db", nil, []string{"-db="}},
		{"bad rate env", map[string]string{"RATE_LIMIT": "fast"}, nil},
		{"zero burst", nil, []string{"-rate-burst=0"}},
		{"unknown flag", nil, []string{"-verbose"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{missingEnvFile(t)}, tt.args...)
			_, err := load(args, envOf(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	// GIVEN: a .env file and no DB_PATH in the process environment
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DB_PATH=/tmp/from-dotenv.db\n"), 0o600))
	t.Setenv("DB_PATH", "")
	os.Unsetenv("DB_PATH")

	// WHEN: loading with that file
	cfg, err := Load([]string{"-env-file", path})

	// THEN: the file's value is used
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-dotenv.db", cfg.DBPath)
}

func TestEnvFileArg(t *testing.T) {
	assert.Equal(t, ".env", envFileArg(nil))
	assert.Equal(t, "a.env", envFileArg([]string{"-port=1", "-env-file=a.env"}))
	assert.Equal(t, "b.env", envFileArg([]string{"--env-file", "b.env"}))
}
