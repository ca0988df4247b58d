package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var clientEnv = []string{
	"CRASHLOG_CONFIG", "CRASHLOG_DIR", "CRASHLOG_FILE", "CRASHLOG_MINUTES",
	"CRASHLOG_DEBUG", "CRASHLOG_APP", "CRASHLOG_SERVER", "CRASHLOG_API_KEY",
	"CRASHLOG_KEY_FILE", "CRASHLOG_GCS_BUCKET", "CRASHLOG_GCS_PREFIX", "CRASHLOG_GCS_KEY",
	"CRASHLOG_PORT", "CRASHLOG_DATA", "CRASHLOG_RETENTION", "CRASHLOG_API_KEY_HASH",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range clientEnv {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crashlog.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadClient_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadClient("crashlog", []string{"-debug"})
	require.NoError(t, err)
	assert.Equal(t, DefaultFileName, cfg.FileName)
	assert.Equal(t, 30, cfg.MinutesWait)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "crashlog", cfg.AppName)
}

func TestLoadClient_Layering(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `{
		"file_name": "from_file.txt",
		"minutes_wait": 5,
		"app_name": "file-app",
		"server_url": "http://file:8090",
		"gcs": {"prefix": "file-prefix"}
	}`)

	t.Setenv("CRASHLOG_MINUTES", "10")
	t.Setenv("CRASHLOG_APP", "env-app")

	cfg, err := LoadClient("crashlog", []string{"-config", path, "-app", "flag-app"})
	require.NoError(t, err)

	assert.Equal(t, "from_file.txt", cfg.FileName, "file overrides default")
	assert.Equal(t, 10, cfg.MinutesWait, "env overrides file")
	assert.Equal(t, "flag-app", cfg.AppName, "flag overrides env")
	assert.Equal(t, "http://file:8090", cfg.ServerURL)
	assert.Equal(t, "file-prefix", cfg.GCSPrefix)
}

func TestLoadClient_ConfigFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("CRASHLOG_CONFIG", writeConfig(t, `{"debug": true, "minutes_wait": 2}`))

	cfg, err := LoadClient("crashlog", nil)
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 2, cfg.MinutesWait)
}

func TestLoadClient_Errors(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no target", nil},
		{"both targets", []string{"-server", "http://x", "-gcs-bucket", "b"}},
		{"zero minutes", []string{"-debug", "-minutes", "0"}},
		{"file with dir", []string{"-debug", "-file", "a/b.txt"}},
		{"missing config", []string{"-config", filepath.Join(t.TempDir(), "none.json")}},
		{"bad json", []string{"-config", writeConfig(t, `{"debug":`)}},
		{"non-object json", []string{"-config", writeConfig(t, `[1,2]`)}},
		{"unknown flag", []string{"-nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadClient("crashlog", tt.args)
			assert.Error(t, err)
		})
	}
}

func TestLoadCollector(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `{"port": 9000, "data_dir": "/tmp/x", "retention": "48h"}`)
	t.Setenv("CRASHLOG_DATA", "/srv/crashlog")

	cfg, err := LoadCollector("crashlog-collector", []string{"-config", path})
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "/srv/crashlog", cfg.DataDir)
	assert.Equal(t, 48*time.Hour, cfg.Retention)
}

func TestLoadCollector_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadCollector("crashlog-collector", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultCollector(), *cfg)
}

func TestLoadCollector_Errors(t *testing.T) {
	clearEnv(t)

	_, err := LoadCollector("c", []string{"-port", "70000"})
	assert.Error(t, err)

	_, err = LoadCollector("c", []string{"-config", writeConfig(t, `{"retention": "soon"}`)})
	assert.Error(t, err)

	t.Setenv("CRASHLOG_RETENTION", "later")
	_, err = LoadCollector("c", nil)
	assert.Error(t, err)
}

func TestLoadClient_Help(t *testing.T) {
	clearEnv(t)

	_, err := LoadClient("crashlog", []string{"-h"})
	assert.ErrorIs(t, err, flag.ErrHelp)

	_, err = LoadCollector("crashlog-collector", []string{"-help"})
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestLoad_InvalidEnvNumbers(t *testing.T) {
	tests := []struct {
		key  string
		val  string
		load func() error
	}{
		{"CRASHLOG_MINUTES", "ten", func() error { _, err := LoadClient("c", []string{"-debug"}); return err }},
		{"CRASHLOG_DEBUG", "maybe", func() error { _, err := LoadClient("c", nil); return err }},
		{"CRASHLOG_PORT", "80a", func() error { _, err := LoadCollector("c", nil); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)
			err := tt.load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}
