package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/kfcemployee/filesrv/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no port", nil},
		{"two ports", []string{"80", "81"}},
		{"not a number", []string{"http"}},
		{"out of range", []string{"70000"}},
		{"unknown flag", []string{"--threads", "4", "8080"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			assert.Equal(t, 1, run(tt.args, &stderr))
			assert.Contains(t, stderr.String(), "usage: filesrv [flags] <port>")
		})
	}
}

func TestRun_unknownFlagNamesIt(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{"--threads", "4", "8080"}, &stderr))
	assert.Contains(t, stderr.String(), "unknown flag: --threads")
	assert.Contains(t, stderr.String(), "--workers")
}

func TestRun_help(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{"--help"}, &stderr))
	assert.Contains(t, stderr.String(), "usage: filesrv [flags] <port>")
}

func TestRun_badLogLevel(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{"--log-level", "loud", "0"}, &stderr))
	assert.Contains(t, stderr.String(), "unknown log level")
}

func TestParseArgs_defaults(t *testing.T) {
	cfg, err := parseArgs([]string{"8080"}, &bytes.Buffer{})
	require.NoError(t, err)

	want := config.Default()
	want.Port = 8080
	assert.Equal(t, want, cfg)
}

func TestParseArgs_configThenFlags(t *testing.T) {
	p := filepath.Join(t.TempDir(), "filesrv.toml")
	require.NoError(t, os.WriteFile(p, []byte(`
doc_root = "/from/file"
workers = 3
log_level = "debug"
port = 1
`), 0o644))

	cfg, err := parseArgs([]string{"-c", p, "--workers", "5", "--metrics-addr", "127.0.0.1:9100", "9000"}, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, "/from/file", cfg.DocRoot)
	assert.Equal(t, 5, cfg.Workers, "flag beats file")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9100", cfg.MetricsAddr)
	assert.Equal(t, 9000, cfg.Port, "positional port beats file")
}

func TestParseArgs_invalid(t *testing.T) {
	_, err := parseArgs([]string{"--workers", "0", "8080"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = parseArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.toml"), "8080"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRun_bindFailure(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{"--host", "203.0.113.7", "--root", t.TempDir(), "0"}, &stderr))
	assert.Contains(t, stderr.String(), "exiting")
}
