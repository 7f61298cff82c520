package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/homebase/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "homebase.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const sample = `
control:
  addr: ":5000"
  db_path: /var/lib/homebase/cc.sqlite
  links:
    - label: Deck
      path: outputs/deck.md
usage:
  window_days: 14
  estimate_missing: true
  pricing:
    output: 10
ingest:
  timeout: 30s
inbox:
  labels:
    next: ["Now", "Próximas ações"]
    waiting: ["Blocked"]
`

func TestLoad_Defaults(t *testing.T) {
	root := t.TempDir()

	cfg, err := Load(LoadOptions{Overrides: map[string]any{"root": root}})
	require.NoError(t, err)

	assert.Equal(t, ":4567", cfg.Control.Addr)
	assert.Equal(t, ":4677", cfg.BotStore.Addr)
	assert.Equal(t, filepath.Join(root, "data", "control-center.sqlite"), cfg.Control.DBPath)
	assert.Equal(t, filepath.Join(root, "packages"), cfg.BotStore.PackagesDir)
	assert.Equal(t, 7, cfg.Usage.WindowDays)
	assert.False(t, cfg.Usage.EstimateMissing)
	assert.Equal(t, 60*time.Second, cfg.Ingest.Timeout)

	require.Len(t, cfg.Control.Links, 1)
	assert.Equal(t, filepath.Join(root, "INBOX.md"), cfg.Control.Links[0].Path)

	table := cfg.LabelTable()
	assert.Len(t, table, 5)
	assert.Equal(t, domain.StatusNext, table["✅ próximas ações (triado)"])
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, sample)

	cfg, err := Load(LoadOptions{File: path, Overrides: map[string]any{"root": "/srv/home"}})
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.Control.Addr)
	assert.Equal(t, "/var/lib/homebase/cc.sqlite", cfg.Control.DBPath)
	assert.Equal(t, 14, cfg.Usage.WindowDays)
	assert.True(t, cfg.Usage.EstimateMissing)
	assert.Equal(t, 30*time.Second, cfg.Ingest.Timeout)
	assert.InDelta(t, 10.0, cfg.Usage.Pricing.Output, 1e-9)
	assert.InDelta(t, 3.0, cfg.Usage.Pricing.Input, 1e-9, "unset pricing keys keep their defaults")

	require.Len(t, cfg.Control.Links, 1)
	assert.Equal(t, Link{Label: "Deck", Path: filepath.Join("/srv/home", "outputs", "deck.md")}, cfg.Control.Links[0])

	table := cfg.LabelTable()
	assert.Equal(t, map[string]domain.Status{
		"Now":            domain.StatusNext,
		"Próximas ações": domain.StatusNext,
		"Blocked":        domain.StatusWaiting,
	}, table)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, sample)
	t.Setenv("HOMEBASE_CONTROL__ADDR", ":6000")
	t.Setenv("HOMEBASE_USAGE__WINDOW_DAYS", "3")
	t.Setenv("HOMEBASE_LOG__LEVEL", "debug")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--usage-days", "5", "--log-format", "json"}))

	cfg, err := Load(LoadOptions{File: path, Flags: fs})
	require.NoError(t, err)

	assert.Equal(t, ":6000", cfg.Control.Addr, "env beats file")
	assert.Equal(t, 5, cfg.Usage.WindowDays, "flag beats env")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/var/lib/homebase/cc.sqlite", cfg.Control.DBPath, "unset flags do not override")
}

func TestLoad_Errors(t *testing.T) {
	t.Run("explicit file must exist", func(t *testing.T) {
		_, err := Load(LoadOptions{File: filepath.Join(t.TempDir(), "missing.yaml")})
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(LoadOptions{File: writeConfig(t, "control: [unclosed")})
		assert.Error(t, err)
	})

	testCases := []struct {
		name      string
		overrides map[string]any
	}{
		{name: "window above 30 days", overrides: map[string]any{"usage.window_days": 31}},
		{name: "unknown log level", overrides: map[string]any{"log.level": "loud"}},
		{name: "empty address", overrides: map[string]any{"control.addr": ""}},
		{name: "unknown label status", overrides: map[string]any{"inbox.labels": map[string]any{"someday": []string{"Maybe"}}}},
		{name: "non-positive timeout", overrides: map[string]any{"ingest.timeout": "0s"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(LoadOptions{Overrides: tc.overrides})
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestResolve(t *testing.T) {
	cfg := &Config{Root: "/srv/home"}

	assert.Equal(t, "/srv/home/data/x.sqlite", cfg.Resolve("data/x.sqlite"))
	assert.Equal(t, "/abs/path", cfg.Resolve("/abs/path"))
	assert.Equal(t, "", cfg.Resolve(""))

	home, err := os.UserHomeDir()
	if err == nil {
		assert.Equal(t, filepath.Join(home, "sessions"), cfg.Resolve("~/sessions"))
	}
}
