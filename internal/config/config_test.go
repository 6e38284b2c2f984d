package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fwforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
projects:
  root: /srv/projects
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8733", cfg.Server.Addr)
	assert.Equal(t, "/srv/projects", cfg.Projects.Root)
	assert.Equal(t, "idf.py", cfg.Toolchain.Program)
	assert.Equal(t, 5*time.Second, cfg.Toolchain.GracePeriodDuration())
	assert.Equal(t, 256, cfg.Logstream.SubscriberBuffer)
	assert.Equal(t, 200, cfg.Store.HistoryLimit)
	assert.Equal(t, "fwforge.units", cfg.Events.Subject)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("FWFORGE_TEST_ROOT", "/data/fw")

	path := writeConfig(t, `
projects:
  root: ${FWFORGE_TEST_ROOT}/projects
toolchain:
  program: idf.py
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/fw/projects", cfg.Projects.Root)
}

func TestLoadRejectsBadDurations(t *testing.T) {
	path := writeConfig(t, `
toolchain:
  grace_period: sometime
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grace_period")
}

func TestLoadRejectsBadSchedule(t *testing.T) {
	path := writeConfig(t, `
schedules:
  - name: nightly
    project: blinky
    op: build
    every: often
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid every")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestInitWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fwforge.yaml")

	require.NoError(t, Init(path, false))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "idf.py", cfg.Toolchain.Program)
	assert.Len(t, cfg.Schedules, 1)
	assert.Equal(t, 24*time.Hour, cfg.Schedules[0].Interval())
}

func TestInitRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fwforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("projects: {}\n"), 0644))

	err := Init(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, Init(path, true))
}
