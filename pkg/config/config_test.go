package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guido-cesarano/rungate/pkg/gate"
	"github.com/guido-cesarano/rungate/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
listen: ":9000"
probe_network: true
store:
  type: sqlite
  path: /var/lib/rungate/state.db
jobs:
  - id: backup
    schedule: "@every 1m"
    period: daily
    retry: 10m
    connectivity: wifi
    command: ["/usr/local/bin/backup", "--quiet"]
    timeout: 30m
  - id: sync
    schedule: "*/5 * * * *"
    command: ["sync.sh"]
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.True(t, cfg.ProbeNetwork)
	assert.Equal(t, store.Config{Type: "sqlite", Addr: "127.0.0.1:6379", Path: "/var/lib/rungate/state.db"}, cfg.Store.Backend())

	require.Len(t, cfg.Jobs, 2)
	backup := cfg.Jobs[0]
	assert.Equal(t, "backup", backup.ID)
	assert.Equal(t, 10*time.Minute, backup.Retry)
	assert.Equal(t, 30*time.Minute, backup.Timeout)
	assert.Equal(t, []string{"/usr/local/bin/backup", "--quiet"}, backup.Command)

	sync := cfg.Jobs[1]
	assert.Empty(t, sync.Period)
	assert.Zero(t, sync.Retry)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
jobs:
  - id: only
    schedule: "@hourly"
    command: ["true"]
`))
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.Listen)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.False(t, cfg.ProbeNetwork)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("API_KEY", "s3cret")
	t.Setenv("RUNGATE_STORE", "redis")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("RUNGATE_LISTEN", ":7000")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.APIKey)
	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, "redis:6380", cfg.Store.Addr)
	assert.Equal(t, ":7000", cfg.Listen)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no jobs", `listen: ":1"`, "Config.Jobs"},
		{"bad cron", `
jobs:
  - id: a
    schedule: "every minute"
    command: [x]`, "cronspec"},
		{"zero day period", `
jobs:
  - id: a
    schedule: "@hourly"
    period: 0d
    command: [x]`, "period"},
		{"bad connectivity", `
jobs:
  - id: a
    schedule: "@hourly"
    connectivity: ethernet
    command: [x]`, "connectivity"},
		{"negative retry", `
jobs:
  - id: a
    schedule: "@hourly"
    retry: -1s
    command: [x]`, "Retry"},
		{"missing command", `
jobs:
  - id: a
    schedule: "@hourly"`, "Command"},
		{"duplicate ids", `
jobs:
  - id: a
    schedule: "@hourly"
    command: [x]
  - id: a
    schedule: "@daily"
    command: [y]`, "unique"},
		{"unknown store", `
store:
  type: etcd
jobs:
  - id: a
    schedule: "@hourly"
    command: [x]`, "Store.Type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse([]byte("jobs: [\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rungate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Jobs, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestJob_EngineOptions(t *testing.T) {
	job := Job{ID: "backup", Period: "6h", Retry: time.Minute, Connectivity: "cellular"}
	opts, err := job.EngineOptions()
	require.NoError(t, err)

	e, err := gate.NewEngine(job.ID, store.NewMemoryStore(), opts...)
	require.NoError(t, err)
	assert.Equal(t, gate.EveryHours(6), e.Period())
	assert.Equal(t, gate.ConnectivityCellular, e.Connectivity())
	assert.Equal(t, time.Minute, e.MaxRetryInterval())

	_, err = Job{ID: "x", Period: "soon"}.EngineOptions()
	assert.ErrorIs(t, err, gate.ErrInvalidPeriod)
}
