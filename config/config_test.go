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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalJobs = `
jobs:
  - name: disk
    command: ["sh", "-c", "df --output=pcent / | tail -1 | tr -d ' %'"]
    metric: disk_used_percent
`

func TestLoadAppliesJobDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalJobs))
	require.NoError(t, err)

	require.Len(t, cfg.Jobs, 1)
	j := cfg.Jobs[0]
	assert.Equal(t, 600*time.Second, j.EffectiveInterval())
	assert.Equal(t, "gauge", j.Type)
	assert.Equal(t, DefaultHelp, j.Help)
	assert.NotEmpty(t, j.Help)
}

func TestLoadAppliesServerDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalJobs))
	require.NoError(t, err)

	assert.Equal(t, ":9115", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, time.Second, cfg.Scheduler.Tick)
	assert.Equal(t, 64, cfg.Scheduler.MaxConcurrency)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  addr: ":9200"
log:
  level: debug
scheduler:
  max_concurrency: 8
  default_timeout: 30s
global_labels:
  dc: eu-1
jobs:
  - name: health
    command: ["/usr/local/bin/check_health"]
    interval: 30
    metric: svc_health
    help: Service health per component
    type: gauge
    labels:
      team: storage
    timeout: 10s
  - name: queue
    command: ["/usr/local/bin/queue_depth"]
    metric: queue_depth
`))
	require.NoError(t, err)

	assert.Equal(t, ":9200", cfg.Server.Addr)
	assert.Equal(t, map[string]string{"dc": "eu-1"}, cfg.GlobalLabels)

	require.Len(t, cfg.Jobs, 2)
	assert.Equal(t, 30*time.Second, cfg.Jobs[0].EffectiveInterval())
	assert.Equal(t, 10*time.Second, cfg.Jobs[0].Timeout)
	// second job inherits the scheduler default timeout
	assert.Equal(t, 30*time.Second, cfg.Jobs[1].Timeout)
}

func TestLoadRejectsMissingMetric(t *testing.T) {
	_, err := Load(writeConfig(t, `
jobs:
  - name: broken
    command: ["true"]
`))
	require.Error(t, err)
}

func TestLoadRejectsEmptyCommand(t *testing.T) {
	_, err := Load(writeConfig(t, `
jobs:
  - name: broken
    command: []
    metric: m
`))
	require.Error(t, err)
}

func TestLoadRejectsInvalidMetricName(t *testing.T) {
	_, err := Load(writeConfig(t, `
jobs:
  - name: broken
    command: ["true"]
    metric: "1bad-name"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid")
}

func TestLoadRejectsInvalidType(t *testing.T) {
	_, err := Load(writeConfig(t, `
jobs:
  - name: broken
    command: ["true"]
    metric: m
    type: histogram
`))
	require.Error(t, err)
}

func TestLoadRejectsReservedLabelPrefix(t *testing.T) {
	_, err := Load(writeConfig(t, `
jobs:
  - name: broken
    command: ["true"]
    metric: m
    labels:
      __name__: x
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestLoadRejectsDuplicateJobName(t *testing.T) {
	_, err := Load(writeConfig(t, `
jobs:
  - name: dup
    command: ["true"]
    metric: a
  - name: dup
    command: ["true"]
    metric: b
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "used twice")
}

func TestLoadRejectsNoJobs(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  addr: ":9115"
`))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
