package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "decisiond", cfg.Name)
	assert.Equal(t, 8, cfg.Engine.MaxConcurrentCycles)
	assert.Equal(t, 2*time.Second, cfg.Agents.ProposalTimeout)
	assert.Equal(t, 5, cfg.Audit.MaxConsecutiveFailures)
	assert.Equal(t, 10*time.Second, cfg.Solver.Deadline)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
name: fleet-decisions
engine:
  max_concurrent_cycles: 2
agents:
  proposal_timeout: 750ms
solver:
  base_url: http://solver.internal:9090
  deadline: 4s
resources:
  cpu: 4
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "fleet-decisions", cfg.Name)
	assert.Equal(t, 2, cfg.Engine.MaxConcurrentCycles)
	assert.Equal(t, 750*time.Millisecond, cfg.Agents.ProposalTimeout)
	assert.Equal(t, "http://solver.internal:9090", cfg.Solver.BaseURL)
	assert.Equal(t, 4*time.Second, cfg.Solver.Deadline)
	assert.Equal(t, 4.0, cfg.Resources.CPU)
	// Untouched sections keep defaults.
	assert.Equal(t, 250*time.Millisecond, cfg.Solver.PollInterval)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("solver:\n  num_reads: 50\n"), 0o644))

	t.Setenv("DECISIOND_SOLVER_NUM_READS", "500")
	t.Setenv("DECISIOND_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Solver.NumReads)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_Rejects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.MaxConcurrentCycles = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Agents.ProposalTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Audit.MaxConsecutiveFailures = 0
	assert.Error(t, cfg.Validate())
}
