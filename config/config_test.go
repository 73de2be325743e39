package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadNodeDefaults(t *testing.T) {
	cfg, err := LoadNode("", true)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 10, cfg.BatchProcessor.MinBatchSize)
	assert.Equal(t, 1000, cfg.BatchProcessor.MaxBatchSize)
	assert.Equal(t, 168*time.Hour, cfg.BatchProcessor.ChallengePeriod.Duration)
	assert.Equal(t, 100*time.Millisecond, cfg.Sequencer.BlockInterval.Duration)
	assert.Equal(t, uint64(30000000), cfg.Sequencer.MaxGasPerBlock)
	assert.Equal(t, uint64(10), cfg.Sequencer.BatchCommitInterval)
	// archive database is off until a host is configured
	assert.Equal(t, "", cfg.PostgreSQL.HostWrite)
}

func TestLoadNodeFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.toml")
	content := `
[BatchProcessor]
MinBatchSize = 3
MaxBatchSize = 8
ChallengePeriod = "2h"

[Sequencer]
SequencerID = "seq-test"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadNode(path, true)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.BatchProcessor.MinBatchSize)
	assert.Equal(t, 8, cfg.BatchProcessor.MaxBatchSize)
	assert.Equal(t, 2*time.Hour, cfg.BatchProcessor.ChallengePeriod.Duration)
	assert.Equal(t, "seq-test", cfg.Sequencer.SequencerID)
	// untouched sections keep their defaults
	assert.Equal(t, "5m0s", cfg.BatchProcessor.BatchInterval.String())
	assert.Equal(t, 100, cfg.Sequencer.MaxTxsPerBlock)
}

func TestLoadNodeEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.toml")
	content := `
[Sequencer]
SequencerID = "from-file"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	t.Setenv("DRNODE_SEQUENCER_SEQUENCERID", "from-env")

	cfg, err := LoadNode(path, true)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Sequencer.SequencerID)
}

func TestLoadNodeBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.toml")
	require.NoError(t, os.WriteFile(path, []byte("not [valid toml"), 0600))

	_, err := LoadNode(path, true)
	assert.Error(t, err)
}
