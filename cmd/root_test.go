//go:build !integration

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "ingest", "classify", "batch", "learn", "stats", "corrections", "export", "import", "migrate", "runs"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "auction-intake", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestCommandFlags(t *testing.T) {
	flag := batchCmd.Flags().Lookup("run-ids")
	require.NotNil(t, flag)
	require.NotNil(t, batchCmd.Flags().Lookup("pending"))
	assert.Equal(t, "100", batchCmd.Flags().Lookup("limit").DefValue)

	flag = serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)

	require.NotNil(t, learnCmd.Flags().Lookup("format"))
	require.NotNil(t, statsCmd.Flags().Lookup("format"))
	require.NotNil(t, correctionsImportCmd.Flags().Lookup("validated"))
	assert.Equal(t, "training.xlsx", exportTrainingCmd.Flags().Lookup("out").DefValue)
	assert.Equal(t, "4", ingestCmd.Flags().Lookup("concurrency").DefValue)
}

func TestRootCmd_PersistentPreRunE_WithValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
store:
  driver: sqlite
log:
  level: info
  format: console
delivery:
  city: Austin
  state: TX
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(configContent), 0o644))
	t.Chdir(tmpDir)

	oldCfg := cfg
	cfg = nil
	defer func() { cfg = oldCfg }()

	err := rootCmd.PersistentPreRunE(rootCmd, nil)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "Austin", cfg.Delivery.City)
	assert.Equal(t, "store", cfg.Pipeline.Sink)
}

func TestRootCmd_PersistentPreRunE_BadLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("log:\n  level: loud\n"), 0o644))
	t.Chdir(tmpDir)

	oldCfg := cfg
	defer func() { cfg = oldCfg }()

	err := rootCmd.PersistentPreRunE(rootCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init logger")
}
