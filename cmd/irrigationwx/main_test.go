package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
site:
  timezone: Europe/Zurich
zones:
  - name: lawn
    root_depth_m: 0.3
    awc_mm_per_m: 150
  - name: beds
    root_depth_m: 0.2
    awc_mm_per_m: 100
store:
  backend: memory
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testYAML), 0o600))
	return path
}

func TestBucketCommand(t *testing.T) {
	out, err := run(t, "--config", writeConfig(t), "bucket")
	require.NoError(t, err)
	assert.Contains(t, out, "lawn")
	assert.Contains(t, out, "22.5")
	assert.Contains(t, out, "beds")

	_, err = run(t, "--config", writeConfig(t), "bucket", "orchard")
	assert.Error(t, err)
}

func TestCreditZoneCommand(t *testing.T) {
	out, err := run(t, "--config", writeConfig(t), "credit", "zone", "beds", "--depth", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "beds now 14.0 / 20.0 mm")

	_, err = run(t, "--config", writeConfig(t), "credit", "zone", "beds")
	assert.Error(t, err)
}

func TestVerdictWithoutJudgeFails(t *testing.T) {
	_, err := run(t, "--config", writeConfig(t), "verdict")
	assert.Error(t, err)
}

func TestConfigImportAndCheck(t *testing.T) {
	yamlPath := writeConfig(t)
	dbPath := filepath.Join(t.TempDir(), "nested", "config.db")

	out, err := run(t, "config", "import", "--yaml", yamlPath, "--sqlite", dbPath, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "DRY RUN")
	assert.NoFileExists(t, dbPath)

	_, err = run(t, "config", "import", "--yaml", yamlPath, "--sqlite", dbPath)
	require.NoError(t, err)
	assert.FileExists(t, dbPath)

	_, err = run(t, "config", "import", "--yaml", yamlPath, "--sqlite", dbPath)
	assert.Error(t, err, "existing database without --force")

	out, err = run(t, "--config", yamlPath, "config", "check", "--against", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ zones matches")
	assert.Contains(t, out, "configuration is valid")

	out, err = run(t, "--config-backend", "sqlite", "--config", dbPath, "bucket", "lawn")
	require.NoError(t, err)
	assert.Contains(t, out, "45.0")
}
