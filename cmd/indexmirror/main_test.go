package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringSliceFlag_Set(t *testing.T) {
	var f stringSliceFlag

	require.NoError(t, f.Set(".mp4,.mov"))
	require.NoError(t, f.Set(".iso"))
	require.NoError(t, f.Set(" .avi , "))

	assert.Equal(t, stringSliceFlag{".mp4", ".mov", ".iso", ".avi"}, f)
	assert.Equal(t, ".mp4,.mov,.iso,.avi", f.String())
}

func TestPrintUsageTo(t *testing.T) {
	var buf bytes.Buffer
	printUsageTo(&buf)

	out := buf.String()
	for _, cmd := range []string{"crawl", "scan", "validate", "version"} {
		assert.Contains(t, out, cmd)
	}
}

func TestSetupLogger_InvalidLevelFallsBack(t *testing.T) {
	log := setupLogger("nonsense")
	assert.Equal(t, "info", log.GetLevel().String())

	log = setupLogger("debug")
	assert.Equal(t, "debug", log.GetLevel().String())
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Empty(t, cfg.UserAgent)
}

func TestDoValidate_ValidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
user_agent: "mirror-test/1.0"
download_workers: 4
suffixes_to_ignore: [".mp4", ".mov"]
`), 0644))

	var stdout, stderr bytes.Buffer
	code := doValidate(path, &stdout, &stderr)

	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "Configuration valid.")
	assert.Empty(t, stderr.String())
}

func TestDoValidate_WarningsStillValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
suffixes_to_ignore: ["mp4"]
`), 0644))

	var stdout, stderr bytes.Buffer
	code := doValidate(path, &stdout, &stderr)

	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "WARN:")
}

func TestDoValidate_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`download_workers: -2`), 0644))

	var stdout, stderr bytes.Buffer
	code := doValidate(path, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "ERROR:")
}

func TestDoValidate_MissingFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := doValidate(filepath.Join(t.TempDir(), "nope.yaml"), &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "Error:")
}

func TestDoValidate_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("user_agent: [unclosed"), 0644))

	var stdout, stderr bytes.Buffer
	code := doValidate(path, &stdout, &stderr)
	assert.Equal(t, 1, code)
}
