package notebooklm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/crosszan/nblm/pkg/logger"
)

func TestRestrictStorageFile(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	log := logger.FromZap(zap.New(core))

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	restrictStorageFile(path, log)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.Zero(t, logs.Len())

	restrictStorageFile(filepath.Join(t.TempDir(), "missing.json"), log)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "failed to restrict storage state permissions", logs.All()[0].Message)
}

func TestLoginOptionsDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv(envNotebookLMHome, home)

	var opts LoginOptions
	opts.withDefaults()
	assert.Equal(t, filepath.Join(home, storageFileName), opts.StoragePath)
	assert.Equal(t, GetBrowserProfileDir(), opts.ProfileDir)
	assert.Equal(t, defaultLoginTimeout, opts.Timeout)
	assert.NotNil(t, opts.Logger)
}

func TestIsLoggedInURL(t *testing.T) {
	assert.True(t, isLoggedInURL("https://notebooklm.google.com/"))
	assert.False(t, isLoggedInURL("https://accounts.google.com/signin?continue=https://notebooklm.google.com/"))
	assert.False(t, isLoggedInURL("about:blank"))
}
