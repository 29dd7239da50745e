package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnv(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600))
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeEnv(t, "NBLM_TEST_A=from-file\nexport NBLM_TEST_B=\"quoted value\"\n# comment\n")
	t.Setenv("NBLM_TEST_A", "")
	os.Unsetenv("NBLM_TEST_A")
	t.Setenv("NBLM_TEST_B", "")
	os.Unsetenv("NBLM_TEST_B")

	require.NoError(t, Load(WithDir(dir)))
	assert.Equal(t, "from-file", os.Getenv("NBLM_TEST_A"))
	assert.Equal(t, "quoted value", os.Getenv("NBLM_TEST_B"))
}

func TestLoadKeepsExisting(t *testing.T) {
	dir := writeEnv(t, "NBLM_TEST_C=from-file\n")
	t.Setenv("NBLM_TEST_C", "from-env")

	require.NoError(t, Load(WithDir(dir)))
	assert.Equal(t, "from-env", os.Getenv("NBLM_TEST_C"))

	require.NoError(t, Load(WithDir(dir), WithOverride()))
	assert.Equal(t, "from-file", os.Getenv("NBLM_TEST_C"))
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, Load(WithDir(dir)))
	assert.Error(t, Load(WithDir(dir), WithRequired()))
}

func TestGetDefault(t *testing.T) {
	t.Setenv("NBLM_TEST_D", "")
	assert.Equal(t, "fallback", GetDefault("NBLM_TEST_D", "fallback"))
	t.Setenv("NBLM_TEST_D", "set")
	assert.Equal(t, "set", GetDefault("NBLM_TEST_D", "fallback"))
}
