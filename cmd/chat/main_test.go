package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("RELAYCHAT_DOTENV_TEST", "")
	require.NoError(t, os.Unsetenv("RELAYCHAT_DOTENV_TEST"))
	t.Setenv("RELAYCHAT_DOTENV_KEEP", "from-env")

	dir := t.TempDir()
	assert.False(t, loadDotEnv(filepath.Join(dir, "missing.env")))

	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("RELAYCHAT_DOTENV_TEST=loaded\nRELAYCHAT_DOTENV_KEEP=from-file\n"), 0o600))
	assert.True(t, loadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("RELAYCHAT_DOTENV_TEST"))
	assert.Equal(t, "from-env", os.Getenv("RELAYCHAT_DOTENV_KEEP"))
}
