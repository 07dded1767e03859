package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitLogger_WritesJSONFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	logger, err := InitLogger("test", Options{Dir: dir})
	require.NoError(t, err)

	logger.Debug("loading volunteer aggregate", zap.String("userID", "u1"))
	_ = logger.Sync()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "test_"))
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".log"))

	content, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"loading volunteer aggregate"`)
	assert.Contains(t, string(content), `"userID":"u1"`)
	assert.Contains(t, string(content), `"timestamp"`)
}

func TestInitLogger_BadDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	_, err := InitLogger("test", Options{Dir: file})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create logs directory")
}
