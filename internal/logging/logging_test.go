package logging

import (
	"bytes"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestComponentAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(New(&buf, slog.LevelInfo), "ledger")
	logger.Info("session started", "id", 3)
	assert.Contains(t, buf.String(), "component=ledger")
	assert.Contains(t, buf.String(), "id=3")
}

func TestStdLogTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	StdLog(New(&buf, slog.LevelInfo), "http").Print("tls handshake error")
	assert.Contains(t, buf.String(), "component=http")
	assert.Contains(t, buf.String(), "tls handshake error")
}

func TestInitWritesFile(t *testing.T) {
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	dir := t.TempDir()
	l := Init(Options{Folder: dir, File: "test.log", Level: "info"})
	l.Info("hello file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
}
