package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
camera:
  url: http://camera.local/snapshot.jpg
detection:
  roi: {x: 2, y: 2, width: 4, height: 4}
  bright_threshold: 190
  min_bright_pixels: 10
telegram:
  enabled: false
storage:
  driver: sqlite
  dsn: %DB%
timezone: UTC
currency: UAH
`

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "genwatch.yaml")
	cfg := strings.ReplaceAll(testConfig, "%DB%", filepath.Join(dir, "genwatch.db"))
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path, dir
}

func execute(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writePNG(t *testing.T, dir string, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, c)
		}
	}
	path := filepath.Join(dir, "frame.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestDetectCommand(t *testing.T) {
	cfg, dir := writeConfig(t)

	out, err := execute(t, cfg, "detect", writePNG(t, dir, color.White))
	require.NoError(t, err)
	assert.Contains(t, out, "state:      ON")
	assert.Contains(t, out, "bright px:  16")

	annotated := filepath.Join(dir, "annotated.jpg")
	out, err = execute(t, cfg, "detect", writePNG(t, dir, color.Black), "--annotate", annotated)
	require.NoError(t, err)
	assert.Contains(t, out, "state:      OFF")
	assert.FileExists(t, annotated)
}

func TestDetectRejectsMissingFile(t *testing.T) {
	cfg, dir := writeConfig(t)
	_, err := execute(t, cfg, "detect", filepath.Join(dir, "nope.png"))
	assert.Error(t, err)
}

func TestFuelCommands(t *testing.T) {
	cfg, _ := writeConfig(t)

	out, err := execute(t, cfg, "fuel", "set", "--price", "60")
	require.NoError(t, err)
	assert.Contains(t, out, "Price:       60.00 UAH/l")
	assert.Contains(t, out, "Consumption: 1.50 l/h")

	out, err = execute(t, cfg, "fuel", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Price:       60.00 UAH/l")

	_, err = execute(t, cfg, "fuel", "set")
	assert.ErrorContains(t, err, "nothing to change")

	_, err = execute(t, cfg, "fuel", "set", "--rate", "-1")
	assert.Error(t, err)
}

func TestListCommandsOnEmptyLedger(t *testing.T) {
	cfg, _ := writeConfig(t)

	out, err := execute(t, cfg, "sessions")
	require.NoError(t, err)
	assert.Equal(t, "No sessions recorded.\n", out)

	out, err = execute(t, cfg, "events")
	require.NoError(t, err)
	assert.Equal(t, "No events recorded.\n", out)

	_, err = execute(t, cfg, "events", "--type", "boom")
	assert.Error(t, err)
}

func TestReportCommand(t *testing.T) {
	cfg, _ := writeConfig(t)

	out, err := execute(t, cfg, "report")
	require.NoError(t, err)
	assert.Contains(t, out, "Runtime: 0.00 h")

	_, err = execute(t, cfg, "report", "decade")
	assert.Error(t, err)
}

func TestExportCommand(t *testing.T) {
	cfg, dir := writeConfig(t)

	out, err := execute(t, cfg, "export", "--month", "2024-03")
	require.NoError(t, err)
	assert.Equal(t, "id,start_time,end_time,duration_hours,fuel_liters,cost,notes\n", out)

	pdf := filepath.Join(dir, "march.pdf")
	_, err = execute(t, cfg, "export", "--format", "pdf", "--month", "2024-03", "--out", pdf)
	require.NoError(t, err)
	data, err := os.ReadFile(pdf)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

	_, err = execute(t, cfg, "export", "--month", "March")
	assert.Error(t, err)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("detection:\n  roi: {width: 0}\n"), 0o644))

	_, err := execute(t, path, "run")
	assert.Error(t, err)
}
