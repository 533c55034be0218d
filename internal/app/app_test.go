package app

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfwatch/internal/config"
	"shelfwatch/internal/logging"
)

func writeFrames(t *testing.T, dir string, n int, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	for i := 1; i <= n; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("frame_%03d.png", i)), buf.Bytes(), 0o644))
	}
}

func uniform(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	frames := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Source.Dir.Path = frames
	cfg.API.Enabled = false
	cfg.Sinks.Log = false
	cfg.Storage = config.StorageConfig{
		Enabled:     true,
		Driver:      "sqlite",
		DSN:         "file:" + filepath.Join(t.TempDir(), "app.db") + "?_pragma=busy_timeout(5000)",
		SaveReports: true,
	}
	return cfg
}

func TestRunStaticRegions(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Regions.Provider = "static"
	cfg.Regions.Static = []config.RegionEntry{
		{ID: "a", Name: "Top", Region: []int{0, 0, 40, 30}},
		{ID: "bad", Region: []int{0, 0}},
	}
	writeFrames(t, cfg.Source.Dir.Path, 3, uniform(80, 60, color.Gray{Y: 90}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a, err := NewWithManager(ctx, config.NewStaticManager(cfg), logging.Discard(), "test")
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Run(ctx))
	require.Len(t, a.Pipeline().Regions(), 1)
	assert.Equal(t, 1, a.Alerts().Len())
	seq, _ := a.Status().Last()
	assert.Equal(t, uint64(3), seq)

	stored, err := a.Store().RecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "a", stored[0].RegionID)
}

func TestRunAutoDetectsRegions(t *testing.T) {
	cfg := baseConfig(t)
	img := uniform(640, 480, color.White)
	draw.Draw(img, image.Rect(50, 100, 400, 210), &image.Uniform{C: color.RGBA{R: 40, G: 40, B: 40, A: 255}}, image.Point{}, draw.Src)
	writeFrames(t, cfg.Source.Dir.Path, 2, img)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	a, err := NewWithManager(ctx, config.NewStaticManager(cfg), logging.Discard(), "test")
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Run(ctx))
	regs := a.Pipeline().Regions()
	require.Len(t, regs, 1)
	seq, _ := a.Status().Last()
	assert.Equal(t, uint64(2), seq)

	saved, err := a.Store().Regions(ctx)
	require.NoError(t, err)
	assert.Equal(t, regs, saved)
}

func TestRunEmptyDirectoryWithAutoDetect(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Storage.Enabled = false
	ctx := context.Background()
	a, err := NewWithManager(ctx, config.NewStaticManager(cfg), logging.Discard(), "test")
	require.NoError(t, err)
	defer a.Close()
	assert.NoError(t, a.Run(ctx))
	assert.Empty(t, a.Pipeline().Regions())
}

func TestNewRejectsMissingConfig(t *testing.T) {
	_, err := New(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), "test")
	assert.Error(t, err)
}
