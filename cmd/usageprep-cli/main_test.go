package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"usageprep/internal/collector"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "raw")
	require.NoError(t, os.MkdirAll(filepath.Join(raw, "Preprocessed"), 0750))
	for _, p := range []string{
		filepath.Join(raw, "P002 Raw Data.csv"),
		filepath.Join(raw, "P001 Raw Data.csv"),
		filepath.Join(raw, "notes.txt"),
		filepath.Join(raw, "Preprocessed", "P001 Data Preprocessed.csv"),
	} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0600))
	}

	m, err := collector.NewMatcher(`(?i)\.csv$`, []string{"Preprocessed"})
	require.NoError(t, err)

	explicit := filepath.Join(raw, "P001 Raw Data.csv")
	files, err := discover(m, []string{raw, explicit})
	require.NoError(t, err)
	assert.Equal(t, []string{explicit, filepath.Join(raw, "P002 Raw Data.csv")}, files)

	_, err = discover(m, []string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestFit(t *testing.T) {
	assert.Equal(t, 10, runewidth.StringWidth(fit("Chat", 10)))
	assert.Equal(t, 10, runewidth.StringWidth(fit("微信微信微信微信微信微信", 10)))
	assert.Equal(t, 10, runewidth.StringWidth(fit("a very long application label", 10)))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0:00:00", formatDuration(0))
	assert.Equal(t, "1:02:03", formatDuration(time.Hour+2*time.Minute+3*time.Second))
	assert.Equal(t, "26:00:01", formatDuration(26*time.Hour+1400*time.Millisecond))
}
