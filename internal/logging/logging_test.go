package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyFile_SwitchesOnDateChange(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDailyFile(dir)
	require.NoError(t, err)
	defer d.Close()

	day := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)
	d.now = func() time.Time { return day }

	_, err = d.Write([]byte("first\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2024-03-01.log"), d.Path())

	day = day.Add(2 * time.Minute)
	_, err = d.Write([]byte("second\n"))
	require.NoError(t, err)

	first, err := os.ReadFile(filepath.Join(dir, "2024-03-01.log"))
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(dir, "2024-03-02.log"))
	require.NoError(t, err)

	assert.Equal(t, "first\n", string(first))
	assert.Equal(t, "second\n", string(second))
}

func TestSetup_WithoutDir(t *testing.T) {
	closer, err := Setup("debug", "")
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
}

func TestSetup_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	closer, err := Setup("bogus", dir)
	require.NoError(t, err)
	defer closer.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
