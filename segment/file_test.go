package segment

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/INLOpen/nexuslog/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile_AppendAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.data")
	f, err := OpenFile(path, 4096, true)
	require.NoError(t, err)

	off, err := f.Append([]byte("first"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), off)

	off, err = f.Append([]byte("second"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), off)
	assert.Equal(t, int64(11), f.WritePosition())

	require.NoError(t, f.Close())
	require.NoError(t, f.Close(), "Close must be idempotent")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, 4096, "file is sized to capacity")
	assert.Equal(t, "firstsecond", string(raw[:11]))
	assert.True(t, bytes.Equal(make([]byte, 4096-11), raw[11:]), "unused space is zero")
}

func TestFile_AppendRejectsOverflowWithoutPartialWrite(t *testing.T) {
	f, err := OpenFile(filepath.Join(t.TempDir(), "b.data"), 16, false)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Append(bytes.Repeat([]byte("x"), 10))
	require.NoError(t, err)

	_, err = f.Append(bytes.Repeat([]byte("y"), 7))
	require.ErrorIs(t, err, core.ErrSegmentFull)
	assert.Equal(t, int64(10), f.WritePosition(), "rejected append leaves the offset alone")

	_, err = f.Append(bytes.Repeat([]byte("z"), 6))
	require.NoError(t, err)
	assert.Equal(t, int64(16), f.WritePosition())
}

func TestFile_IsFull(t *testing.T) {
	f, err := OpenFile(filepath.Join(t.TempDir(), "c.data"), 4096, false)
	require.NoError(t, err)
	defer f.Close()

	assert.False(t, f.IsFull())
	_, err = f.Append(make([]byte, 4096-SafetyMargin))
	require.NoError(t, err)
	assert.False(t, f.IsFull(), "exactly the margin left is not full")
	_, err = f.Append([]byte{1})
	require.NoError(t, err)
	assert.True(t, f.IsFull())

	small, err := OpenFile(filepath.Join(t.TempDir(), "d.index"), 102, false)
	require.NoError(t, err)
	defer small.Close()
	assert.True(t, small.IsFull(), "segments below the margin are always full")
	assert.True(t, small.Fits(core.IndexEntrySize))
}

func TestFile_AppendAfterClose(t *testing.T) {
	f, err := OpenFile(filepath.Join(t.TempDir(), "e.data"), 64, false)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = f.Append([]byte("late"))
	require.Error(t, err)
	assert.True(t, core.IsIOError(err))
	assert.True(t, errors.Is(err, os.ErrClosed))
	assert.False(t, f.Fits(1))
	assert.NoError(t, f.Sync())
}

func TestOpenFile_Errors(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "x.data"), 0, false)
	require.Error(t, err)
	assert.True(t, core.IsIOError(err))

	_, err = OpenFile(filepath.Join(t.TempDir(), "missing", "dir", "x.data"), 64, false)
	require.Error(t, err)
	assert.True(t, core.IsIOError(err))
}
