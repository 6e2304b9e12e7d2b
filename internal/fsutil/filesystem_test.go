package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both implementations must agree on the semantics the record store
// depends on, so each test runs against both.
func forEachFS(t *testing.T, fn func(t *testing.T, fsys FileSystem, base string)) {
	t.Run("os", func(t *testing.T) {
		fn(t, OSFileSystem{}, t.TempDir())
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryFileSystem(), "/records")
	})
}

func writeNew(t *testing.T, fsys FileSystem, name, content string) {
	t.Helper()
	w, err := fsys.CreateNew(name)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestCreateNewRefusesOverwrite(t *testing.T) {
	forEachFS(t, func(t *testing.T, fsys FileSystem, base string) {
		name := filepath.Join(base, "chest_abc.json")
		writeNew(t, fsys, name, "first")

		_, err := fsys.CreateNew(name)
		require.Error(t, err)
		assert.True(t, errors.Is(err, fs.ErrExist), "want fs.ErrExist, got %v", err)

		data, err := fsys.ReadFile(name)
		require.NoError(t, err)
		assert.Equal(t, "first", string(data))
	})
}

func TestAppendAccumulates(t *testing.T) {
	forEachFS(t, func(t *testing.T, fsys FileSystem, base string) {
		name := filepath.Join(base, "scores.csv")
		for _, line := range []string{"a,1\n", "b,2\n"} {
			w, err := fsys.Append(name)
			require.NoError(t, err)
			_, err = w.Write([]byte(line))
			require.NoError(t, err)
			require.NoError(t, w.Close())
		}

		data, err := fsys.ReadFile(name)
		require.NoError(t, err)
		assert.Equal(t, "a,1\nb,2\n", string(data))
	})
}

func TestExistsAndStat(t *testing.T) {
	forEachFS(t, func(t *testing.T, fsys FileSystem, base string) {
		name := filepath.Join(base, "mask.nii.gz")
		assert.False(t, fsys.Exists(name))

		writeNew(t, fsys, name, "xyz")
		assert.True(t, fsys.Exists(name))

		info, err := fsys.Stat(name)
		require.NoError(t, err)
		assert.Equal(t, int64(3), info.Size())

		_, err = fsys.Stat(filepath.Join(base, "absent"))
		assert.True(t, errors.Is(err, fs.ErrNotExist))
	})
}

func TestMkdirAllAndList(t *testing.T) {
	forEachFS(t, func(t *testing.T, fsys FileSystem, base string) {
		sub := filepath.Join(base, "2026", "masks")
		require.NoError(t, fsys.MkdirAll(sub, os.FileMode(0o755)))
		assert.True(t, fsys.Exists(sub))
		assert.True(t, fsys.Exists(filepath.Join(base, "2026")))

		writeNew(t, fsys, filepath.Join(sub, "b.nii.gz"), "b")
		writeNew(t, fsys, filepath.Join(sub, "a.nii.gz"), "a")

		names, err := fsys.List(sub)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.nii.gz", "b.nii.gz"}, names)
	})
}
