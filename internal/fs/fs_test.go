package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOS(t *testing.T) {
	tmp := t.TempDir()
	lfs := OS{}

	dir := filepath.Join(tmp, "subdir")
	assert.NoError(t, lfs.MkdirAll(dir, 0755))

	fpath := filepath.Join(dir, "_0.fdt")
	f, err := lfs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)

	_, err = f.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.NoError(t, f.Sync())

	info, err := f.Stat()
	assert.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())
	assert.NoError(t, f.Close())

	entries, err := lfs.ReadDir(dir)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)

	newPath := filepath.Join(dir, "_1.fdt")
	assert.NoError(t, lfs.Rename(fpath, newPath))
	assert.NoError(t, SyncDir(lfs, dir))

	assert.NoError(t, lfs.Remove(newPath))
	_, err = lfs.Stat(newPath)
	assert.True(t, os.IsNotExist(err))
}

func TestFaultyFSGlobalLimit(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(OS{})
	ffs.SetLimit(5)

	f, err := ffs.OpenFile(filepath.Join(tmp, "a"), os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	defer f.Close()

	n, err := f.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = f.Write([]byte("!"))
	assert.ErrorIs(t, err, ErrInjected)
	assert.Zero(t, n)
	assert.Equal(t, int64(5), ffs.Written())
}

func TestFaultyFSRules(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)
	boom := os.ErrPermission
	ffs.AddRule("segments_", Fault{FailOnRename: true, Err: boom})
	ffs.AddRule(".cfs", Fault{FailAfterBytes: 2, FailOnSync: true})

	pending := filepath.Join(tmp, "pending_segments_1")
	f, err := ffs.OpenFile(pending, os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	err = ffs.Rename(pending, filepath.Join(tmp, "segments_1"))
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, ffs.Renames())

	cfs, err := ffs.OpenFile(filepath.Join(tmp, "_0.cfs"), os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = cfs.Write([]byte("abc"))
	assert.ErrorIs(t, err, ErrInjected)
	assert.ErrorIs(t, cfs.Sync(), ErrInjected)
	require.NoError(t, cfs.Close())

	ffs.ClearRules()
	assert.NoError(t, ffs.Rename(pending, filepath.Join(tmp, "segments_1")))
	assert.Equal(t, 1, ffs.Renames())
}

func TestFaultyFSRemove(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)
	path := filepath.Join(tmp, "_3.tim")
	f, err := ffs.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ffs.AddRule("_3", Fault{FailOnRemove: true})
	assert.ErrorIs(t, ffs.Remove(path), ErrInjected)
	_, err = ffs.Stat(path)
	assert.NoError(t, err)
}

func TestCreateSynced(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "segments_2")

	require.NoError(t, CreateSynced(Default, path, []byte("gen2")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "gen2", string(data))

	assert.ErrorIs(t, CreateSynced(Default, path, nil), os.ErrExist)
}

func TestCreateSyncedRemovesPartialFile(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddRule("pending_", Fault{FailOnSync: true})

	path := filepath.Join(tmp, "pending_segments_3")
	assert.ErrorIs(t, CreateSynced(ffs, path, []byte("x")), ErrInjected)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestExactRuleTargetsDirectoryOnly(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddExactRule(tmp, Fault{FailOnSync: true})

	require.NoError(t, CreateSynced(ffs, filepath.Join(tmp, "_0.cfs"), []byte("x")))
	assert.ErrorIs(t, SyncDir(ffs, tmp), ErrInjected)

	ffs.ClearRules()
	require.NoError(t, SyncDir(ffs, tmp))
}
