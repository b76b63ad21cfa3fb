package fat_test

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vireo-systems/fatvol"
	"github.com/vireo-systems/fatvol/file_systems/fat"
	fattesting "github.com/vireo-systems/fatvol/testing"
)

func newDriver(t *testing.T) *fat.FATDriver {
	vol := fattesting.MountFreshVolume(t, 16, fattesting.MinSectorsForFATType(16))
	return fat.NewFATDriver(vol)
}

func TestDriverWriteFileThenReadFile(t *testing.T) {
	drv := newDriver(t)

	require.NoError(t, drv.WriteFile("/hello.txt", []byte("hello, world"), 0o644))
	data, err := drv.ReadFile("/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(data))
}

func TestDriverOpenCreatesWhenMissing(t *testing.T) {
	drv := newDriver(t)

	handle, err := drv.Open("/new.txt", fatvol.O_RDWR|fatvol.O_CREATE, 0o644)
	require.NoError(t, err)
	_, err = handle.Write([]byte("abc"))
	require.NoError(t, err)

	data, err := drv.ReadFile("/new.txt")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestDriverOpenExclusiveFailsIfExists(t *testing.T) {
	drv := newDriver(t)
	require.NoError(t, drv.WriteFile("/exists.txt", []byte("x"), 0o644))

	_, err := drv.Open("/exists.txt", fatvol.O_RDWR|fatvol.O_CREATE|fatvol.O_EXCL, 0o644)
	assert.Error(t, err)
}

func TestDriverMkdirAllCreatesMissingParents(t *testing.T) {
	drv := newDriver(t)
	require.NoError(t, drv.MkdirAll("/a/b/c", 0o755))

	info, err := drv.Stat("/a/b/c")
	require.NoError(t, err)
	assert.True(t, info.ModeFlags&uint32(os.ModeDir) != 0)
}

func TestDriverMkdirAllIsIdempotent(t *testing.T) {
	drv := newDriver(t)
	require.NoError(t, drv.MkdirAll("/a/b", 0o755))
	assert.NoError(t, drv.MkdirAll("/a/b", 0o755))
}

func TestDriverReaddirListsEntries(t *testing.T) {
	drv := newDriver(t)
	require.NoError(t, drv.WriteFile("/one.txt", []byte("1"), 0o644))
	require.NoError(t, drv.Mkdir("/two", 0o755))

	entries, err := drv.Readdir("/")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestDriverRemoveRejectsDirectory(t *testing.T) {
	drv := newDriver(t)
	require.NoError(t, drv.Mkdir("/dir", 0o755))
	assert.Error(t, drv.Remove("/dir"))
}

func TestDriverRemoveAllRecursesIntoSubdirectories(t *testing.T) {
	drv := newDriver(t)
	require.NoError(t, drv.MkdirAll("/tree/leaf", 0o755))
	require.NoError(t, drv.WriteFile("/tree/leaf/file.txt", []byte("x"), 0o644))

	require.NoError(t, drv.RemoveAll("/tree"))

	_, err := drv.Stat("/tree")
	assert.Error(t, err)
}

func TestDriverRemoveAllOfMissingPathIsNotAnError(t *testing.T) {
	drv := newDriver(t)
	assert.NoError(t, drv.RemoveAll("/does-not-exist"))
}

func TestDriverChmodTogglesReadOnlyAttribute(t *testing.T) {
	drv := newDriver(t)
	require.NoError(t, drv.WriteFile("/ro.txt", []byte("x"), 0o644))

	require.NoError(t, drv.Chmod("/ro.txt", 0o444))
	info, err := drv.Stat("/ro.txt")
	require.NoError(t, err)
	assert.Zero(t, info.ModeFlags&0o222)
}

func TestDriverTruncate(t *testing.T) {
	drv := newDriver(t)
	require.NoError(t, drv.WriteFile("/t.txt", []byte("0123456789"), 0o644))
	require.NoError(t, drv.Truncate("/t.txt", 4))

	data, err := drv.ReadFile("/t.txt")
	require.NoError(t, err)
	assert.Equal(t, "0123", string(data))
}

func TestDriverUnsupportedOperationsReturnNotSupported(t *testing.T) {
	drv := newDriver(t)
	_, err := drv.Readlink("/anything")
	assert.Error(t, err)
	assert.Error(t, drv.Chown("/anything", 0, 0))
	assert.Error(t, drv.Lchown("/anything", 0, 0))
	assert.Error(t, drv.Link("/a", "/b"))
	assert.Error(t, drv.Symlink("/a", "/b"))
}

func TestDriverSameFileComparesInodeNumbers(t *testing.T) {
	drv := newDriver(t)
	require.NoError(t, drv.WriteFile("/same.txt", []byte("x"), 0o644))

	info1, err := drv.Stat("/same.txt")
	require.NoError(t, err)
	info2, err := drv.Stat("/same.txt")
	require.NoError(t, err)

	fi1 := statAsFileInfo(t, drv, "/same.txt", info1)
	fi2 := statAsFileInfo(t, drv, "/same.txt", info2)
	assert.True(t, drv.SameFile(fi1, fi2))
}

// statAsFileInfo adapts a FileStat-returning Stat call into the os.FileInfo
// shape SameFile expects, by listing the parent directory and picking out the
// matching entry (the Dirent returned by the scanner implements os.FileInfo).
func statAsFileInfo(t *testing.T, drv *fat.FATDriver, path string, _ fatvol.FileStat) os.FileInfo {
	t.Helper()
	entries, err := drv.Readdir("/")
	require.NoError(t, err)
	for _, e := range entries {
		if "/"+e.Name() == path {
			return e
		}
	}
	t.Fatalf("entry for %s not found in parent directory listing", path)
	return nil
}

var _ io.Writer = (*fat.FileHandle)(nil)
