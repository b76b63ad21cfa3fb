package fat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vireo-systems/fatvol/file_systems/fat"
	fattesting "github.com/vireo-systems/fatvol/testing"
)

func TestCreateFileThenFindable(t *testing.T) {
	vol := fattesting.MountFreshVolume(t, 16, fattesting.MinSectorsForFATType(16))
	creator := fat.NewEntryCreator(vol)

	dirent, err := creator.CreateFile("/a.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", dirent.Name())
	assert.False(t, dirent.IsDir())

	found, err := fat.NewDirectoryScanner(vol).FindByName(0, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, dirent.Name(), found.Name())
}

func TestCreateFileRejectsDuplicate(t *testing.T) {
	vol := fattesting.MountFreshVolume(t, 16, fattesting.MinSectorsForFATType(16))
	creator := fat.NewEntryCreator(vol)

	_, err := creator.CreateFile("/dup.txt", 0)
	require.NoError(t, err)
	_, err = creator.CreateFile("/dup.txt", 0)
	assert.Error(t, err)
}

func TestCreateDirectoryHasDotEntries(t *testing.T) {
	vol := fattesting.MountFreshVolume(t, 16, fattesting.MinSectorsForFATType(16))
	creator := fat.NewEntryCreator(vol)

	dirent, err := creator.CreateDirectory("/sub", 0)
	require.NoError(t, err)
	require.True(t, dirent.IsDir())

	// "." and ".." are filtered out of listings by the scanner, but their raw
	// slots should still occupy the first two entries of the new cluster.
	raw, err := vol.ReadCluster(dirent.FirstCluster)
	require.NoError(t, err)
	assert.Equal(t, byte('.'), raw[0])
	assert.Equal(t, byte('.'), raw[fat.DirentSize])
	assert.Equal(t, byte('.'), raw[fat.DirentSize+1])
}

func TestSynthesizesNumericTailOnCollision(t *testing.T) {
	vol := fattesting.MountFreshVolume(t, 16, fattesting.MinSectorsForFATType(16))
	creator := fat.NewEntryCreator(vol)

	_, err := creator.CreateFile("/long name one.txt", 0)
	require.NoError(t, err)
	_, err = creator.CreateFile("/long name two.txt", 0)
	require.NoError(t, err)

	entries, err := fat.NewDirectoryScanner(vol).List(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	shortNames := map[string]bool{}
	for _, e := range entries {
		short := e.ShortName()
		shortNames[string(short[:])] = true
	}
	assert.Len(t, shortNames, 2, "colliding long names must synthesize distinct short names")
}

func TestCreateRejectsInvalidName(t *testing.T) {
	vol := fattesting.MountFreshVolume(t, 16, fattesting.MinSectorsForFATType(16))
	creator := fat.NewEntryCreator(vol)

	_, err := creator.CreateFile("/bad:name.txt", 0)
	assert.Error(t, err)
}

func TestCreateFileOnFAT32(t *testing.T) {
	vol := fattesting.MountFreshVolume(t, 32, fattesting.MinSectorsForFATType(32))
	creator := fat.NewEntryCreator(vol)

	dirent, err := creator.CreateFile("/thirty-two.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, "thirty-two.txt", dirent.Name())
}
