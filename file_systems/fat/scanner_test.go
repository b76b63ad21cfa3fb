package fat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vireo-systems/fatvol/file_systems/fat"
	fattesting "github.com/vireo-systems/fatvol/testing"
)

func TestDirectoryScannerListsCreatedEntries(t *testing.T) {
	vol := fattesting.MountFreshVolume(t, 16, fattesting.MinSectorsForFATType(16))
	creator := fat.NewEntryCreator(vol)

	_, err := creator.CreateFile("/hello.txt", 0)
	require.NoError(t, err)
	_, err = creator.CreateDirectory("/sub", 0)
	require.NoError(t, err)

	scanner := fat.NewDirectoryScanner(vol)
	entries, err := scanner.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name()] = e.IsDir()
	}
	assert.False(t, names["hello.txt"])
	assert.True(t, names["sub"])
}

func TestDirectoryScannerStopsAtFreeSlot(t *testing.T) {
	vol := fattesting.MountFreshVolume(t, 16, fattesting.MinSectorsForFATType(16))
	creator := fat.NewEntryCreator(vol)

	_, err := creator.CreateFile("/a.txt", 0)
	require.NoError(t, err)

	scanner := fat.NewDirectoryScanner(vol)
	entries, err := scanner.List(0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDirectoryScannerReconstructsLongName(t *testing.T) {
	vol := fattesting.MountFreshVolume(t, 16, fattesting.MinSectorsForFATType(16))
	creator := fat.NewEntryCreator(vol)

	const longName = "A Very Long File Name That Needs An LFN Run.txt"
	_, err := creator.CreateFile("/"+longName, 0)
	require.NoError(t, err)

	scanner := fat.NewDirectoryScanner(vol)
	entries, err := scanner.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, longName, entries[0].Name())
}

func TestFindByNameMatchesShortNameCaseInsensitively(t *testing.T) {
	vol := fattesting.MountFreshVolume(t, 16, fattesting.MinSectorsForFATType(16))
	creator := fat.NewEntryCreator(vol)
	_, err := creator.CreateFile("/README.TXT", 0)
	require.NoError(t, err)

	scanner := fat.NewDirectoryScanner(vol)
	found, err := scanner.FindByName(0, "readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "README.TXT", found.Name())
}

func TestFindByNameNotFound(t *testing.T) {
	vol := fattesting.MountFreshVolume(t, 16, fattesting.MinSectorsForFATType(16))
	scanner := fat.NewDirectoryScanner(vol)
	_, err := scanner.FindByName(0, "nope.txt")
	assert.Error(t, err)
}
