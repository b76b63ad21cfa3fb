package fat

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vireo-systems/fatvol"
	"github.com/vireo-systems/fatvol/blockdevice"
)

// newTestVolume formats and mounts a fresh in-memory volume for internal
// (package fat) tests that need access to unexported Volume internals and
// therefore can't go through the separate testing package, which imports
// this one.
func newTestVolume(t *testing.T, fatType int, totalSectors uint) *Volume {
	t.Helper()

	storage := make([]byte, totalSectors*blockdevice.SectorSize)
	device, err := blockdevice.NewMemoryDevice(storage)
	require.NoError(t, err)

	opts := DefaultFormatOptions(fatType)
	if fatType == 32 {
		opts.SectorsPerCluster = 1
	}
	require.NoError(t, Format(device, opts))

	vol, err := Mount(device, "/", fatvol.MountFlagsAllowAll)
	require.NoError(t, err)
	require.Equal(t, fatType, vol.FATType)
	return vol
}

// minSectorsForFATType mirrors testing.MinSectorsForFATType for internal
// tests that can't import the testing package.
func minSectorsForFATType(fatType int) uint {
	switch fatType {
	case 16:
		return 10081
	case 32:
		return 66800
	default:
		panic("unsupported FAT type")
	}
}
