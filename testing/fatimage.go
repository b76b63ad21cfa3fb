package testing

import (
	"testing"

	"github.com/vireo-systems/fatvol"
	"github.com/vireo-systems/fatvol/blockdevice"
	"github.com/vireo-systems/fatvol/file_systems/fat"
	"github.com/stretchr/testify/require"
)

// MountFreshVolume formats a brand-new in-memory FAT16 or FAT32 volume of
// totalSectors 512-byte sectors and mounts it read-write, failing the test
// immediately if either step doesn't succeed. It's the primary entry point
// for exercising the fat package without a real disk image: tests that need
// specific geometry should call fat.Format and fat.Mount directly instead.
func MountFreshVolume(t *testing.T, fatType int, totalSectors uint) *fat.Volume {
	storage := make([]byte, totalSectors*blockdevice.SectorSize)
	device, err := blockdevice.NewMemoryDevice(storage)
	require.NoError(t, err, "failed to create in-memory block device")

	opts := fat.DefaultFormatOptions(fatType)
	if fatType == 32 {
		// DefaultFormatOptions' 8-sectors-per-cluster geometry is realistic
		// but would need a quarter-gigabyte image to clear the FAT32 cluster
		// threshold; shrink clusters to 1 sector so test images stay small.
		opts.SectorsPerCluster = 1
	}
	require.NoError(t, fat.Format(device, opts), "failed to format test volume")

	vol, err := fat.Mount(device, "/", fatvol.MountFlagsAllowAll)
	require.NoError(t, err, "failed to mount freshly formatted test volume")
	require.Equal(t, fatType, vol.FATType, "mounted volume has the wrong FAT version")
	return vol
}

// MinSectorsForFATType returns a sector count that lands comfortably inside
// the cluster range DetermineFATVersion assigns to fatType, given the
// geometry MountFreshVolume formats with (DefaultFormatOptions, except FAT32
// clusters are shrunk to 1 sector). These were chosen by running the same
// FAT-size arithmetic Format uses: FAT16 resolves to 9970 clusters here,
// FAT32 to 65732.
func MinSectorsForFATType(fatType int) uint {
	switch fatType {
	case 16:
		return 10081
	case 32:
		return 66800
	default:
		panic("unsupported FAT type")
	}
}
