package fat

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vireo-systems/fatvol"
	"github.com/vireo-systems/fatvol/blockdevice"
)

func TestFormatRejectsUnknownFATType(t *testing.T) {
	storage := make([]byte, 512*minSectorsForFATType(16))
	device, err := blockdevice.NewMemoryDevice(storage)
	require.NoError(t, err)

	opts := DefaultFormatOptions(16)
	opts.FATType = 8
	assert.Error(t, Format(device, opts))
}

func TestFormatWritesBootSignature(t *testing.T) {
	storage := make([]byte, 512*minSectorsForFATType(16))
	device, err := blockdevice.NewMemoryDevice(storage)
	require.NoError(t, err)
	require.NoError(t, Format(device, DefaultFormatOptions(16)))

	header := make([]byte, 512)
	require.NoError(t, device.ReadBlocks(0, 1, header))
	assert.Equal(t, byte(0x55), header[510])
	assert.Equal(t, byte(0xAA), header[511])
}

func TestFormatFAT16ProducesMountableVolume(t *testing.T) {
	totalSectors := minSectorsForFATType(16)
	storage := make([]byte, 512*totalSectors)
	device, err := blockdevice.NewMemoryDevice(storage)
	require.NoError(t, err)
	require.NoError(t, Format(device, DefaultFormatOptions(16)))

	header := make([]byte, 512)
	require.NoError(t, device.ReadBlocks(0, 1, header))
	bs, err := NewFATBootSectorFromStream(bytes.NewReader(header))
	require.NoError(t, err)
	assert.Equal(t, 16, bs.FATVersion)
	assert.EqualValues(t, 512, bs.BytesPerSector)
	assert.Equal(t, "FAT16", bs.FileSystemType)
}

func TestFormatFAT32ReservesClusterTwoForRoot(t *testing.T) {
	totalSectors := minSectorsForFATType(32)
	storage := make([]byte, 512*totalSectors)
	device, err := blockdevice.NewMemoryDevice(storage)
	require.NoError(t, err)

	opts := DefaultFormatOptions(32)
	opts.SectorsPerCluster = 1
	require.NoError(t, Format(device, opts))

	header := make([]byte, 512)
	require.NoError(t, device.ReadBlocks(0, 1, header))
	bs, err := NewFATBootSectorFromStream(bytes.NewReader(header))
	require.NoError(t, err)
	require.Equal(t, 32, bs.FATVersion)
	assert.EqualValues(t, 2, bs.RootCluster)

	vol, err := Mount(device, "/", fatvol.MountFlagsAllowAll)
	require.NoError(t, err)
	assert.EqualValues(t, 32, vol.FATType)

	entry, err := vol.ReadFATEntry(2)
	require.NoError(t, err)
	assert.True(t, vol.IsEndOfChain(entry), "root directory's sole cluster must terminate its own chain")
}

func TestFormatZeroesRootDirectory(t *testing.T) {
	vol := newTestVolume(t, 16, minSectorsForFATType(16))
	scanner := NewDirectoryScanner(vol)
	entries, err := scanner.List(0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// TestFormatZeroesRootDirectoryOnDirtyDevice guards against a bug where the
// zeroing loop targeted the data region instead of the FAT16 root
// directory's actual location (reserved+numFATs*sectorsPerFAT): formatting
// a freshly make()'d, already-zero device could never have caught it.
func TestFormatZeroesRootDirectoryOnDirtyDevice(t *testing.T) {
	totalSectors := minSectorsForFATType(16)
	storage := make([]byte, 512*totalSectors)
	for i := range storage {
		storage[i] = 0xFF
	}
	device, err := blockdevice.NewMemoryDevice(storage)
	require.NoError(t, err)
	require.NoError(t, Format(device, DefaultFormatOptions(16)))

	vol, err := Mount(device, "/", fatvol.MountFlagsAllowAll)
	require.NoError(t, err)

	entries, err := NewDirectoryScanner(vol).List(0)
	require.NoError(t, err)
	assert.Empty(t, entries, "a pre-dirtied device must still format to an empty root directory")
}

func TestSectorsPerFATForMatchesMicrosoftWorkedExample(t *testing.T) {
	// A small FAT16 volume: 20000 total sectors, 1 reserved, 2 FATs, 4
	// sectors/cluster, 32 root-dir sectors (matches DefaultFormatOptions'
	// 512-entry root). Verified independently via the same tmpVal1/tmpVal2
	// arithmetic in Microsoft's FAT specification.
	got := sectorsPerFATFor(16, 20000, 1, 2, 4, 32)
	tmpVal1 := uint(20000 - (1 + 32))
	tmpVal2 := uint(256*4 + 2)
	want := (tmpVal1 + tmpVal2 - 1) / tmpVal2
	assert.Equal(t, want, got)
}
