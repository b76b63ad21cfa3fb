package blockdevice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vireo-systems/fatvol/file_systems/common"
)

func TestNewMemoryDeviceRejectsBadSize(t *testing.T) {
	_, err := NewMemoryDevice(nil)
	assert.Error(t, err)

	_, err = NewMemoryDevice(make([]byte, SectorSize+1))
	assert.Error(t, err)
}

func TestNewMemoryDeviceSectorCount(t *testing.T) {
	device, err := NewMemoryDevice(make([]byte, SectorSize*10))
	require.NoError(t, err)
	assert.EqualValues(t, 10, device.SectorCount())
}

func TestWriteThenReadBlocksRoundTrip(t *testing.T) {
	device, err := NewMemoryDevice(make([]byte, SectorSize*4))
	require.NoError(t, err)

	payload := bytesOf(SectorSize, 0xAB)
	require.NoError(t, device.WriteBlocks(1, payload))

	out := make([]byte, SectorSize)
	require.NoError(t, device.ReadBlocks(1, 1, out))
	assert.Equal(t, payload, out)

	// Sectors outside the written range are untouched.
	zero := make([]byte, SectorSize)
	got := make([]byte, SectorSize)
	require.NoError(t, device.ReadBlocks(0, 1, got))
	assert.Equal(t, zero, got)
}

func TestReadBlocksMultiSector(t *testing.T) {
	device, err := NewMemoryDevice(make([]byte, SectorSize*4))
	require.NoError(t, err)

	payload := append(bytesOf(SectorSize, 0x11), bytesOf(SectorSize, 0x22)...)
	require.NoError(t, device.WriteBlocks(0, payload))

	out := make([]byte, SectorSize*2)
	require.NoError(t, device.ReadBlocks(0, 2, out))
	assert.Equal(t, payload, out)
}

func TestReadBlocksRejectsOutOfRange(t *testing.T) {
	device, err := NewMemoryDevice(make([]byte, SectorSize*2))
	require.NoError(t, err)

	buf := make([]byte, SectorSize)
	err = device.ReadBlocks(common.LogicalBlock(5), 1, buf)
	assert.Error(t, err)
}

func TestReadBlocksRejectsMismatchedBufferSize(t *testing.T) {
	device, err := NewMemoryDevice(make([]byte, SectorSize*2))
	require.NoError(t, err)

	buf := make([]byte, SectorSize-1)
	err = device.ReadBlocks(0, 1, buf)
	assert.Error(t, err)
}

func TestWriteBlocksRejectsNonMultipleOfSectorSize(t *testing.T) {
	device, err := NewMemoryDevice(make([]byte, SectorSize*2))
	require.NoError(t, err)
	assert.Error(t, device.WriteBlocks(0, make([]byte, SectorSize-1)))
}

func TestWriteBlocksRejectsOutOfRange(t *testing.T) {
	device, err := NewMemoryDevice(make([]byte, SectorSize*2))
	require.NoError(t, err)
	assert.Error(t, device.WriteBlocks(1, make([]byte, SectorSize*2)))
}

func bytesOf(n int, b byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
