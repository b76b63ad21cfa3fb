// Package blockdevice provides ready-made fatvol.BlockDevice implementations
// over the two storage backends a driver actually gets handed in practice: a
// plain byte slice held in memory, and an os.File (or anything else shaped
// like one) on disk. Both translate the fixed-512-byte-sector contract the
// core package depends on into ordinary io.ReadWriteSeeker calls.
package blockdevice

import (
	"io"

	"github.com/vireo-systems/fatvol"
	"github.com/vireo-systems/fatvol/errors"
	"github.com/vireo-systems/fatvol/file_systems/common"
	"github.com/xaionaro-go/bytesextra"
)

// SectorSize is the only sector size fat.Mount accepts.
const SectorSize = 512

// streamDevice adapts an io.ReadWriteSeeker, fixed at totalSectors*SectorSize
// bytes, into a fatvol.BlockDevice.
type streamDevice struct {
	stream      io.ReadWriteSeeker
	totalSectors uint
}

// NewMemoryDevice wraps storage (which must be a nonzero multiple of
// SectorSize bytes long) as a block device entirely in memory, suitable for
// tests and for working on a disk image that has already been read into a
// []byte.
func NewMemoryDevice(storage []byte) (fatvol.BlockDevice, error) {
	if len(storage) == 0 || len(storage)%SectorSize != 0 {
		return nil, errors.ErrInvalidArgument.WithMessage(
			"storage must be a nonzero multiple of 512 bytes")
	}
	return &streamDevice{
		stream:       bytesextra.NewReadWriteSeeker(storage),
		totalSectors: uint(len(storage)) / SectorSize,
	}, nil
}

// NewStreamDevice wraps an arbitrary io.ReadWriteSeeker (an *os.File, most
// commonly) as a block device spanning totalSectors sectors.
func NewStreamDevice(stream io.ReadWriteSeeker, totalSectors uint) fatvol.BlockDevice {
	return &streamDevice{stream: stream, totalSectors: totalSectors}
}

func (d *streamDevice) checkRange(start common.LogicalBlock, count uint) error {
	if count == 0 {
		return errors.ErrInvalidArgument.WithMessage("count must be nonzero")
	}
	if uint(start)+count > d.totalSectors {
		return errors.ErrArgumentOutOfRange.WithMessage(
			"sector range falls outside the device")
	}
	return nil
}

func (d *streamDevice) ReadBlocks(startSector common.LogicalBlock, count uint, buffer []byte) error {
	if err := d.checkRange(startSector, count); err != nil {
		return err
	}
	if uint(len(buffer)) != count*SectorSize {
		return errors.ErrInvalidArgument.WithMessage("buffer size does not match count*512")
	}
	if _, err := d.stream.Seek(int64(uint(startSector)*SectorSize), io.SeekStart); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}
	if _, err := io.ReadFull(d.stream, buffer); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}
	return nil
}

func (d *streamDevice) WriteBlocks(startSector common.LogicalBlock, data []byte) error {
	if len(data) == 0 || len(data)%SectorSize != 0 {
		return errors.ErrInvalidArgument.WithMessage("data must be a nonzero multiple of 512 bytes")
	}
	count := uint(len(data)) / SectorSize
	if err := d.checkRange(startSector, count); err != nil {
		return err
	}
	if _, err := d.stream.Seek(int64(uint(startSector)*SectorSize), io.SeekStart); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}
	if _, err := d.stream.Write(data); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}
	return nil
}

func (d *streamDevice) SectorCount() uint {
	return d.totalSectors
}
