package fat

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/vireo-systems/fatvol/errors"
)

// RawFAT16BootSector is the portion of the extended BIOS Parameter Block that
// follows the common BPB (RawFATBootSectorWithBPB) on FAT16 volumes.
type RawFAT16BootSector struct {
	DriveNumber     uint8
	NTReserved      uint8
	ExBootSignature uint8
	VolumeID        uint32
	VolumeLabel     [11]byte
	FileSystemType  [8]byte
}

// RawFAT32BootSector is the portion of the extended BPB that follows the
// common BPB and the 4-byte BPB_FATSz32 field on FAT32 volumes.
type RawFAT32BootSector struct {
	ExtFlags         uint16
	FSVersionMinor   uint8
	FSVersionMajor   uint8
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	Reserved         [12]byte
	DriveNumber      uint8
	NTReserved       uint8
	ExBootSignature  uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FileSystemType   [8]byte
}

// readVolumeLabel trims trailing spaces the way FAT pads fixed-width string
// fields.
func readVolumeLabel(raw []byte) string {
	return strings.TrimRight(string(raw), " ")
}

// readExtendedBootSector reads the FAT16- or FAT32-specific tail of the boot
// sector (whichever applies, per bs.FATVersion) from reader, which must be
// positioned immediately after the bytes NewFATBootSectorFromStream already
// consumed, and fills in the version-specific fields of bs.
func readExtendedBootSector(reader io.Reader, bs *FATBootSector) error {
	if bs.FATVersion == 32 {
		var ext RawFAT32BootSector
		if err := binary.Read(reader, binary.LittleEndian, &ext); err != nil {
			return errors.ErrIOFailed.WrapError(err)
		}
		bs.RootCluster = ClusterID(ext.RootCluster)
		bs.FSInfoSector = SectorID(ext.FSInfoSector)
		bs.BackupBootSector = SectorID(ext.BackupBootSector)
		bs.VolumeID = ext.VolumeID
		bs.VolumeLabel = readVolumeLabel(ext.VolumeLabel[:])
		bs.FileSystemType = readVolumeLabel(ext.FileSystemType[:])
		return nil
	}

	var ext RawFAT16BootSector
	if err := binary.Read(reader, binary.LittleEndian, &ext); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}
	bs.VolumeID = ext.VolumeID
	bs.VolumeLabel = readVolumeLabel(ext.VolumeLabel[:])
	bs.FileSystemType = readVolumeLabel(ext.FileSystemType[:])
	return nil
}
