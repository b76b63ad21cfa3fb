// Package fat implements a driver for accessing FAT file systems.
package fat

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/vireo-systems/fatvol/errors"
)

type SectorID uint32
type ClusterID uint32

// RawFATBootSectorWithBPB is the on-disk representation of the boot sector.
//
// Note: This is only the section of the boot sector common to all FAT versions. Other
// fields specific to a particular version can be found in RawFAT16BootSector and
// RawFAT32BootSector.
type RawFATBootSectorWithBPB struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	totalSectors16    uint16
	Media             uint8
	sectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	totalSectors32    uint32
}

// FATBootSector extends RawFATBootSectorWithBPB with precomputed fields useful in other
// operations.
type FATBootSector struct {
	RawFATBootSectorWithBPB
	SectorsPerFAT     uint
	TotalFATSectors   uint
	RootDirSectors    uint
	BytesPerCluster   uint
	TotalClusters     uint
	TotalDataSectors  uint
	FirstDataSector   SectorID
	FATVersion        int
	DirentsPerCluster int

	// RootCluster is the first cluster of the root directory on FAT32 volumes;
	// it is always 0 on FAT16, which has a fixed-location root directory
	// instead (see RootDirSectors and FirstDataSector).
	RootCluster ClusterID
	// FSInfoSector is the sector number of the FAT32 FSInfo structure, or 0
	// if this is not a FAT32 volume.
	FSInfoSector SectorID
	// BackupBootSector is the sector number of the FAT32 backup boot sector,
	// or 0 if this is not a FAT32 volume.
	BackupBootSector SectorID
	VolumeID         uint32
	VolumeLabel      string
	FileSystemType   string
}

// DetermineFATVersion determines the version of the FAT file system based on the number
// of clusters on the system. (This is the only proper way to do so.)
func DetermineFATVersion(totalClusters uint) int {
	// These cluster counts, while odd-looking, are correct. They're taken directly from
	// Microsoft's FAT documentation, v1.03, page 14.
	if totalClusters < 4085 {
		return 12
	}
	if totalClusters < 65525 {
		return 16
	}
	return 32
}

// NewFATBootSectorFromStream reads the 36-byte common BPB at the start of a disk image,
// then BPB_FATSz32 when BPB_FATSz16 is zero, then the FAT16 or FAT32 extended boot
// record, and returns a structure with detailed information on the file system.
//
// If an error occurs, it returns nil and an error object. There are no guarantees on
// the position of stream pointer in this case.
func NewFATBootSectorFromStream(reader io.Reader) (*FATBootSector, error) {
	rawHeader := RawFATBootSectorWithBPB{}

	err := binary.Read(reader, binary.LittleEndian, &rawHeader)
	if err != nil {
		return nil, errors.ErrIOFailed.WrapError(err)
	}

	// BPB_FATSz32 only exists in the extended BPB when BPB_FATSz16 (already
	// read above) is zero. Reading it unconditionally would eat 4 bytes
	// belonging to the FAT16 extended boot record (BS_DrvNum, BS_Reserved1,
	// BS_BootSig, and the first byte of BS_VolID) and desynchronize every
	// field read after it.
	var sectorsPerFAT uint
	var sectorsPerFAT32 uint32
	if rawHeader.sectorsPerFAT16 != 0 {
		sectorsPerFAT = uint(rawHeader.sectorsPerFAT16)
	} else {
		err = binary.Read(reader, binary.LittleEndian, &sectorsPerFAT32)
		if err != nil {
			return nil, errors.ErrIOFailed.WrapError(err)
		}
		sectorsPerFAT = uint(sectorsPerFAT32)
	}

	// BytesPerSector and SectorsPerCluster are validated before anything below
	// divides by them, so a corrupt BPB fails with a descriptive error instead
	// of a division-by-zero panic. Both checks run even if the first one
	// fails, and their failures are aggregated into one error rather than
	// stopping at the first problem, so a caller diagnosing a foreign or
	// corrupt volume sees every violation at once instead of fixing them one
	// at a time across repeated mount attempts.
	var bpbErrors *multierror.Error

	switch rawHeader.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		bpbErrors = multierror.Append(bpbErrors, fmt.Errorf(
			"BytesPerSector must be 512, 1024, 2048, or 4096, got %d",
			rawHeader.BytesPerSector))
	}

	// SectorsPerCluster must be 2^x with x in [0, 8)
	switch rawHeader.SectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		bpbErrors = multierror.Append(bpbErrors, fmt.Errorf(
			"SectorsPerCluster must be a power of 2 in 1-128, got %d",
			rawHeader.SectorsPerCluster))
	}

	if err := bpbErrors.ErrorOrNil(); err != nil {
		return nil, errors.ErrFileSystemCorrupted.WrapError(err)
	}

	var totalSectors uint
	if rawHeader.totalSectors16 != 0 {
		totalSectors = uint(rawHeader.totalSectors16)
	} else {
		totalSectors = uint(rawHeader.totalSectors32)
	}

	// The number of sectors taken up by the root directory. On FAT32 systems, this will
	// be 0.
	rootDirSectors := uint(
		((rawHeader.RootEntryCount * 32) + (rawHeader.BytesPerSector - 1)) / rawHeader.BytesPerSector)

	totalFATSectors := uint(rawHeader.NumFATs) * sectorsPerFAT
	dataSectors := totalSectors - (uint(rawHeader.ReservedSectors) + totalFATSectors + uint(rootDirSectors))
	totalClusters := dataSectors / uint(rawHeader.SectorsPerCluster)

	fatVersion := DetermineFATVersion(totalClusters)
	if fatVersion == 12 {
		message := fmt.Sprintf(
			"FAT12 volumes (%d clusters) are not supported by this driver", totalClusters)
		return nil, errors.ErrNotSupported.WithMessage(message)
	}

	bytesPerCluster := uint(rawHeader.BytesPerSector) * uint(rawHeader.SectorsPerCluster)

	var geometryErrors *multierror.Error
	if fatVersion == 32 && rootDirSectors != 0 {
		geometryErrors = multierror.Append(geometryErrors, fmt.Errorf(
			"RootDirectorySectors is nonzero for a FAT32 disk: %d", rootDirSectors))
	}
	if bytesPerCluster > 32768 {
		geometryErrors = multierror.Append(geometryErrors, fmt.Errorf(
			"BytesPerCluster cannot exceed 32,768 but got %d", bytesPerCluster))
	}
	if err := geometryErrors.ErrorOrNil(); err != nil {
		return nil, errors.ErrFileSystemCorrupted.WrapError(err)
	}

	processedHeader := FATBootSector{
		RawFATBootSectorWithBPB: RawFATBootSectorWithBPB{
			JmpBoot:           rawHeader.JmpBoot,
			OEMName:           rawHeader.OEMName,
			BytesPerSector:    rawHeader.BytesPerSector,
			SectorsPerCluster: rawHeader.SectorsPerCluster,
			ReservedSectors:   rawHeader.ReservedSectors,
			NumFATs:           rawHeader.NumFATs,
			RootEntryCount:    rawHeader.RootEntryCount,
			totalSectors16:    rawHeader.totalSectors16,
			Media:             rawHeader.Media,
			sectorsPerFAT16:   rawHeader.sectorsPerFAT16,
			SectorsPerTrack:   rawHeader.SectorsPerTrack,
			NumHeads:          rawHeader.NumHeads,
			HiddenSectors:     rawHeader.HiddenSectors,
			totalSectors32:    rawHeader.totalSectors32,
		},
		SectorsPerFAT:     sectorsPerFAT,
		TotalFATSectors:   totalFATSectors,
		RootDirSectors:    rootDirSectors,
		BytesPerCluster:   bytesPerCluster,
		TotalClusters:     totalClusters,
		TotalDataSectors:  totalSectors - (uint(rawHeader.ReservedSectors) + totalFATSectors + rootDirSectors),
		FirstDataSector:   SectorID(uint(rawHeader.ReservedSectors) + totalFATSectors + rootDirSectors),
		FATVersion:        fatVersion,
		DirentsPerCluster: int(bytesPerCluster) / DirentSize,
	}

	if err := readExtendedBootSector(reader, &processedHeader); err != nil {
		return nil, err
	}

	return &processedHeader, nil
}
