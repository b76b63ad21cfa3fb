package fat

import (
	"bytes"
	"encoding/binary"

	"github.com/vireo-systems/fatvol"
	"github.com/vireo-systems/fatvol/errors"
	c "github.com/vireo-systems/fatvol/file_systems/common"
)

// FormatOptions describes the geometry Format lays a fresh FAT16 or FAT32
// volume out with. Format uses every field as given and does not fill in
// zero-valued ones; callers that only care about the file system version and
// size should start from DefaultFormatOptions and override individual fields.
type FormatOptions struct {
	FATType           int // 16 or 32
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8

	// RootEntryCount is the fixed number of 32-byte slots the FAT16 root
	// directory is given; Format forces it to 0 on FAT32, which has no
	// fixed-location root.
	RootEntryCount uint16

	Media       uint8
	OEMName     string
	VolumeLabel string
}

// DefaultFormatOptions returns a complete set of options for fatType:
// 512-byte sectors, two FAT copies, and the 0xF8 "fixed disk" media
// descriptor, matching what every common FAT implementation writes for a
// hard-disk-like block device. FAT16 gets 1-sector clusters, 1 reserved sector
// and a 512-entry root directory; FAT32 gets 8-sector clusters and 32
// reserved sectors.
func DefaultFormatOptions(fatType int) FormatOptions {
	opts := FormatOptions{
		FATType:           fatType,
		BytesPerSector:    512,
		SectorsPerCluster: 1,
		ReservedSectors:   1,
		NumFATs:           2,
		Media:             0xF8,
		OEMName:           "FATVOL",
	}
	if fatType == 16 {
		opts.RootEntryCount = 512
	} else {
		opts.ReservedSectors = 32
		opts.SectorsPerCluster = 8
	}
	return opts
}

// padString returns s, truncated or space-padded to exactly n bytes, the way
// every fixed-width string field in a FAT boot sector is stored.
func padString(s string, n int) []byte {
	b := bytes.Repeat([]byte{' '}, n)
	copy(b, s)
	return b
}

// sectorsPerFATFor computes BPB_FATSz for a volume with the given geometry,
// following the sizing formula from Microsoft's FAT documentation (the same
// source DetermineFATVersion's cluster-count thresholds come from): the FAT
// must be large enough to hold one entry (2 bytes on FAT16, 4 on FAT32, but
// FAT32 packs two per the same space as accounting headroom) per cluster in
// the data region that remains once the FAT itself is subtracted out.
func sectorsPerFATFor(fatType int, totalSectors uint, reservedSectors, numFATs, sectorsPerCluster uint, rootDirSectors uint) uint {
	tmpVal1 := totalSectors - (reservedSectors + rootDirSectors)
	tmpVal2 := 256*sectorsPerCluster + numFATs
	if fatType == 32 {
		tmpVal2 = tmpVal2 / 2
	}
	return (tmpVal1 + tmpVal2 - 1) / tmpVal2
}

// Format writes a fresh, empty FAT16 or FAT32 file system spanning the whole
// of device: a boot sector, NumFATs zeroed FAT copies (each seeded with the
// two reserved entries every FAT begins with), and a zeroed root directory --
// the fixed-size FAT16 root, or a single-cluster FAT32 root chain. It does
// not mount the result; call Mount afterward to get a usable Volume.
func Format(device fatvol.BlockDevice, opts FormatOptions) error {
	if opts.FATType != 16 && opts.FATType != 32 {
		return errors.ErrInvalidArgument.WithMessage("FATType must be 16 or 32")
	}

	totalSectors := device.SectorCount()
	if totalSectors == 0 {
		return errors.ErrInvalidArgument.WithMessage("device reports zero sectors")
	}

	bytesPerSector := uint(opts.BytesPerSector)
	rootEntryCount := opts.RootEntryCount
	if opts.FATType == 32 {
		rootEntryCount = 0
	}
	rootDirSectors := (uint(rootEntryCount)*DirentSize + bytesPerSector - 1) / bytesPerSector

	sectorsPerFAT := sectorsPerFATFor(
		opts.FATType, uint(totalSectors), uint(opts.ReservedSectors),
		uint(opts.NumFATs), uint(opts.SectorsPerCluster), rootDirSectors)

	raw := RawFATBootSectorWithBPB{
		JmpBoot:           [3]byte{0xEB, 0x00, 0x90},
		BytesPerSector:    opts.BytesPerSector,
		SectorsPerCluster: opts.SectorsPerCluster,
		ReservedSectors:   opts.ReservedSectors,
		NumFATs:           opts.NumFATs,
		RootEntryCount:    rootEntryCount,
		Media:             opts.Media,
		SectorsPerTrack:   63,
		NumHeads:          255,
	}
	copy(raw.OEMName[:], padString(opts.OEMName, len(raw.OEMName)))
	if totalSectors <= 0xFFFF {
		raw.totalSectors16 = uint16(totalSectors)
	} else {
		raw.totalSectors32 = uint32(totalSectors)
	}
	if opts.FATType == 16 {
		raw.sectorsPerFAT16 = uint16(sectorsPerFAT)
	}

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, raw); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}

	if opts.FATType == 32 {
		if err := binary.Write(buf, binary.LittleEndian, uint32(sectorsPerFAT)); err != nil {
			return errors.ErrIOFailed.WrapError(err)
		}
		ext := RawFAT32BootSector{
			RootCluster:     2,
			DriveNumber:     0x80,
			ExBootSignature: 0x29,
			VolumeID:        0x12345678,
		}
		copy(ext.VolumeLabel[:], padString(opts.VolumeLabel, len(ext.VolumeLabel)))
		copy(ext.FileSystemType[:], padString("FAT32", len(ext.FileSystemType)))
		if err := binary.Write(buf, binary.LittleEndian, ext); err != nil {
			return errors.ErrIOFailed.WrapError(err)
		}
	} else {
		ext := RawFAT16BootSector{
			DriveNumber:     0x80,
			ExBootSignature: 0x29,
			VolumeID:        0x12345678,
		}
		copy(ext.VolumeLabel[:], padString(opts.VolumeLabel, len(ext.VolumeLabel)))
		copy(ext.FileSystemType[:], padString("FAT16", len(ext.FileSystemType)))
		if err := binary.Write(buf, binary.LittleEndian, ext); err != nil {
			return errors.ErrIOFailed.WrapError(err)
		}
	}

	bootSector := make([]byte, bytesPerSector)
	copy(bootSector, buf.Bytes())
	bootSector[bytesPerSector-2] = 0x55
	bootSector[bytesPerSector-1] = 0xAA
	if err := device.WriteBlocks(0, bootSector); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}

	zeroSector := make([]byte, bytesPerSector)
	for fatIndex := uint(0); fatIndex < uint(opts.NumFATs); fatIndex++ {
		fatStart := uint(opts.ReservedSectors) + fatIndex*sectorsPerFAT
		for s := uint(0); s < sectorsPerFAT; s++ {
			if err := device.WriteBlocks(c.LogicalBlock(fatStart+s), zeroSector); err != nil {
				return errors.ErrIOFailed.WrapError(err)
			}
		}
	}

	firstFATSector := make([]byte, bytesPerSector)
	if opts.FATType == 32 {
		binary.LittleEndian.PutUint32(firstFATSector[0:4], 0x0FFFFF00|uint32(opts.Media))
		binary.LittleEndian.PutUint32(firstFATSector[4:8], 0x0FFFFFFF)
		// Cluster 2 is the root directory's sole cluster at format time.
		binary.LittleEndian.PutUint32(firstFATSector[8:12], EOCMin32)
	} else {
		binary.LittleEndian.PutUint16(firstFATSector[0:2], 0xFF00|uint16(opts.Media))
		binary.LittleEndian.PutUint16(firstFATSector[2:4], 0xFFFF)
	}
	for fatIndex := uint(0); fatIndex < uint(opts.NumFATs); fatIndex++ {
		fatStart := uint(opts.ReservedSectors) + fatIndex*sectorsPerFAT
		if err := device.WriteBlocks(c.LogicalBlock(fatStart), firstFATSector); err != nil {
			return errors.ErrIOFailed.WrapError(err)
		}
	}

	rootDirLoc := uint(opts.ReservedSectors) + uint(opts.NumFATs)*sectorsPerFAT
	rootSectors := rootDirSectors
	if opts.FATType == 32 {
		// FAT32 has no fixed-location root; its root directory is an
		// ordinary chain starting at cluster 2, which lives at the very
		// start of the data region (rootDirSectors is 0, so rootDirLoc
		// already points there).
		rootSectors = uint(opts.SectorsPerCluster)
	}
	for s := uint(0); s < rootSectors; s++ {
		if err := device.WriteBlocks(c.LogicalBlock(rootDirLoc+s), zeroSector); err != nil {
			return errors.ErrIOFailed.WrapError(err)
		}
	}

	return nil
}
