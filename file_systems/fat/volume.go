package fat

import (
	"bytes"
	"os"

	"github.com/boljen/go-bitmap"
	"github.com/vireo-systems/fatvol"
	"github.com/vireo-systems/fatvol/errors"
	c "github.com/vireo-systems/fatvol/file_systems/common"
	"github.com/vireo-systems/fatvol/file_systems/common/blockcache"
)

// Volume is the immutable-at-mount descriptor for a single mounted FAT16 or
// FAT32 file system, plus the mutable bookkeeping (the free-cluster bitmap)
// the cluster-chain manager needs to serve allocations quickly. One Volume
// owns exactly one block device; nothing here is safe for concurrent use from
// more than one goroutine without an external lock, matching the single-
// threaded core described for this driver.
type Volume struct {
	FATType           int // 16 or 32
	BytesPerSector    uint
	SectorsPerCluster uint
	ReservedSectors   uint
	NumFATs           uint
	FATSizeSectors    uint

	// RootDirSectorsNum is the number of sectors the root directory occupies
	// on FAT16; it is 0 on FAT32, where the root directory is an ordinary
	// cluster chain rooted at RootClusterNum.
	RootDirSectorsNum uint
	// RootDirSecLoc is the first sector of the FAT16 root directory.
	RootDirSecLoc SectorID
	// DataSecLoc is the first sector of cluster 2.
	DataSecLoc SectorID
	// RootClusterNum is the first cluster of the FAT32 root directory.
	RootClusterNum ClusterID
	// ByteOffset is the multiplier mapping a cluster index to a FAT byte
	// offset: 2 on FAT16, 4 on FAT32.
	ByteOffset uint

	// Mount is the logical mount prefix path components are matched against.
	Mount string
	Flags fatvol.MountFlags

	TotalClusters uint
	BytesPerCluster uint

	cache  *blockcache.BlockCache
	device fatvol.BlockDevice

	// free mirrors which clusters (indices 0..TotalClusters-1, corresponding
	// to FAT cluster numbers 2..TotalClusters+1) are in use. It's populated by
	// a single scan of the first FAT copy at mount time and kept in sync by
	// every call to AllocateCluster/FreeChain, which lets allocation avoid
	// re-scanning the FAT from cluster 2 on every call while still being a
	// first-fit search over free-space state (see spec.md §4.2).
	free bitmap.Bitmap
}

// Mount opens a FAT16 or FAT32 volume on top of a block device. mount is the
// logical path prefix every subsequent operation's path must begin with.
func Mount(device fatvol.BlockDevice, mount string, flags fatvol.MountFlags) (*Volume, error) {
	header := make([]byte, 512)
	if err := device.ReadBlocks(0, 1, header); err != nil {
		return nil, errors.ErrIOFailed.WrapError(err)
	}

	bootSector, err := NewFATBootSectorFromStream(bytes.NewReader(header))
	if err != nil {
		return nil, err
	}
	if bootSector.BytesPerSector != 512 {
		return nil, errors.ErrInvalidFileSystem.WithMessage(
			"this driver only supports 512-byte sectors")
	}

	vol := &Volume{
		FATType:           bootSector.FATVersion,
		BytesPerSector:    uint(bootSector.BytesPerSector),
		SectorsPerCluster: uint(bootSector.SectorsPerCluster),
		ReservedSectors:   uint(bootSector.ReservedSectors),
		NumFATs:           uint(bootSector.NumFATs),
		FATSizeSectors:    bootSector.SectorsPerFAT,
		RootDirSectorsNum: bootSector.RootDirSectors,
		RootDirSecLoc:     SectorID(uint(bootSector.ReservedSectors) + bootSector.TotalFATSectors),
		DataSecLoc:        bootSector.FirstDataSector,
		RootClusterNum:    bootSector.RootCluster,
		TotalClusters:     bootSector.TotalClusters,
		BytesPerCluster:   bootSector.BytesPerCluster,
		Mount:             mount,
		Flags:             flags,
		device:            device,
	}
	if vol.FATType == 32 {
		vol.ByteOffset = 4
	} else {
		vol.ByteOffset = 2
	}

	vol.cache = blockcache.WrapBlockDevice(device, 512)

	vol.free = bitmap.New(int(vol.TotalClusters))
	if err := vol.rebuildFreeBitmap(); err != nil {
		return nil, err
	}

	return vol, nil
}

// rebuildFreeBitmap scans the first FAT copy once and records which clusters
// are currently allocated. Called once at mount time.
func (v *Volume) rebuildFreeBitmap() error {
	for i := uint(0); i < v.TotalClusters; i++ {
		cluster := ClusterID(i + 2)
		entry, err := v.ReadFATEntry(cluster)
		if err != nil {
			return err
		}
		v.free.Set(int(i), entry != 0)
	}
	return nil
}

// FirstSectorOfCluster returns the first sector belonging to the given data
// cluster. Cluster numbering begins at 2.
func (v *Volume) FirstSectorOfCluster(cluster ClusterID) SectorID {
	return v.DataSecLoc + SectorID((uint(cluster)-2)*v.SectorsPerCluster)
}

// IsValidCluster reports whether cluster is a usable data cluster number
// (i.e. not one of the two reserved low indices, and within the bounds of the
// volume's data region).
func (v *Volume) IsValidCluster(cluster ClusterID) bool {
	return cluster >= 2 && uint(cluster) < v.TotalClusters+2
}

// ReadSector loads and returns the raw contents of one sector. The returned
// slice aliases the block cache's storage; a caller that changes it must then
// pass it to WriteSector for the change to reach the block device.
func (v *Volume) ReadSector(sector SectorID) ([]byte, error) {
	return v.cache.GetSlice(c.LogicalBlock(sector), 1)
}

// WriteSector overwrites one sector's contents and flushes it to the block
// device immediately; the core has no write-back cache of its own; the
// in-memory [blockcache.BlockCache] only exists to give repeated reads of the
// same sector (e.g. FAT entries in the same sector, or successive directory
// slots) a cheap path.
func (v *Volume) WriteSector(sector SectorID, data []byte) error {
	if _, err := v.cache.WriteAt(data, c.LogicalBlock(sector)); err != nil {
		return err
	}
	return v.cache.Flush()
}

// ReadCluster returns the full contents of one data cluster.
func (v *Volume) ReadCluster(cluster ClusterID) ([]byte, error) {
	if !v.IsValidCluster(cluster) {
		return nil, errors.ErrInvalidArgument.WithMessage("cluster out of range")
	}
	return v.cache.GetSlice(c.LogicalBlock(v.FirstSectorOfCluster(cluster)), v.SectorsPerCluster)
}

// WriteCluster overwrites one full data cluster and flushes it.
func (v *Volume) WriteCluster(cluster ClusterID, data []byte) error {
	if !v.IsValidCluster(cluster) {
		return errors.ErrInvalidArgument.WithMessage("cluster out of range")
	}
	if _, err := v.cache.WriteAt(data, c.LogicalBlock(v.FirstSectorOfCluster(cluster))); err != nil {
		return err
	}
	return v.cache.Flush()
}

// ZeroCluster overwrites an entire cluster with zero bytes. Required after
// allocating a cluster for a directory, so the scanner's 0x00 end-of-directory
// rule has well-defined data to terminate on.
func (v *Volume) ZeroCluster(cluster ClusterID) error {
	return v.WriteCluster(cluster, make([]byte, v.BytesPerCluster))
}

// ReadOnly reports whether the volume was mounted without write permission.
func (v *Volume) ReadOnly() bool {
	return !v.Flags.CanWrite()
}

// RootDirent returns a synthetic Dirent describing the volume's root
// directory. The root has no on-disk entry of its own (FAT16's root isn't
// addressable as a cluster chain at all, and FAT32 normally omits "." for the
// root); callers that need to walk into it should use its FirstCluster field
// (0 on FAT16, the real root cluster on FAT32) with directorySectors.
func (v *Volume) RootDirent() Dirent {
	return Dirent{
		name:           "/",
		AttributeFlags: AttrDirectory,
		mode:           os.ModeDir | 0o777,
		FirstCluster:   v.RootClusterNum,
		stat: fatvol.FileStat{
			ModeFlags: uint32(os.ModeDir | 0o777),
			BlockSize: int64(v.BytesPerCluster),
		},
	}
}
