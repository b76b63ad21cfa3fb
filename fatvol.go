// Package fatvol defines the types shared across the FAT16/FAT32 driver core
// and the external collaborators it's built against: the block device it
// reads and writes sectors through, and the mount/permission flags a caller
// configures a volume with.
//
// The core itself lives in file_systems/fat. This package only holds the
// vocabulary both sides of that boundary need.
package fatvol

import (
	"math"
	"time"

	c "github.com/vireo-systems/fatvol/file_systems/common"
)

// BlockDevice is the external collaborator this driver is layered on top of.
// Sector size is fixed at 512 bytes; SectorCount reports the total number of
// addressable sectors. Implementations are not required to be safe for
// concurrent use — see the concurrency model in SPEC_FULL.md §5.
type BlockDevice interface {
	// ReadBlocks fills buffer with count consecutive 512-byte sectors
	// beginning at startSector. len(buffer) must equal count*512.
	ReadBlocks(startSector c.LogicalBlock, count uint, buffer []byte) error

	// WriteBlocks writes len(data)/512 consecutive sectors to the device
	// beginning at startSector. len(data) must be a nonzero multiple of 512.
	WriteBlocks(startSector c.LogicalBlock, data []byte) error

	// SectorCount returns the total number of 512-byte sectors available on
	// the device.
	SectorCount() uint
}

// MountFlags controls the permissions a volume is mounted with.
type MountFlags int

const (
	// MountFlagsAllowRead permits read operations against the volume.
	MountFlagsAllowRead = MountFlags(1 << iota)
	// MountFlagsAllowWrite permits modifying the contents of existing files.
	MountFlagsAllowWrite
	// MountFlagsAllowInsert permits creating new files and directories.
	MountFlagsAllowInsert
	// MountFlagsAllowDelete permits unlink and rmdir.
	MountFlagsAllowDelete
)

func (flags MountFlags) CanRead() bool   { return flags&MountFlagsAllowRead != 0 }
func (flags MountFlags) CanWrite() bool  { return flags&MountFlagsAllowWrite != 0 }
func (flags MountFlags) CanInsert() bool { return flags&MountFlagsAllowInsert != 0 }
func (flags MountFlags) CanDelete() bool { return flags&MountFlagsAllowDelete != 0 }

const MountFlagsAllowReadWrite = MountFlagsAllowRead | MountFlagsAllowWrite
const MountFlagsAllowAll = MountFlagsAllowRead | MountFlagsAllowWrite |
	MountFlagsAllowInsert | MountFlagsAllowDelete

// IOFlags mirrors the subset of POSIX open(2) flags the file handle API in
// SPEC_FULL.md §6 needs: read, write, create, exclusive-create, truncate,
// append, directory, and synchronous writes. The access modes, O_CREATE,
// O_EXCL, O_TRUNC and O_APPEND have the same numeric values as os.O_* on
// Linux; O_SYNC and O_DIRECTORY use values of their own.
type IOFlags int

const (
	O_RDONLY IOFlags = 0
	O_WRONLY IOFlags = 1
	O_RDWR   IOFlags = 2

	O_CREATE    IOFlags = 1 << 6
	O_EXCL      IOFlags = 1 << 7
	O_SYNC      IOFlags = 1 << 8
	O_TRUNC     IOFlags = 1 << 9
	O_APPEND    IOFlags = 1 << 10
	O_DIRECTORY IOFlags = 1 << 11
)

func (flags IOFlags) accessMode() IOFlags { return flags & 0b11 }

// Read reports whether the flags permit reading.
func (flags IOFlags) Read() bool {
	mode := flags.accessMode()
	return mode == O_RDONLY || mode == O_RDWR
}

// Write reports whether the flags permit writing.
func (flags IOFlags) Write() bool {
	mode := flags.accessMode()
	return mode == O_WRONLY || mode == O_RDWR
}

func (flags IOFlags) Create() bool      { return flags&O_CREATE != 0 }
func (flags IOFlags) Exclusive() bool   { return flags&O_EXCL != 0 }
func (flags IOFlags) Truncate() bool    { return flags&O_TRUNC != 0 }
func (flags IOFlags) Append() bool      { return flags&O_APPEND != 0 }
func (flags IOFlags) Directory() bool   { return flags&O_DIRECTORY != 0 }
func (flags IOFlags) Synchronous() bool { return flags&O_SYNC != 0 }

// FileStat is a platform-independent description of a single directory
// entry, analogous to syscall.Stat_t.
type FileStat struct {
	InodeNumber  uint64
	Nlinks       uint64
	ModeFlags    uint32
	Size         int64
	BlockSize    int64
	NumBlocks    int64
	CreatedAt    time.Time
	LastAccessed time.Time
	LastModified time.Time
	DeletedAt    time.Time
}

// FSStat is a platform-independent description of a mounted volume,
// analogous to syscall.Statfs_t.
type FSStat struct {
	BlockSize       int64
	TotalBlocks     uint64
	BlocksFree      uint64
	BlocksAvailable uint64
	Files           uint64
	FilesFree       uint64
	FileSystemID    uint64
	MaxNameLength   int64
	Label           string
}

// UndefinedTimestamp is used in place of a timestamp a file system has no
// value for, analogous to a nil pointer.
var UndefinedTimestamp = time.UnixMicro(math.MaxInt64)
