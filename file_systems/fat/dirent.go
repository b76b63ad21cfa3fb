package fat

import (
	"encoding/binary"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/vireo-systems/fatvol"
	"github.com/vireo-systems/fatvol/errors"
)

// fatEpoch is 1980-01-01 00:00:00 at local time, the earliest timestamp FAT
// can represent.
var fatEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.Local)

const (
	// AttrReadOnly is an attribute flag marking a directory entry as read-only.
	AttrReadOnly = 1

	// AttrHidden is an attribute flag marking a directory entry as "hidden", meaning it
	// wouldn't show up in normal directory listings. This is most commonly used for
	// hiding operating system files from normal users.
	//
	// Drivers don't need to honor this flag when reading, but should not modify it unless
	// explicitly requested by the user.
	AttrHidden = 2

	// AttrSystem is an attribute flag marking a directory entry as essential to the
	// operating system and must not be moved (e.g. during defragmentation) because the
	// OS may have hard-coded pointers to the file.
	AttrSystem = 4

	// AttrVolumeLabel is an attribute flag that marks a file as containing the true
	// volume label of the file system. It must reside in the root directory, and there
	// must be only one.
	AttrVolumeLabel = 8

	// AttrDirectory is an attribute flag marking a directory entry as being a directory.
	AttrDirectory = 16

	// AttrArchived is an attribute flag used by some systems to mark a directory entry
	// as "dirty", set whenever the directory entry is created or modified.
	AttrArchived = 32

	// AttrDevice is an attribute flag marking a directory entry as abstracting a device.
	// This is typically only found on in-memory file systems; if encountered on a disk,
	// it must not be modified.
	AttrDevice = 64

	// AttrReserved is an attribute flag that is undefined by the FAT standard and must
	// not be modified by tools.
	AttrReserved = 128

	// AttrLongName is the attribute byte value (ReadOnly|Hidden|System|VolumeLabel)
	// that marks a 32-byte slot as an LFN entry rather than a short directory entry.
	AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeLabel
)

// DirentSize is the size of a single raw directory entry, in bytes.
const DirentSize = 32

// RawDirent is the on-disk representation of a short directory entry, broken down
// into its constituent fields. Byte offsets follow the standard FAT 32-byte short
// entry layout (attribute byte at offset 0x0B).
type RawDirent struct {
	Name              [8]byte
	Extension         [3]byte
	AttributeFlags    uint8
	NTReserved        uint8
	CreatedTimeMillis uint8
	CreatedTime       uint16
	CreatedDate       uint16
	LastAccessedDate  uint16
	FirstClusterHigh  uint16
	LastModifiedTime  uint16
	LastModifiedDate  uint16
	FirstClusterLow   uint16
	FileSize          uint32
}

// direntLocation anchors a Dirent to the on-disk position of its short entry,
// which is the entry's persistent identity for later mutation (updating size,
// timestamps, first cluster) or deletion.
type direntLocation struct {
	sector SectorID
	offset uint
	// lfnCount is the number of LFN slots immediately preceding the short
	// entry, walking backward, that belong to this entry's name.
	lfnCount int
}

// Dirent is a representation of a FAT directory entry's data in a user-friendly format,
// e.g. 0x50FC is converted to a time.Time representing 2020-07-28 00:00:00 local time.
type Dirent struct {
	name           string
	shortName      [11]byte
	AttributeFlags int
	NTReserved     int
	FirstCluster   ClusterID
	isDeleted      bool
	size           int64
	mode           os.FileMode
	stat           fatvol.FileStat
	loc            direntLocation
}

// GetLastAccessedAt returns the timestamp at which the directory entry was last accessed.
func (d *Dirent) GetLastAccessedAt() time.Time {
	return d.stat.LastAccessed
}

// SetLastAccessedAt sets the timestamp at which the directory entry was last accessed.
// It is an error to try to set this time before 1980-01-01 00:00:00 local time.
func (d *Dirent) SetLastAccessedAt(t time.Time) error {
	if t.Before(fatEpoch) {
		return errors.ErrArgumentOutOfRange
	}
	d.stat.LastAccessed = t
	return nil
}

func (d *Dirent) GetLastModifiedAt() time.Time {
	return d.stat.LastModified
}

// SetLastModifiedAt sets the timestamp at which the directory entry was last modified.
// It is an error to try to set this time before 1980-01-01 00:00:00 local time.
func (d *Dirent) SetLastModifiedAt(t time.Time) error {
	if t.Before(fatEpoch) {
		return errors.ErrArgumentOutOfRange
	}
	d.stat.LastModified = t
	return nil
}

// GetCreatedAt returns the timestamp at which the directory entry was created.
// It is an error to get this timestamp for a dirent that has been deleted.
func (d *Dirent) GetCreatedAt() (time.Time, error) {
	if d.isDeleted {
		return time.Unix(0, 0), errors.ErrNotFound
	}
	return d.stat.CreatedAt, nil
}

// SetCreatedAt sets the timestamp at which the directory entry was created.
// It is an error to try to set this time before 1980-01-01 00:00:00 local time, or to set
// this timestamp for a dirent that has been deleted.
func (d *Dirent) SetCreatedAt(t time.Time) error {
	if t.Before(fatEpoch) {
		return errors.ErrArgumentOutOfRange
	} else if d.isDeleted {
		return errors.ErrNotFound
	}

	d.stat.CreatedAt = t
	return nil
}

// IsReadOnly reports whether the AttrReadOnly flag is set on this entry.
func (d *Dirent) IsReadOnly() bool {
	return d.AttributeFlags&AttrReadOnly != 0
}

// DateFromInt converts the FAT on-disk representation of a date into a Go time.Time
// object.
func DateFromInt(value uint16) time.Time {
	createDay := int(value & 0x001f)
	createMonth := time.Month((value >> 5) & 0x000f)
	createYear := int(1980 + (value >> 9))

	return time.Date(createYear, createMonth, createDay, 0, 0, 0, 0, time.Local)
}

// TimestampFromParts converts a FAT timestamp into a time.Time object. datePart is
// required; timePart and hundredths should be 0 if they're not present in the source
// field(s).
func TimestampFromParts(datePart uint16, timePart uint16, hundredths uint8) time.Time {
	dateDt := DateFromInt(datePart)

	seconds := int((timePart & 0x001f) * 2)
	if hundredths >= 100 {
		seconds++
		hundredths -= 100
	}

	minutes := int((timePart >> 5) & 0x003f)
	hours := int(timePart >> 11)
	nanoseconds := int(hundredths) * 10000000

	return time.Date(
		dateDt.Year(), dateDt.Month(), dateDt.Day(), hours, minutes, seconds, nanoseconds, time.Local)
}

// AttrFlagsToFileMode converts FAT attribute flags into the mode flags used by
// syscall.Stat_t.Mode.
func AttrFlagsToFileMode(flags uint8) os.FileMode {
	var mode os.FileMode

	// FAT has no way to mark files as executable or not, so the executable bit is always set.
	if (flags & AttrReadOnly) != 0 {
		mode = 0o555
	} else {
		mode = 0o777
	}

	if (flags & AttrDirectory) != 0 {
		mode |= os.ModeDir
	} else if (flags & AttrDevice) != 0 {
		mode |= os.ModeDevice
	}

	return mode
}

// NewRawDirentFromBytes deserializes 32 bytes into a RawDirent struct for further
// processing. data must be at least DirentSize bytes long; only the first
// DirentSize bytes are read.
func NewRawDirentFromBytes(data []byte) (RawDirent, error) {
	if len(data) < DirentSize {
		return RawDirent{}, errors.ErrInvalidArgument.WithMessage(
			"directory entry buffer is shorter than 32 bytes")
	}

	dirent := RawDirent{
		AttributeFlags:    data[0x0B],
		NTReserved:        data[0x0C],
		CreatedTimeMillis: data[0x0D],
		CreatedTime:       binary.LittleEndian.Uint16(data[0x0E:0x10]),
		CreatedDate:       binary.LittleEndian.Uint16(data[0x10:0x12]),
		LastAccessedDate:  binary.LittleEndian.Uint16(data[0x12:0x14]),
		FirstClusterHigh:  binary.LittleEndian.Uint16(data[0x14:0x16]),
		LastModifiedTime:  binary.LittleEndian.Uint16(data[0x16:0x18]),
		LastModifiedDate:  binary.LittleEndian.Uint16(data[0x18:0x1A]),
		FirstClusterLow:   binary.LittleEndian.Uint16(data[0x1A:0x1C]),
		FileSize:          binary.LittleEndian.Uint32(data[0x1C:0x20]),
	}

	copy(dirent.Name[:], data[0x00:0x08])
	copy(dirent.Extension[:], data[0x08:0x0B])
	return dirent, nil
}

// ShortNameBytes combines a raw short entry's name and extension fields into
// the 11-byte form ShortNameChecksum and EncodeLFNEntries expect.
func (raw *RawDirent) ShortNameBytes() [11]byte {
	var name [11]byte
	copy(name[:8], raw.Name[:])
	copy(name[8:], raw.Extension[:])
	return name
}

// Bytes serializes raw back into its 32-byte on-disk form.
func (raw *RawDirent) Bytes() [DirentSize]byte {
	var data [DirentSize]byte
	copy(data[0x00:0x08], raw.Name[:])
	copy(data[0x08:0x0B], raw.Extension[:])
	data[0x0B] = raw.AttributeFlags
	data[0x0C] = raw.NTReserved
	data[0x0D] = raw.CreatedTimeMillis
	binary.LittleEndian.PutUint16(data[0x0E:0x10], raw.CreatedTime)
	binary.LittleEndian.PutUint16(data[0x10:0x12], raw.CreatedDate)
	binary.LittleEndian.PutUint16(data[0x12:0x14], raw.LastAccessedDate)
	binary.LittleEndian.PutUint16(data[0x14:0x16], raw.FirstClusterHigh)
	binary.LittleEndian.PutUint16(data[0x16:0x18], raw.LastModifiedTime)
	binary.LittleEndian.PutUint16(data[0x18:0x1A], raw.LastModifiedDate)
	binary.LittleEndian.PutUint16(data[0x1A:0x1C], raw.FirstClusterLow)
	binary.LittleEndian.PutUint32(data[0x1C:0x20], raw.FileSize)
	return data
}

func TimeToTimespec(t time.Time) syscall.Timespec {
	return syscall.NsecToTimespec(t.UnixNano())
}

// NewDirentFromRaw creates a fully processed Dirent from a raw one, such as converting
// the packed FAT date and time fields into time.Time values. longName, if non-empty, overrides the short
// 8.3 name reconstructed from rawDirent (i.e. the name carried by a preceding LFN run).
// bytesPerCluster is used only to report NumBlocks in the resulting stat structure.
func NewDirentFromRaw(bytesPerCluster uint, rawDirent *RawDirent, longName string) (Dirent, error) {
	if rawDirent.Name[0] == 0x00 {
		// Free slot; end of directory.
		return Dirent{}, errors.ErrNotFound
	}

	lastModified := TimestampFromParts(
		rawDirent.LastModifiedDate, rawDirent.LastModifiedTime, 0)
	size := int64(rawDirent.FileSize)
	sizeInClusters := size / int64(bytesPerCluster)
	if size%int64(bytesPerCluster) != 0 {
		sizeInClusters++
	}

	mode := AttrFlagsToFileMode(rawDirent.AttributeFlags)
	firstCluster := (uint32(rawDirent.FirstClusterHigh) << 16) | uint32(rawDirent.FirstClusterLow)

	isDeleted := rawDirent.Name[0] == 0xE5

	var createdAt time.Time
	if isDeleted {
		createdAt = time.Unix(0, 0)
	} else {
		createdAt = TimestampFromParts(
			rawDirent.CreatedDate, rawDirent.CreatedTime, rawDirent.CreatedTimeMillis)
	}

	var shortName [11]byte
	copy(shortName[:8], rawDirent.Name[:])
	copy(shortName[8:], rawDirent.Extension[:])

	dirent := Dirent{
		shortName: shortName,
		stat: fatvol.FileStat{
			// FAT has no concept of inodes; the first cluster is a decent
			// stand-in since two entries pointing at the same data chain are
			// the closest thing FAT has to hard links.
			InodeNumber:  uint64(firstCluster),
			Nlinks:       1,
			ModeFlags:    uint32(mode),
			Size:         size,
			BlockSize:    int64(bytesPerCluster),
			NumBlocks:    sizeInClusters,
			LastAccessed: DateFromInt(rawDirent.LastAccessedDate),
			LastModified: lastModified,
			CreatedAt:    createdAt,
		},
		AttributeFlags: int(rawDirent.AttributeFlags),
		NTReserved:     int(rawDirent.NTReserved),
		isDeleted:      isDeleted,
		size:           size,
		mode:           mode,
		FirstCluster:   ClusterID(firstCluster),
	}

	if longName != "" {
		dirent.name = longName
		return dirent, nil
	}

	trimmedName := strings.TrimRight(string(rawDirent.Name[:]), " ")
	trimmedExt := strings.TrimRight(string(rawDirent.Extension[:]), " ")

	if len(trimmedName) > 0 && trimmedName[0] == 0xE5 {
		// Deleted entry; the real first byte of the short name is stashed in
		// CreatedTimeMillis since 0xE5 itself marks the slot as free.
		trimmedName = string([]byte{rawDirent.CreatedTimeMillis}) + trimmedName[1:]
	} else if len(trimmedName) > 0 && trimmedName[0] == 0x05 {
		// 0x05 stands in for a literal leading 0xE5 in a live short name.
		trimmedName = "\xe5" + trimmedName[1:]
	}

	if rawDirent.NTReserved&ntResLowerBase != 0 {
		trimmedName = strings.ToLower(trimmedName)
	}
	if rawDirent.NTReserved&ntResLowerExt != 0 {
		trimmedExt = strings.ToLower(trimmedExt)
	}

	if !dirent.AttributeIsVolumeLabel() && trimmedExt != "" {
		dirent.name = trimmedName + "." + trimmedExt
	} else {
		dirent.name = trimmedName
	}

	return dirent, nil
}

// AttributeIsVolumeLabel reports whether this entry's attribute byte marks it
// as the volume label entry, which (unlike ordinary files) never gets an
// implied "." separator between name and extension.
func (d Dirent) AttributeIsVolumeLabel() bool {
	return d.AttributeFlags&AttrVolumeLabel != 0 && d.AttributeFlags&AttrDirectory == 0
}

// ShortName returns the raw 11-byte space-padded 8.3 name backing this entry.
func (d Dirent) ShortName() [11]byte {
	return d.shortName
}

// Checksum returns the LFN checksum of this entry's short name, used to
// validate (or generate) an associated LFN run.
func (d Dirent) Checksum() uint8 {
	return ShortNameChecksum(d.shortName)
}

// ntResLowerBase and ntResLowerExt are the Windows NT reserved-byte (offset
// 0x0C) bits that record a short name's base/extension as lowercase on disk
// while the bytes themselves stay uppercase. NewDirentFromRaw honours them
// when reading entries. SynthesizeShortName never requests them: any
// lowercase letter in a name already forces an LFN run, which carries the
// name's case instead.
const (
	ntResLowerBase = 0x08
	ntResLowerExt  = 0x10
)

// newRawDirentForEntry builds the short RawDirent for a freshly created file or
// directory with the given short name, attributes, first cluster and size, timestamped
// at now. ntReserved carries the NT lowercase-case bits (see ntResLowerBase/
// ntResLowerExt); pass 0 when the caller has nothing to record there.
func newRawDirentForEntry(shortName [11]byte, attrs uint8, ntReserved uint8, cluster ClusterID, size uint32, now time.Time) RawDirent {
	date := PackDate(now.Year(), now.Month(), now.Day())
	clock := PackTime(now.Hour(), now.Minute(), now.Second())

	raw := RawDirent{
		AttributeFlags:   attrs,
		NTReserved:       ntReserved,
		CreatedTime:      clock,
		CreatedDate:      date,
		LastAccessedDate: date,
		LastModifiedTime: clock,
		LastModifiedDate: date,
		FirstClusterHigh: uint16(uint32(cluster) >> 16),
		FirstClusterLow:  uint16(uint32(cluster) & 0xFFFF),
		FileSize:         size,
	}
	copy(raw.Name[:], shortName[:8])
	copy(raw.Extension[:], shortName[8:])
	return raw
}

// Dirent implementation of FileInfo -------------------------------------------

// Name returns the name of the directory entry: the long name reconstructed
// from its LFN run when one preceded it, otherwise its 8.3 short name.
func (d Dirent) Name() string { return d.name }

// Size is the size of the directory entry if and ONLY if it's a regular file.
//
// Directories will have this value set to 0. The only way to tell the size of a directory
// is to recurse through it completely, and that's kinda excessive.
func (d Dirent) Size() int64 { return d.size }

// Mode returns the mode flags of this directory entry.
func (d Dirent) Mode() os.FileMode { return d.mode }

func (d Dirent) ModTime() time.Time { return d.GetLastModifiedAt() }

func (d Dirent) IsDir() bool { return d.mode.IsDir() }

func (d Dirent) Sys() interface{} { return d.stat }

func (d Dirent) Stat() fatvol.FileStat { return d.stat }

// -----------------------------------------------------------------------------
