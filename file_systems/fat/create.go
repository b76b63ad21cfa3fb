package fat

import (
	"time"

	"github.com/vireo-systems/fatvol/errors"
)

// slotLoc is the on-disk position of one 32-byte directory entry slot.
type slotLoc struct {
	sector SectorID
	offset uint
}

// scanFreeSlots looks for need consecutive free slots (free meaning 0x00,
// the true end of the directory, or 0xE5, a deleted entry) within the
// existing sectors of the directory rooted at dirCluster. It does not grow
// the directory; see allocateDirectorySlots for that.
func (v *Volume) scanFreeSlots(dirCluster ClusterID, need int) ([]slotLoc, bool, error) {
	sectors, err := v.directorySectors(dirCluster)
	if err != nil {
		return nil, false, err
	}

	entriesPerSector := v.BytesPerSector / DirentSize
	run := make([]slotLoc, 0, need)

	for _, sector := range sectors {
		data, err := v.ReadSector(sector)
		if err != nil {
			return nil, false, err
		}

		for i := uint(0); i < entriesPerSector; i++ {
			offset := i * DirentSize
			switch data[offset] {
			case 0x00, 0xE5:
				run = append(run, slotLoc{sector, offset})
				if len(run) == need {
					return run, true, nil
				}
			default:
				run = run[:0]
			}
		}
	}
	return nil, false, nil
}

// allocateDirectorySlots finds need consecutive free slots in the directory
// rooted at dirCluster, growing the directory by one cluster at a time if
// necessary. The FAT16 root directory has a fixed size and cannot grow; a
// request that doesn't fit there fails outright.
func (v *Volume) allocateDirectorySlots(dirCluster ClusterID, need int) ([]slotLoc, error) {
	if locs, ok, err := v.scanFreeSlots(dirCluster, need); err != nil {
		return nil, err
	} else if ok {
		return locs, nil
	}

	if dirCluster == 0 && v.FATType == 16 {
		return nil, errors.ErrNoSpaceOnDevice.WithMessage(
			"the root directory is full and cannot grow on FAT16")
	}

	startCluster := dirCluster
	if startCluster == 0 {
		startCluster = v.RootClusterNum
	}

	for attempts := 0; attempts < 16; attempts++ {
		added, err := v.ExtendChain(&startCluster, 1)
		if err != nil {
			return nil, err
		}
		if err := v.ZeroCluster(added[len(added)-1]); err != nil {
			return nil, err
		}

		if locs, ok, err := v.scanFreeSlots(dirCluster, need); err != nil {
			return nil, err
		} else if ok {
			return locs, nil
		}
	}
	return nil, errors.ErrNoSpaceOnDevice.WithMessage(
		"could not grow directory enough to fit the new entry")
}

// writeDirectorySlots writes rawEntries, one per slot, into locs in order.
func (v *Volume) writeDirectorySlots(locs []slotLoc, rawEntries [][32]byte) error {
	for i, loc := range locs {
		data, err := v.ReadSector(loc.sector)
		if err != nil {
			return err
		}
		copy(data[loc.offset:loc.offset+DirentSize], rawEntries[i][:])
		if err := v.WriteSector(loc.sector, data); err != nil {
			return err
		}
	}
	return nil
}

// EntryCreator creates new files and directories within a mounted volume.
type EntryCreator struct {
	vol      *Volume
	resolver *PathResolver
}

// NewEntryCreator creates an EntryCreator bound to vol.
func NewEntryCreator(vol *Volume) *EntryCreator {
	return &EntryCreator{vol: vol, resolver: NewPathResolver(vol)}
}

// shortNameCollides reports whether candidate already names an entry in the
// directory rooted at dirCluster.
func (c *EntryCreator) shortNameCollides(dirCluster ClusterID, candidate [11]byte) (bool, error) {
	entries, err := NewDirectoryScanner(c.vol).List(dirCluster)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if entry.ShortName() == candidate {
			return true, nil
		}
	}
	return false, nil
}

// synthesizeUniqueShortName derives an 8.3 short name for logicalName that
// doesn't collide with an existing entry in dirCluster, escalating to the
// "~N" numeric-tail form as needed.
func (c *EntryCreator) synthesizeUniqueShortName(dirCluster ClusterID, logicalName string) (shortNameCandidate, error) {
	cand := SynthesizeShortName(logicalName, 0)
	collides, err := c.shortNameCollides(dirCluster, cand.raw)
	if err != nil {
		return shortNameCandidate{}, err
	}
	if !collides {
		return cand, nil
	}

	for n := 1; n < 1_000_000; n++ {
		cand = SynthesizeShortName(logicalName, n)
		collides, err := c.shortNameCollides(dirCluster, cand.raw)
		if err != nil {
			return shortNameCandidate{}, err
		}
		if !collides {
			return cand, nil
		}
	}
	return shortNameCandidate{}, errors.ErrExists.WithMessage(
		"could not find a unique short name for " + logicalName)
}

// writeDotEntries writes the "." and ".." entries at the start of a freshly
// allocated, zeroed directory cluster. parentCluster is 0 when the new
// directory's parent is the volume root, matching the convention the FAT32
// root itself uses for its own (nonexistent) "..".
func (c *EntryCreator) writeDotEntries(dirCluster, parentCluster ClusterID) error {
	now := time.Now()

	var dotName, dotDotName [11]byte
	for i := range dotName {
		dotName[i] = ' '
		dotDotName[i] = ' '
	}
	dotName[0] = '.'
	dotDotName[0] = '.'
	dotDotName[1] = '.'

	dotRaw := newRawDirentForEntry(dotName, AttrDirectory, 0, dirCluster, 0, now)
	dotDotRaw := newRawDirentForEntry(dotDotName, AttrDirectory, 0, parentCluster, 0, now)

	sector := c.vol.FirstSectorOfCluster(dirCluster)
	data, err := c.vol.ReadSector(sector)
	if err != nil {
		return err
	}

	dotBytes := dotRaw.Bytes()
	dotDotBytes := dotDotRaw.Bytes()
	copy(data[0:DirentSize], dotBytes[:])
	copy(data[DirentSize:2*DirentSize], dotDotBytes[:])
	return c.vol.WriteSector(sector, data)
}

// Create makes a new file or directory named by path, which must resolve to
// a not-yet-existing child of an existing directory. attrs are ORed onto the
// attribute byte in addition to AttrDirectory, which Create sets itself when
// isDir is true.
func (c *EntryCreator) Create(path string, attrs uint8, isDir bool) (Dirent, error) {
	if c.vol.ReadOnly() {
		return Dirent{}, errors.ErrReadOnlyFileSystem
	}

	parentCluster, name, err := c.resolver.ResolveParent(path)
	if err != nil {
		return Dirent{}, err
	}
	if err := ValidateName(name); err != nil {
		return Dirent{}, err
	}

	_, err = NewDirectoryScanner(c.vol).FindByName(parentCluster, name)
	if err == nil {
		return Dirent{}, errors.ErrExists.WithMessage(name + " already exists")
	} else if !errors.ErrNotFound.IsSameError(err) {
		return Dirent{}, err
	}

	cand, err := c.synthesizeUniqueShortName(parentCluster, name)
	if err != nil {
		return Dirent{}, err
	}

	if isDir {
		attrs |= AttrDirectory
	}

	var firstCluster ClusterID
	if isDir {
		firstCluster, err = c.vol.AllocateCluster(0)
		if err != nil {
			return Dirent{}, err
		}
		if err := c.vol.ZeroCluster(firstCluster); err != nil {
			return Dirent{}, err
		}
		if err := c.writeDotEntries(firstCluster, parentCluster); err != nil {
			return Dirent{}, err
		}
	}

	var ntReserved uint8
	if cand.lowerBase {
		ntReserved |= ntResLowerBase
	}
	if cand.lowerExt {
		ntReserved |= ntResLowerExt
	}
	raw := newRawDirentForEntry(cand.raw, attrs, ntReserved, firstCluster, 0, time.Now())

	var rawSlots [][32]byte
	if cand.needsLFN {
		checksum := ShortNameChecksum(cand.raw)
		rawSlots = append(rawSlots, EncodeLFNEntries(name, checksum)...)
	}
	rawSlots = append(rawSlots, raw.Bytes())

	locs, err := c.vol.allocateDirectorySlots(parentCluster, len(rawSlots))
	if err != nil {
		return Dirent{}, err
	}
	if err := c.vol.writeDirectorySlots(locs, rawSlots); err != nil {
		return Dirent{}, err
	}

	longName := ""
	if cand.needsLFN {
		longName = name
	}
	dirent, err := NewDirentFromRaw(c.vol.BytesPerCluster, &raw, longName)
	if err != nil {
		return Dirent{}, err
	}
	shortLoc := locs[len(locs)-1]
	dirent.loc = direntLocation{sector: shortLoc.sector, offset: shortLoc.offset, lfnCount: len(locs) - 1}
	return dirent, nil
}

// CreateFile creates a new, empty regular file.
func (c *EntryCreator) CreateFile(path string, attrs uint8) (Dirent, error) {
	return c.Create(path, attrs, false)
}

// CreateDirectory creates a new, empty directory (containing only "." and
// "..").
func (c *EntryCreator) CreateDirectory(path string, attrs uint8) (Dirent, error) {
	return c.Create(path, attrs, true)
}
