package fat

import (
	"strings"

	"github.com/vireo-systems/fatvol/errors"
)

// directorySectors returns the ordered list of sectors backing the directory
// rooted at dirCluster. Pass 0 to mean the volume's root directory: the
// fixed-location root region on FAT16, or the chain starting at RootClusterNum
// on FAT32. Every other directory is an ordinary cluster chain and dirCluster
// must be its first cluster.
func (v *Volume) directorySectors(dirCluster ClusterID) ([]SectorID, error) {
	if dirCluster == 0 {
		if v.FATType == 32 {
			dirCluster = v.RootClusterNum
		} else {
			sectors := make([]SectorID, v.RootDirSectorsNum)
			for i := range sectors {
				sectors[i] = v.RootDirSecLoc + SectorID(i)
			}
			return sectors, nil
		}
	}

	chain, err := v.WalkChain(dirCluster)
	if err != nil {
		return nil, err
	}

	sectors := make([]SectorID, 0, len(chain)*int(v.SectorsPerCluster))
	for _, cluster := range chain {
		first := v.FirstSectorOfCluster(cluster)
		for s := uint(0); s < v.SectorsPerCluster; s++ {
			sectors = append(sectors, first+SectorID(s))
		}
	}
	return sectors, nil
}

// lfnRunState accumulates the LFN entries physically preceding a short entry
// during one forward pass over a directory. It belongs to a single
// DirectoryScanner call, not to the package, so two concurrent scans (or two
// calls in sequence) never share state -- the unbounded module-level scratch
// buffer this replaces was a known trouble spot for directories scanned
// across more than one cluster.
type lfnRunState struct {
	active       bool
	checksum     uint8
	nextExpected int
	chunks       [][lfnCharsPerEntry]uint16
}

func (r *lfnRunState) reset() {
	r.active = false
	r.checksum = 0
	r.nextExpected = 0
	r.chunks = nil
}

// accumulate folds one LFN slot into the run. A slot that doesn't fit where
// expected (wrong sequence number, mismatched checksum) discards whatever was
// in progress rather than erroring out the whole scan -- a stray or corrupt
// LFN entry degrades that one file to its short name instead of failing the
// directory listing.
func (r *lfnRunState) accumulate(slot []byte) {
	seq := slot[0x00]
	isLast := seq&lfnSeqLast != 0
	num := int(seq &^ lfnSeqLast)
	checksum := slot[0x0D]
	chars := decodeLFNSlotChars(slot)

	if num == 0 || num > 20 {
		r.reset()
		return
	}

	if isLast {
		r.active = true
		r.checksum = checksum
		r.nextExpected = num
		r.chunks = nil
	}

	if !r.active || num != r.nextExpected || checksum != r.checksum {
		r.reset()
		return
	}

	r.chunks = append(r.chunks, chars)
	r.nextExpected--
}

// resolve returns the reconstructed long name for shortName, plus the number
// of LFN slots consumed, or ("", 0) if no complete, checksum-matching run
// precedes it.
func (r *lfnRunState) resolve(shortName [11]byte) (string, int) {
	if !r.active || r.nextExpected != 0 || len(r.chunks) == 0 {
		return "", 0
	}
	if ShortNameChecksum(shortName) != r.checksum {
		return "", 0
	}

	var sb strings.Builder
outer:
	for i := len(r.chunks) - 1; i >= 0; i-- {
		for _, u := range r.chunks[i] {
			if u == 0x0000 {
				break outer
			}
			if u == 0xFFFF {
				continue
			}
			sb.WriteRune(rune(u))
		}
	}
	return sb.String(), len(r.chunks)
}

// DirectoryScanner iterates the live entries of one directory on a mounted
// volume, reassembling LFN runs into long names as it goes.
type DirectoryScanner struct {
	vol *Volume
}

// NewDirectoryScanner creates a scanner bound to vol. A scanner holds no
// state between calls to List; a fresh lfnRunState is created for each scan.
func NewDirectoryScanner(vol *Volume) *DirectoryScanner {
	return &DirectoryScanner{vol: vol}
}

// List returns every live (non-deleted, non-"."/"..") entry of the directory
// rooted at dirCluster, in on-disk order. Scanning stops at the first free
// (0x00) slot, per the FAT convention that a zero byte marks the true end of
// the directory -- entries beyond it are stale leftovers from a previous,
// larger version of the directory, not a gap to scan past.
func (s *DirectoryScanner) List(dirCluster ClusterID) ([]Dirent, error) {
	sectors, err := s.vol.directorySectors(dirCluster)
	if err != nil {
		return nil, err
	}

	entriesPerSector := s.vol.BytesPerSector / DirentSize
	entries := make([]Dirent, 0, len(sectors)*int(entriesPerSector))
	var run lfnRunState

	for _, sector := range sectors {
		data, err := s.vol.ReadSector(sector)
		if err != nil {
			return nil, err
		}

		for i := uint(0); i < entriesPerSector; i++ {
			offset := i * DirentSize
			slot := data[offset : offset+DirentSize]

			switch slot[0x00] {
			case 0x00:
				return entries, nil
			case 0xE5:
				run.reset()
				continue
			}

			if slot[0x0B] == AttrLongName {
				run.accumulate(slot)
				continue
			}

			raw, err := NewRawDirentFromBytes(slot)
			if err != nil {
				return nil, err
			}

			longName, lfnCount := run.resolve(raw.ShortNameBytes())
			run.reset()

			trimmedName := strings.TrimRight(string(raw.Name[:]), " ")
			if trimmedName == "." || trimmedName == ".." {
				continue
			}
			if raw.AttributeFlags&AttrVolumeLabel != 0 && raw.AttributeFlags&AttrDirectory == 0 {
				continue
			}

			dirent, err := NewDirentFromRaw(s.vol.BytesPerCluster, &raw, longName)
			if err != nil {
				if errors.ErrNotFound.IsSameError(err) {
					return entries, nil
				}
				return nil, err
			}
			dirent.loc = direntLocation{sector: sector, offset: offset, lfnCount: lfnCount}

			entries = append(entries, dirent)
		}
	}

	return entries, nil
}

// FindByName looks up name (case-insensitively, matching either the long or
// the short form) within the directory rooted at dirCluster.
func (s *DirectoryScanner) FindByName(dirCluster ClusterID, name string) (Dirent, error) {
	entries, err := s.List(dirCluster)
	if err != nil {
		return Dirent{}, err
	}

	lowered := strings.ToLower(name)
	for _, entry := range entries {
		if strings.ToLower(entry.Name()) == lowered {
			return entry, nil
		}
		short := entry.ShortName()
		shortName := strings.TrimRight(string(short[:8]), " ")
		shortExt := strings.TrimRight(string(short[8:]), " ")
		full := shortName
		if shortExt != "" {
			full += "." + shortExt
		}
		if strings.ToLower(full) == lowered {
			return entry, nil
		}
	}

	return Dirent{}, errors.ErrNotFound
}
