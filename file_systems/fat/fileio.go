package fat

import (
	"io"
	"time"

	"github.com/vireo-systems/fatvol/errors"
)

// FileHandle is an open regular file on a mounted volume, anchored at the
// Dirent's on-disk location so writes can update its size, first cluster and
// timestamps in place.
type FileHandle struct {
	vol        *Volume
	parentDir  ClusterID
	dirent     Dirent
	pos        int64
	chain      []ClusterID
	chainValid bool
}

// OpenFile creates a handle for reading and writing dirent's data, which
// must live in the directory rooted at parentDir.
func OpenFile(vol *Volume, parentDir ClusterID, dirent Dirent) *FileHandle {
	return &FileHandle{vol: vol, parentDir: parentDir, dirent: dirent}
}

// Dirent returns the handle's current view of its directory entry.
func (h *FileHandle) Dirent() Dirent {
	return h.dirent
}

func (h *FileHandle) ensureChain() ([]ClusterID, error) {
	if !h.chainValid {
		chain, err := h.vol.WalkChain(h.dirent.FirstCluster)
		if err != nil {
			return nil, err
		}
		h.chain = chain
		h.chainValid = true
	}
	return h.chain, nil
}

// Tell returns the handle's current offset.
func (h *FileHandle) Tell() int64 {
	return h.pos
}

// Total returns the file's current size in bytes.
func (h *FileHandle) Total() int64 {
	return h.dirent.size
}

// Seek repositions the handle per io.Seeker semantics. Seeking past the end
// of the file is allowed (a subsequent Write there leaves a hole filled with
// whatever the underlying clusters already contained, same as most local
// file systems); seeking to a negative offset is an error.
func (h *FileHandle) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = h.pos + offset
	case io.SeekEnd:
		newPos = h.dirent.size + offset
	default:
		return 0, errors.ErrInvalidArgument.WithMessage("invalid whence value")
	}
	if newPos < 0 {
		return 0, errors.ErrInvalidArgument.WithMessage("resulting offset would be negative")
	}
	h.pos = newPos
	return h.pos, nil
}

// Read reads up to len(buf) bytes starting at the handle's current position,
// advancing it by the number of bytes read. It returns io.EOF once the
// position reaches the file's recorded size.
func (h *FileHandle) Read(buf []byte) (int, error) {
	if h.dirent.IsDir() {
		return 0, errors.ErrIsADirectory
	}
	if h.pos >= h.dirent.size {
		return 0, io.EOF
	}

	chain, err := h.ensureChain()
	if err != nil {
		return 0, err
	}

	remaining := h.dirent.size - h.pos
	toRead := int64(len(buf))
	if toRead > remaining {
		toRead = remaining
	}

	bytesPerCluster := int64(h.vol.BytesPerCluster)
	var read int64
	for read < toRead {
		clusterIndex := int((h.pos + read) / bytesPerCluster)
		if clusterIndex >= len(chain) {
			break
		}
		clusterOffset := uint((h.pos + read) % bytesPerCluster)

		data, err := h.vol.ReadCluster(chain[clusterIndex])
		if err != nil {
			return int(read), err
		}

		n := int64(copy(buf[read:toRead], data[clusterOffset:]))
		if n == 0 {
			break
		}
		read += n
	}

	h.pos += read
	return int(read), nil
}

// Write writes buf at the handle's current position, extending the file's
// cluster chain and recorded size as needed, and advances the position by
// len(buf). Every write updates the entry's last-modified timestamp on disk.
func (h *FileHandle) Write(buf []byte) (int, error) {
	if h.vol.ReadOnly() {
		return 0, errors.ErrReadOnlyFileSystem
	}
	if h.dirent.IsDir() {
		return 0, errors.ErrIsADirectory
	}
	if h.dirent.IsReadOnly() {
		return 0, errors.ErrReadOnly
	}
	if len(buf) == 0 {
		return 0, nil
	}

	chain, err := h.ensureChain()
	if err != nil {
		return 0, err
	}

	bytesPerCluster := int64(h.vol.BytesPerCluster)
	neededEnd := h.pos + int64(len(buf))
	neededClusters := int((neededEnd + bytesPerCluster - 1) / bytesPerCluster)
	if neededClusters > len(chain) {
		start := h.dirent.FirstCluster
		chain, err = h.vol.ExtendChain(&start, uint(neededClusters-len(chain)))
		if err != nil {
			return 0, err
		}
		h.dirent.FirstCluster = start
		h.chain = chain
	}

	var written int64
	for written < int64(len(buf)) {
		clusterIndex := int((h.pos + written) / bytesPerCluster)
		clusterOffset := uint((h.pos + written) % bytesPerCluster)

		data, err := h.vol.ReadCluster(chain[clusterIndex])
		if err != nil {
			return int(written), err
		}
		n := int64(copy(data[clusterOffset:], buf[written:]))
		if err := h.vol.WriteCluster(chain[clusterIndex], data); err != nil {
			return int(written), err
		}
		written += n
	}

	h.pos += written
	if h.pos > h.dirent.size {
		h.dirent.size = h.pos
	}

	now := time.Now()
	h.dirent.stat.LastModified = now
	h.dirent.stat.LastAccessed = now
	if err := h.vol.updateDirentMetadata(h.dirent.loc, h.dirent.FirstCluster, uint32(h.dirent.size), now); err != nil {
		return int(written), err
	}

	return int(written), nil
}

// Truncate changes the file's recorded size to size, freeing any clusters
// past the new end (shrinking) or simply updating the size field and leaving
// future reads in the newly exposed range to return whatever stale data the
// clusters already held (growing) -- the same "sparse" behavior Write's
// seek-past-end case has.
func (h *FileHandle) Truncate(size int64) error {
	if h.vol.ReadOnly() {
		return errors.ErrReadOnlyFileSystem
	}
	if h.dirent.IsReadOnly() {
		return errors.ErrReadOnly
	}
	if size < 0 {
		return errors.ErrInvalidArgument
	}

	bytesPerCluster := int64(h.vol.BytesPerCluster)
	chain, err := h.ensureChain()
	if err != nil {
		return err
	}

	neededClusters := 0
	if size > 0 {
		neededClusters = int((size + bytesPerCluster - 1) / bytesPerCluster)
	}

	if neededClusters < len(chain) {
		if neededClusters == 0 {
			if err := h.vol.FreeChain(h.dirent.FirstCluster); err != nil {
				return err
			}
			h.dirent.FirstCluster = 0
			h.chain = nil
		} else {
			tailStart := chain[neededClusters]
			if err := h.vol.FreeChain(tailStart); err != nil {
				return err
			}
			if err := h.vol.WriteFATEntry(chain[neededClusters-1], h.vol.eocMin()); err != nil {
				return err
			}
			h.chain = chain[:neededClusters]
		}
	} else if neededClusters > len(chain) {
		start := h.dirent.FirstCluster
		newChain, err := h.vol.ExtendChain(&start, uint(neededClusters-len(chain)))
		if err != nil {
			return err
		}
		h.dirent.FirstCluster = start
		h.chain = newChain
	}

	h.dirent.size = size
	if h.pos > size {
		h.pos = size
	}

	now := time.Now()
	h.dirent.stat.LastModified = now
	h.dirent.stat.LastAccessed = now
	return h.vol.updateDirentMetadata(h.dirent.loc, h.dirent.FirstCluster, uint32(size), now)
}

// updateDirentMetadata rewrites the first-cluster, size, last-modified and
// last-accessed fields of the short entry at loc, leaving every other field
// (name, attributes, created timestamp) untouched.
func (v *Volume) updateDirentMetadata(loc direntLocation, firstCluster ClusterID, size uint32, modified time.Time) error {
	data, err := v.ReadSector(loc.sector)
	if err != nil {
		return err
	}

	raw, err := NewRawDirentFromBytes(data[loc.offset : loc.offset+DirentSize])
	if err != nil {
		return err
	}

	raw.FirstClusterHigh = uint16(uint32(firstCluster) >> 16)
	raw.FirstClusterLow = uint16(uint32(firstCluster) & 0xFFFF)
	raw.FileSize = size
	raw.LastModifiedDate = PackDate(modified.Year(), modified.Month(), modified.Day())
	raw.LastModifiedTime = PackTime(modified.Hour(), modified.Minute(), modified.Second())
	raw.LastAccessedDate = PackDate(modified.Year(), modified.Month(), modified.Day())

	rawBytes := raw.Bytes()
	copy(data[loc.offset:loc.offset+DirentSize], rawBytes[:])
	return v.WriteSector(loc.sector, data)
}

// deleteDirectoryRun marks loc's short entry, and the lfnCount LFN slots
// immediately preceding it, as deleted (0xE5) within the directory rooted at
// dirCluster.
func (v *Volume) deleteDirectoryRun(dirCluster ClusterID, loc direntLocation) error {
	sectors, err := v.directorySectors(dirCluster)
	if err != nil {
		return err
	}
	entriesPerSector := int(v.BytesPerSector / DirentSize)

	secIndex := -1
	for i, s := range sectors {
		if s == loc.sector {
			secIndex = i
			break
		}
	}
	if secIndex < 0 {
		return errors.ErrNotFound.WithMessage("directory entry's sector is not part of its directory")
	}
	slotIndex := secIndex*entriesPerSector + int(loc.offset/DirentSize)

	for i := 0; i <= loc.lfnCount; i++ {
		idx := slotIndex - i
		if idx < 0 {
			break
		}
		sector := sectors[idx/entriesPerSector]
		offset := uint(idx%entriesPerSector) * DirentSize
		if err := v.markSlotDeleted(sector, offset); err != nil {
			return err
		}
	}
	return nil
}

func (v *Volume) markSlotDeleted(sector SectorID, offset uint) error {
	data, err := v.ReadSector(sector)
	if err != nil {
		return err
	}
	data[offset] = 0xE5
	return v.WriteSector(sector, data)
}

// Unlink removes a regular file's directory entry and frees its cluster
// chain. dirent must not be a directory; use Rmdir for those.
func (v *Volume) Unlink(parentCluster ClusterID, dirent Dirent) error {
	if v.ReadOnly() {
		return errors.ErrReadOnlyFileSystem
	}
	if dirent.IsDir() {
		return errors.ErrIsADirectory
	}
	if dirent.IsReadOnly() {
		return errors.ErrReadOnly
	}
	if err := v.FreeChain(dirent.FirstCluster); err != nil {
		return err
	}
	return v.deleteDirectoryRun(parentCluster, dirent.loc)
}

// Rmdir removes an empty directory's entry and frees its cluster chain.
// Removing the volume root is always rejected.
func (v *Volume) Rmdir(parentCluster ClusterID, dirent Dirent) error {
	if v.ReadOnly() {
		return errors.ErrReadOnlyFileSystem
	}
	if !dirent.IsDir() {
		return errors.ErrNotADirectory
	}
	if dirent.FirstCluster == 0 || dirent.FirstCluster == v.RootClusterNum {
		return errors.ErrPermissionDenied.WithMessage("cannot remove the root directory")
	}

	entries, err := NewDirectoryScanner(v).List(dirent.FirstCluster)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return errors.ErrDirectoryNotEmpty
	}

	if err := v.FreeChain(dirent.FirstCluster); err != nil {
		return err
	}
	return v.deleteDirectoryRun(parentCluster, dirent.loc)
}
