package fat

import (
	"bytes"
	"io"
	"os"
	"path"
	"time"

	"github.com/vireo-systems/fatvol"
	"github.com/vireo-systems/fatvol/errors"
)

// FATDriver is the VFS-facing surface of a mounted FAT16 or FAT32 volume: it
// turns path-based operations into the lower-level table/chain/dirent/scanner
// machinery that actually reads and writes the disk.
type FATDriver struct {
	vol      *Volume
	resolver *PathResolver
	creator  *EntryCreator
}

// NewFATDriver wraps a mounted Volume in a path-based driver.
func NewFATDriver(vol *Volume) *FATDriver {
	return &FATDriver{
		vol:      vol,
		resolver: NewPathResolver(vol),
		creator:  NewEntryCreator(vol),
	}
}

// updateDirentAttributes rewrites loc's attribute byte, leaving everything
// else untouched.
func (v *Volume) updateDirentAttributes(loc direntLocation, attrs uint8) error {
	data, err := v.ReadSector(loc.sector)
	if err != nil {
		return err
	}
	data[loc.offset+0x0B] = attrs
	return v.WriteSector(loc.sector, data)
}

// updateDirentTimes rewrites loc's last-accessed and last-modified fields.
func (v *Volume) updateDirentTimes(loc direntLocation, atime, mtime time.Time) error {
	data, err := v.ReadSector(loc.sector)
	if err != nil {
		return err
	}
	raw, err := NewRawDirentFromBytes(data[loc.offset : loc.offset+DirentSize])
	if err != nil {
		return err
	}

	raw.LastAccessedDate = PackDate(atime.Year(), atime.Month(), atime.Day())
	raw.LastModifiedDate = PackDate(mtime.Year(), mtime.Month(), mtime.Day())
	raw.LastModifiedTime = PackTime(mtime.Hour(), mtime.Minute(), mtime.Second())

	rawBytes := raw.Bytes()
	copy(data[loc.offset:loc.offset+DirentSize], rawBytes[:])
	return v.WriteSector(loc.sector, data)
}

// Readlink is unsupported: FAT has no concept of symbolic links.
func (drv *FATDriver) Readlink(_ string) (string, error) {
	return "", errors.ErrNotSupported
}

// SameFile determines if two FileInfos, both previously returned by this
// driver, reference the same underlying file.
func (drv *FATDriver) SameFile(fi1, fi2 os.FileInfo) bool {
	stat1, ok1 := fi1.Sys().(fatvol.FileStat)
	stat2, ok2 := fi2.Sys().(fatvol.FileStat)
	if !ok1 || !ok2 {
		return false
	}
	return stat1.InodeNumber == stat2.InodeNumber
}

// Open resolves path to a Dirent and returns a handle for reading and
// writing it, creating it first if flags requests O_CREATE and it doesn't
// already exist.
func (drv *FATDriver) Open(filePath string, flags fatvol.IOFlags, mode os.FileMode) (*FileHandle, error) {
	dirent, parentCluster, err := drv.resolver.Resolve(filePath)
	notFound := err != nil && errors.ErrNotFound.IsSameError(err)
	if err != nil && !notFound {
		return nil, err
	}

	if notFound {
		if !flags.Create() {
			return nil, errors.ErrNotFound
		}
		attrs := uint8(0)
		if mode&0o222 == 0 {
			attrs |= AttrReadOnly
		}
		created, cerr := drv.creator.CreateFile(filePath, attrs)
		if cerr != nil {
			return nil, cerr
		}
		parentCluster, _, _ = drv.resolver.ResolveParent(filePath)
		dirent = created
	} else {
		if flags.Create() && flags.Exclusive() {
			return nil, errors.ErrExists
		}
		if dirent.IsDir() && !flags.Directory() {
			return nil, errors.ErrIsADirectory
		}
		if flags.Write() && dirent.IsReadOnly() {
			return nil, errors.ErrReadOnly
		}
	}

	handle := OpenFile(drv.vol, parentCluster, dirent)
	if flags.Truncate() && flags.Write() {
		if err := handle.Truncate(0); err != nil {
			return nil, err
		}
	}
	if flags.Append() {
		if _, err := handle.Seek(0, io.SeekEnd); err != nil {
			return nil, err
		}
	}
	return handle, nil
}

// Create creates a new, empty file at path (truncating it first if it
// already exists) and returns a handle opened for writing.
func (drv *FATDriver) Create(filePath string) (*FileHandle, error) {
	return drv.Open(filePath, fatvol.O_RDWR|fatvol.O_CREATE|fatvol.O_TRUNC, 0o666)
}

// Readdir returns information about all live entries in the directory
// pointed to by path.
func (drv *FATDriver) Readdir(dirPath string) ([]os.FileInfo, error) {
	dirent, _, err := drv.resolver.Resolve(dirPath)
	if err != nil {
		return nil, err
	}
	if !dirent.IsDir() {
		return nil, errors.ErrNotADirectory.WithMessage(dirPath + " is not a directory")
	}

	entries, err := NewDirectoryScanner(drv.vol).List(dirent.FirstCluster)
	if err != nil {
		return nil, err
	}

	fileInfos := make([]os.FileInfo, len(entries))
	for i, entry := range entries {
		fileInfos[i] = entry
	}
	return fileInfos, nil
}

// ReadFile returns the entire contents of the file at the given path.
func (drv *FATDriver) ReadFile(filePath string) ([]byte, error) {
	dirent, parentCluster, err := drv.resolver.Resolve(filePath)
	if err != nil {
		return nil, err
	}
	if dirent.IsDir() {
		return nil, errors.ErrIsADirectory
	}

	handle := OpenFile(drv.vol, parentCluster, dirent)
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, handle); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile creates (or truncates) the file at path and writes data to it in
// full.
func (drv *FATDriver) WriteFile(filePath string, data []byte, mode os.FileMode) error {
	dirent, parentCluster, err := drv.resolver.Resolve(filePath)
	notFound := err != nil && errors.ErrNotFound.IsSameError(err)
	if err != nil && !notFound {
		return err
	}

	if notFound {
		attrs := uint8(0)
		if mode&0o222 == 0 {
			attrs |= AttrReadOnly
		}
		created, cerr := drv.creator.CreateFile(filePath, attrs)
		if cerr != nil {
			return cerr
		}
		parentCluster, _, _ = drv.resolver.ResolveParent(filePath)
		dirent = created
	} else if dirent.IsDir() {
		return errors.ErrIsADirectory
	}

	handle := OpenFile(drv.vol, parentCluster, dirent)
	if err := handle.Truncate(0); err != nil {
		return err
	}
	_, err = handle.Write(data)
	return err
}

// Stat returns information about the file or directory at the given path.
func (drv *FATDriver) Stat(filePath string) (fatvol.FileStat, error) {
	dirent, _, err := drv.resolver.Resolve(filePath)
	if err != nil {
		return fatvol.FileStat{}, err
	}
	return dirent.stat, nil
}

// Lstat behaves exactly like Stat; FAT has no concept of symbolic links so
// there's never a link to not follow.
func (drv *FATDriver) Lstat(filePath string) (fatvol.FileStat, error) {
	return drv.Stat(filePath)
}

// Chmod changes the file mode of the entry at path. FAT's attribute byte
// only has a single read-only bit to work with, so every mode bit is folded
// into that: the entry is marked read-only iff no write-permission bit is
// set in mode.
func (drv *FATDriver) Chmod(filePath string, mode os.FileMode) error {
	if drv.vol.ReadOnly() {
		return errors.ErrReadOnlyFileSystem
	}
	dirent, _, err := drv.resolver.Resolve(filePath)
	if err != nil {
		return err
	}

	attrs := uint8(dirent.AttributeFlags)
	if mode&0o222 == 0 {
		attrs |= AttrReadOnly
	} else {
		attrs &^= AttrReadOnly
	}

	return drv.vol.updateDirentAttributes(dirent.loc, attrs)
}

// Chown is unsupported: FAT has no concept of file ownership.
func (drv *FATDriver) Chown(_ string, _, _ int) error {
	return errors.ErrNotSupported
}

// Chtimes changes the last-accessed and last-modified timestamps of the
// entry at path.
func (drv *FATDriver) Chtimes(filePath string, atime, mtime time.Time) error {
	if drv.vol.ReadOnly() {
		return errors.ErrReadOnlyFileSystem
	}
	dirent, _, err := drv.resolver.Resolve(filePath)
	if err != nil {
		return err
	}
	return drv.vol.updateDirentTimes(dirent.loc, atime, mtime)
}

// Lchown is unsupported for the same reason Chown is.
func (drv *FATDriver) Lchown(_ string, _, _ int) error {
	return errors.ErrNotSupported
}

// Link is unsupported: FAT has no concept of hard links.
func (drv *FATDriver) Link(_, _ string) error {
	return errors.ErrNotSupported
}

// Mkdir creates a new, empty directory at path. The parent directory must
// already exist.
func (drv *FATDriver) Mkdir(dirPath string, mode os.FileMode) error {
	attrs := uint8(0)
	if mode&0o222 == 0 {
		attrs |= AttrReadOnly
	}
	_, err := drv.creator.CreateDirectory(dirPath, attrs)
	return err
}

// MkdirAll creates path and every missing parent directory along the way,
// the same way os.MkdirAll does. It's a no-op, not an error, for any prefix
// that already exists and is a directory.
func (drv *FATDriver) MkdirAll(dirPath string, mode os.FileMode) error {
	rel, err := drv.vol.stripMountPrefix(dirPath)
	if err != nil {
		return err
	}

	components := splitPathComponents(rel)
	built := drv.vol.Mount
	for _, component := range components {
		built = path.Join(built, component)

		dirent, _, err := drv.resolver.Resolve(built)
		if err == nil {
			if !dirent.IsDir() {
				return errors.ErrNotADirectory.WithMessage(built + " is not a directory")
			}
			continue
		}
		if !errors.ErrNotFound.IsSameError(err) {
			return err
		}
		if mkErr := drv.Mkdir(built, mode); mkErr != nil {
			return mkErr
		}
	}
	return nil
}

// Remove deletes the file at the given path. Use RemoveAll to delete a
// directory.
func (drv *FATDriver) Remove(filePath string) error {
	dirent, parentCluster, err := drv.resolver.Resolve(filePath)
	if err != nil {
		return err
	}
	if dirent.IsDir() {
		return errors.ErrIsADirectory.WithMessage(filePath + " is a directory; use RemoveAll")
	}
	return drv.vol.Unlink(parentCluster, dirent)
}

// RemoveAll deletes the file or directory at path, recursing into
// subdirectories first. Removing a path that doesn't exist is not an error,
// matching os.RemoveAll.
func (drv *FATDriver) RemoveAll(targetPath string) error {
	dirent, parentCluster, err := drv.resolver.Resolve(targetPath)
	if err != nil {
		if errors.ErrNotFound.IsSameError(err) {
			return nil
		}
		return err
	}

	if !dirent.IsDir() {
		return drv.vol.Unlink(parentCluster, dirent)
	}

	children, err := NewDirectoryScanner(drv.vol).List(dirent.FirstCluster)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := drv.RemoveAll(path.Join(targetPath, child.Name())); err != nil {
			return err
		}
	}

	return drv.vol.Rmdir(parentCluster, dirent)
}

// Symlink is unsupported: FAT has no concept of symbolic links.
func (drv *FATDriver) Symlink(_, _ string) error {
	return errors.ErrNotSupported
}

// Truncate changes the size of the file at path, as with os.Truncate.
func (drv *FATDriver) Truncate(filePath string, size int64) error {
	dirent, parentCluster, err := drv.resolver.Resolve(filePath)
	if err != nil {
		return err
	}
	if dirent.IsDir() {
		return errors.ErrIsADirectory
	}

	handle := OpenFile(drv.vol, parentCluster, dirent)
	return handle.Truncate(size)
}
