package fat

import (
	"strings"

	"github.com/vireo-systems/fatvol/errors"
)

// PathResolver turns a slash-separated path rooted at a volume's mount point
// into the Dirent it names, descending one directory at a time and matching
// each component against both the long and short forms of every entry.
type PathResolver struct {
	vol     *Volume
	scanner *DirectoryScanner
}

// NewPathResolver creates a resolver bound to vol.
func NewPathResolver(vol *Volume) *PathResolver {
	return &PathResolver{vol: vol, scanner: NewDirectoryScanner(vol)}
}

// splitPathComponents splits a slash-separated relative path into its
// non-empty components, so that repeated or trailing slashes ("a//b/", "/a/")
// behave the same as a single-slash path ("a/b").
func splitPathComponents(path string) []string {
	parts := strings.Split(path, "/")
	components := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			components = append(components, p)
		}
	}
	return components
}

// stripMountPrefix removes the volume's mount prefix from path, case-
// insensitively, and returns the remainder. A mount of "" or "/" matches
// every absolute path without consuming anything.
func (v *Volume) stripMountPrefix(path string) (string, error) {
	mount := strings.Trim(v.Mount, "/")
	rel := strings.Trim(path, "/")

	if mount == "" {
		return rel, nil
	}

	lowerRel := strings.ToLower(rel)
	lowerMount := strings.ToLower(mount)
	if lowerRel == lowerMount {
		return "", nil
	}
	if !strings.HasPrefix(lowerRel, lowerMount+"/") {
		return "", errors.ErrNotFound.WithMessage(
			"path does not begin with this volume's mount point")
	}
	return rel[len(mount)+1:], nil
}

// Resolve walks path (which must begin with the volume's mount prefix) down
// to the Dirent it names, along with the cluster of the directory that
// directly contains it (0 meaning the FAT16 fixed root or the FAT32 root
// cluster, per the directorySectors convention). Resolving the mount point
// itself returns the synthetic root Dirent.
func (r *PathResolver) Resolve(path string) (Dirent, ClusterID, error) {
	rel, err := r.vol.stripMountPrefix(path)
	if err != nil {
		return Dirent{}, 0, err
	}

	components := splitPathComponents(rel)
	if len(components) == 0 {
		return r.vol.RootDirent(), 0, nil
	}

	parentCluster := ClusterID(0)
	cursor := ClusterID(0)
	var entry Dirent

	for i, component := range components {
		found, err := r.scanner.FindByName(cursor, component)
		if err != nil {
			return Dirent{}, 0, err
		}

		if i == len(components)-1 {
			parentCluster = cursor
			entry = found
			break
		}

		if !found.IsDir() {
			return Dirent{}, 0, errors.ErrNotADirectory.WithMessage(
				component + " is not a directory")
		}
		cursor = found.FirstCluster
	}

	return entry, parentCluster, nil
}

// ResolveParent splits path into its final component and the directory that
// must contain it, resolving and validating every component before the last
// one without requiring the last component itself to exist. This is the
// primary entry point for entry creation, which needs the parent directory's
// cluster plus the not-yet-existing child's name.
func (r *PathResolver) ResolveParent(path string) (parentCluster ClusterID, name string, err error) {
	rel, err := r.vol.stripMountPrefix(path)
	if err != nil {
		return 0, "", err
	}

	components := splitPathComponents(rel)
	if len(components) == 0 {
		return 0, "", errors.ErrInvalidArgument.WithMessage("cannot use the root directory as a target name")
	}

	cursor := ClusterID(0)
	for _, component := range components[:len(components)-1] {
		found, err := r.scanner.FindByName(cursor, component)
		if err != nil {
			return 0, "", err
		}
		if !found.IsDir() {
			return 0, "", errors.ErrNotADirectory.WithMessage(
				component + " is not a directory")
		}
		cursor = found.FirstCluster
	}

	return cursor, components[len(components)-1], nil
}
