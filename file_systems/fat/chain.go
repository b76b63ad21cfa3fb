package fat

import (
	"github.com/vireo-systems/fatvol/errors"
)

// WalkChain returns the ordered list of clusters in the chain starting at
// start, stopping at (but not including) the end-of-chain sentinel. Cluster 0
// denotes "empty" and yields no clusters at all, matching the convention used
// for a Dirent with no data yet.
func (v *Volume) WalkChain(start ClusterID) ([]ClusterID, error) {
	if start == 0 {
		return nil, nil
	}
	if !v.IsValidCluster(start) {
		return nil, errors.ErrFileSystemCorrupted.WithMessage(
			"cluster chain starts at an invalid cluster")
	}

	chain := make([]ClusterID, 0, 8)
	current := start
	seen := make(map[ClusterID]bool, 8)

	for {
		if seen[current] {
			return nil, errors.ErrFileSystemCorrupted.WithMessage(
				"cluster chain loops back on itself")
		}
		seen[current] = true
		chain = append(chain, current)

		next, err := v.ReadFATEntry(current)
		if err != nil {
			return nil, err
		}
		if v.IsEndOfChain(next) {
			return chain, nil
		}
		if next == uint32(v.badCluster()) || next == 0 || next == 1 {
			return nil, errors.ErrFileSystemCorrupted.WithMessage(
				"cluster chain references a reserved or bad cluster")
		}
		current = ClusterID(next)
		if !v.IsValidCluster(current) {
			return nil, errors.ErrFileSystemCorrupted.WithMessage(
				"cluster chain references an out-of-range cluster")
		}
	}
}

// AllocateCluster finds one free cluster via a first-fit scan of the volume's
// free-cluster bitmap (no FSInfo next-free hint is consulted), marks it used,
// writes the end-of-chain sentinel into its own FAT entry, and -- if prev is
// non-zero -- links it onto the end of prev's chain. It does not zero the
// cluster's data; callers that need a clean cluster (directories) must call
// ZeroCluster themselves.
func (v *Volume) AllocateCluster(prev ClusterID) (ClusterID, error) {
	if v.ReadOnly() {
		return 0, errors.ErrReadOnlyFileSystem
	}

	index := -1
	for i := 0; i < int(v.TotalClusters); i++ {
		if !v.free.Get(i) {
			index = i
			break
		}
	}
	if index < 0 {
		return 0, errors.ErrNoSpaceOnDevice.WithMessage(
			"no free clusters remain on this volume")
	}

	newCluster := ClusterID(index + 2)
	if err := v.WriteFATEntry(newCluster, v.eocMin()); err != nil {
		return 0, err
	}
	if prev != 0 {
		if err := v.WriteFATEntry(prev, uint32(newCluster)); err != nil {
			return 0, err
		}
	}

	v.free.Set(index, true)
	return newCluster, nil
}

// FreeChain walks the chain starting at start and zeroes out every entry in
// it, returning every cluster to the free pool. Freeing the zero ("empty")
// chain is a no-op.
func (v *Volume) FreeChain(start ClusterID) error {
	if start == 0 {
		return nil
	}
	chain, err := v.WalkChain(start)
	if err != nil {
		return err
	}
	for _, cluster := range chain {
		if err := v.WriteFATEntry(cluster, 0); err != nil {
			return err
		}
		v.free.Set(int(cluster)-2, false)
	}
	return nil
}

// ExtendChain ensures that the chain starting at *start has at least
// additionalClusters more clusters than it currently does, allocating and
// linking new ones as needed. If *start is 0 (the file was empty), the first
// allocated cluster becomes the new chain head and *start is updated in
// place. Returns the full, up-to-date chain.
func (v *Volume) ExtendChain(start *ClusterID, additionalClusters uint) ([]ClusterID, error) {
	chain, err := v.WalkChain(*start)
	if err != nil {
		return nil, err
	}

	tail := ClusterID(0)
	if len(chain) > 0 {
		tail = chain[len(chain)-1]
	}

	for i := uint(0); i < additionalClusters; i++ {
		next, err := v.AllocateCluster(tail)
		if err != nil {
			return nil, err
		}
		if tail == 0 {
			*start = next
		}
		chain = append(chain, next)
		tail = next
	}

	return chain, nil
}
