package fat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalkChainEmptyStart(t *testing.T) {
	vol := newTestVolume(t, 16, minSectorsForFATType(16))
	chain, err := vol.WalkChain(0)
	require.NoError(t, err)
	assert.Nil(t, chain)
}

func TestWalkChainSingleCluster(t *testing.T) {
	vol := newTestVolume(t, 16, minSectorsForFATType(16))

	cluster, err := vol.AllocateCluster(0)
	require.NoError(t, err)

	chain, err := vol.WalkChain(cluster)
	require.NoError(t, err)
	assert.Equal(t, []ClusterID{cluster}, chain)
}

func TestWalkChainDetectsLoop(t *testing.T) {
	vol := newTestVolume(t, 16, minSectorsForFATType(16))

	a, err := vol.AllocateCluster(0)
	require.NoError(t, err)
	b, err := vol.AllocateCluster(a)
	require.NoError(t, err)
	// Corrupt the chain so b points back at a instead of ending.
	require.NoError(t, vol.WriteFATEntry(b, uint32(a)))

	_, err = vol.WalkChain(a)
	assert.Error(t, err)
}

func TestAllocateClusterChainsTogether(t *testing.T) {
	vol := newTestVolume(t, 16, minSectorsForFATType(16))

	first, err := vol.AllocateCluster(0)
	require.NoError(t, err)
	second, err := vol.AllocateCluster(first)
	require.NoError(t, err)

	chain, err := vol.WalkChain(first)
	require.NoError(t, err)
	assert.Equal(t, []ClusterID{first, second}, chain)
}

func TestAllocateClusterFailsWhenFull(t *testing.T) {
	vol := newTestVolume(t, 16, minSectorsForFATType(16))

	var err error
	for i := uint(0); i <= vol.TotalClusters; i++ {
		_, err = vol.AllocateCluster(0)
		if err != nil {
			break
		}
	}
	assert.Error(t, err)
}

func TestFreeChainReturnsClustersToPool(t *testing.T) {
	vol := newTestVolume(t, 16, minSectorsForFATType(16))

	first, err := vol.AllocateCluster(0)
	require.NoError(t, err)
	second, err := vol.AllocateCluster(first)
	require.NoError(t, err)

	require.NoError(t, vol.FreeChain(first))

	entry, err := vol.ReadFATEntry(first)
	require.NoError(t, err)
	assert.Zero(t, entry)
	entry, err = vol.ReadFATEntry(second)
	require.NoError(t, err)
	assert.Zero(t, entry)

	// The freed clusters must be reusable.
	reused, err := vol.AllocateCluster(0)
	require.NoError(t, err)
	assert.Contains(t, []ClusterID{first, second}, reused)
}

func TestFreeChainOfEmptyChainIsNoop(t *testing.T) {
	vol := newTestVolume(t, 16, minSectorsForFATType(16))
	assert.NoError(t, vol.FreeChain(0))
}

func TestExtendChainFromEmpty(t *testing.T) {
	vol := newTestVolume(t, 16, minSectorsForFATType(16))

	var start ClusterID
	chain, err := vol.ExtendChain(&start, 3)
	require.NoError(t, err)
	assert.Len(t, chain, 3)
	assert.Equal(t, chain[0], start)

	walked, err := vol.WalkChain(start)
	require.NoError(t, err)
	assert.Equal(t, chain, walked)
}

func TestExtendChainAppendsToExisting(t *testing.T) {
	vol := newTestVolume(t, 16, minSectorsForFATType(16))

	start, err := vol.AllocateCluster(0)
	require.NoError(t, err)
	startCopy := start

	chain, err := vol.ExtendChain(&startCopy, 2)
	require.NoError(t, err)
	assert.Equal(t, start, startCopy, "first cluster should be unchanged when chain was nonempty")
	assert.Len(t, chain, 3)
}
