package memutils_test

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/tagheap/memutils"
)

func TestCheckPow2(t *testing.T) {
	require.NoError(t, memutils.CheckPow2(4096, "chunk"))
	require.NoError(t, memutils.CheckPow2(uint(16), "chunk"))

	err := memutils.CheckPow2(24, "chunk")
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))
	require.Contains(t, err.Error(), "chunk is 24")

	require.Error(t, memutils.CheckPow2(0, "chunk"))
}

func TestAlign(t *testing.T) {
	require.Equal(t, 8, memutils.AlignUp(1, 8))
	require.Equal(t, 8, memutils.AlignUp(8, 8))
	require.Equal(t, 32, memutils.AlignUp(28, 8))
	require.Equal(t, 24, memutils.AlignDown(31, 8))
	require.True(t, memutils.IsAligned(4112, 8))
	require.False(t, memutils.IsAligned(4108, 8))
}

func TestDetailedStatistics(t *testing.T) {
	var stats memutils.DetailedStatistics
	stats.Clear()

	require.Equal(t, math.MaxInt, stats.AllocationSizeMin)
	require.Equal(t, 0.0, stats.Fragmentation())

	stats.AddAllocation(16)
	stats.AddAllocation(32)
	stats.AddFreeBlock(48)
	stats.AddFreeBlock(16)
	stats.HeapBytes = 128

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      4,
			AllocationCount: 2,
			HeapBytes:       128,
			AllocationBytes: 48,
		},
		FreeBlockCount:    2,
		FreeBytes:         64,
		AllocationSizeMin: 16,
		AllocationSizeMax: 32,
		FreeBlockSizeMin:  16,
		FreeBlockSizeMax:  48,
	}, stats)

	require.InDelta(t, 0.25, stats.Fragmentation(), 1e-9)
	require.InDelta(t, 0.375, stats.Utilization(), 1e-9)

	var total memutils.DetailedStatistics
	total.Clear()
	total.AddDetailedStatistics(&stats)
	total.AddDetailedStatistics(&stats)
	require.Equal(t, 8, total.BlockCount)
	require.Equal(t, 256, total.HeapBytes)
	require.Equal(t, 16, total.FreeBlockSizeMin)
}
