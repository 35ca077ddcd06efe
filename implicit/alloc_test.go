package implicit_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/tagheap/implicit"
	"github.com/vkngwrapper/tagheap/memutils"
	"github.com/vkngwrapper/tagheap/region"
	"github.com/vkngwrapper/tagheap/region/mocks"
	"go.uber.org/mock/gomock"
)

func TestAllocateSplitsFirstFit(t *testing.T) {
	heap := newHeap(t, 1<<20, implicit.CreateOptions{})

	a, err := heap.Allocate(1)
	require.NoError(t, err)
	require.Equal(t, implicit.Addr(16), a)

	b, err := heap.Allocate(20)
	require.NoError(t, err)
	require.Equal(t, implicit.Addr(32), b)

	c, err := heap.Allocate(100)
	require.NoError(t, err)
	require.Equal(t, implicit.Addr(64), c)

	require.Equal(t, []block{
		{16, 16, true},
		{32, 32, true},
		{64, 112, true},
		{176, 3936, false},
	}, blocks(t, heap))
	require.Equal(t, 3, heap.AllocationCount())

	heap.Free(a)
	heap.Free(b)
	require.Equal(t, []block{
		{16, 48, false},
		{64, 112, true},
		{176, 3936, false},
	}, blocks(t, heap))

	// The lowest free block that fits is reused and split
	d, err := heap.Allocate(8)
	require.NoError(t, err)
	require.Equal(t, implicit.Addr(16), d)
	require.Equal(t, []block{
		{16, 16, true},
		{32, 32, false},
		{64, 112, true},
		{176, 3936, false},
	}, blocks(t, heap))
	require.NoError(t, heap.Validate())
}

func TestAllocateAdjustedSizes(t *testing.T) {
	testCases := []struct {
		size   int
		usable int
	}{
		{1, 8},
		{8, 8},
		{9, 16},
		{16, 16},
		{17, 24},
		{100, 104},
		{4088, 4088},
	}

	for _, testCase := range testCases {
		heap := newHeap(t, 1<<20, implicit.CreateOptions{})

		bp, err := heap.Allocate(testCase.size)
		require.NoError(t, err)
		require.Equal(t, testCase.usable, heap.UsableSize(bp), "size %d", testCase.size)
		require.Len(t, heap.Payload(bp), testCase.usable)
		require.NoError(t, heap.Validate())
	}
}

func TestAllocateNoSplitForSmallRemainder(t *testing.T) {
	heap := newHeap(t, 1<<20, implicit.CreateOptions{ChunkSize: 32})

	// 32-byte block, 24-byte request: the 8 leftover bytes stay in the allocation
	bp, err := heap.Allocate(16)
	require.NoError(t, err)
	require.Equal(t, []block{{16, 32, true}}, blocks(t, heap))
	require.Equal(t, 24, heap.UsableSize(bp))
	require.NoError(t, heap.Validate())
}

func TestAllocateZeroAndNegative(t *testing.T) {
	heap := newHeap(t, 1<<20, implicit.CreateOptions{})

	bp, err := heap.Allocate(0)
	require.NoError(t, err)
	require.Equal(t, implicit.Nil, bp)

	bp, err = heap.Allocate(-1)
	require.True(t, errors.Is(err, memutils.ErrInvalidSize))
	require.Equal(t, implicit.Nil, bp)

	bp, err = heap.Allocate(implicit.MaxAllocationSize + 1)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
	require.Equal(t, implicit.Nil, bp)

	require.True(t, heap.IsEmpty())
	require.Equal(t, []block{{16, 4096, false}}, blocks(t, heap))
}

func TestAllocateAlignment(t *testing.T) {
	heap := newHeap(t, 1<<20, implicit.CreateOptions{})

	for size := 1; size < 300; size += 7 {
		bp, err := heap.Allocate(size)
		require.NoError(t, err)
		require.Zero(t, int(bp)%8)
		require.GreaterOrEqual(t, heap.UsableSize(bp), size)
	}
	require.NoError(t, heap.Validate())
}

func TestAllocateGrowsAndCoalescesWithTail(t *testing.T) {
	heap := newHeap(t, 1<<20, implicit.CreateOptions{})

	bp, err := heap.Allocate(5000)
	require.NoError(t, err)
	require.Equal(t, implicit.Addr(16), bp)

	// The new 5008 bytes merged with the initial free block before the split
	require.Equal(t, 4112+5008, heap.End())
	require.Equal(t, []block{
		{16, 5008, true},
		{5024, 4096, false},
	}, blocks(t, heap))
	require.NoError(t, heap.Validate())
}

func TestAllocateOutOfMemoryLeavesHeapUnchanged(t *testing.T) {
	heap := newHeap(t, 4112, implicit.CreateOptions{})

	a, err := heap.Allocate(64)
	require.NoError(t, err)
	before := blocks(t, heap)

	bp, err := heap.Allocate(4096)
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
	require.True(t, errors.Is(err, region.ErrExhausted))
	require.Equal(t, implicit.Nil, bp)

	require.Equal(t, before, blocks(t, heap))
	require.Equal(t, 4112, heap.End())
	require.Equal(t, 1, heap.AllocationCount())
	require.NoError(t, heap.Validate())

	// Requests that fit the existing free space still succeed
	b, err := heap.Allocate(1000)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.NoError(t, heap.Validate())
}

func TestAllocateGrowerFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backing := region.NewSliceGrower(1 << 20)
	grower := mocks.NewMockGrower(ctrl)
	grower.EXPECT().Bytes().DoAndReturn(backing.Bytes).AnyTimes()
	gomock.InOrder(
		grower.EXPECT().Grow(16).DoAndReturn(backing.Grow),
		grower.EXPECT().Grow(256).DoAndReturn(backing.Grow),
		grower.EXPECT().Grow(256).Return(0, errors.New("quota exceeded")),
	)

	heap, err := implicit.NewHeap(nil, grower, implicit.CreateOptions{ChunkSize: 256})
	require.NoError(t, err)
	require.NoError(t, heap.Init())

	a, err := heap.Allocate(200)
	require.NoError(t, err)
	require.Equal(t, implicit.Addr(16), a)

	_, err = heap.Allocate(200)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
	require.Equal(t, 16+256, heap.End())
	require.Equal(t, 1, heap.AllocationCount())
	require.NoError(t, heap.Validate())
}
