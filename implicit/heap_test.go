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

type block struct {
	Addr      implicit.Addr
	Size      int
	Allocated bool
}

func newHeap(t *testing.T, limit int, options implicit.CreateOptions) *implicit.Heap {
	heap, err := implicit.NewHeap(nil, region.NewSliceGrower(limit), options)
	require.NoError(t, err)
	require.NoError(t, heap.Init())
	return heap
}

func blocks(t *testing.T, heap *implicit.Heap) []block {
	var result []block
	err := heap.VisitAllBlocks(func(bp implicit.Addr, size int, allocated bool) error {
		result = append(result, block{Addr: bp, Size: size, Allocated: allocated})
		return nil
	})
	require.NoError(t, err)
	return result
}

func TestInitLayout(t *testing.T) {
	heap := newHeap(t, 1<<20, implicit.CreateOptions{})

	require.Equal(t, 0, heap.Start())
	require.Equal(t, 16+implicit.DefaultChunkSize, heap.End())
	require.Equal(t, []block{{16, 4096, false}}, blocks(t, heap))
	require.True(t, heap.IsEmpty())
	require.NoError(t, heap.Validate())
}

func TestInitTwice(t *testing.T) {
	heap := newHeap(t, 1<<20, implicit.CreateOptions{})

	err := heap.Init()
	require.True(t, errors.Is(err, memutils.ErrAlreadyInitialized))
	require.NoError(t, heap.Validate())
}

func TestInitFailureIsPermanent(t *testing.T) {
	heap, err := implicit.NewHeap(nil, region.NewSliceGrower(100), implicit.CreateOptions{})
	require.NoError(t, err)

	err = heap.Init()
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.ErrInitFailed))
	require.True(t, errors.Is(err, region.ErrExhausted))

	err = heap.Init()
	require.True(t, errors.Is(err, memutils.ErrInitFailed))

	_, err = heap.Allocate(8)
	require.True(t, errors.Is(err, memutils.ErrNotInitialized))
	require.True(t, errors.Is(heap.Validate(), memutils.ErrNotInitialized))
}

func TestInitRejectsMisalignedBreak(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	grower := mocks.NewMockGrower(ctrl)
	grower.EXPECT().Grow(16).Return(4, nil)

	heap, err := implicit.NewHeap(nil, grower, implicit.CreateOptions{})
	require.NoError(t, err)

	err = heap.Init()
	require.True(t, errors.Is(err, memutils.ErrInitFailed))
}

func TestUseBeforeInit(t *testing.T) {
	heap, err := implicit.NewHeap(nil, region.NewSliceGrower(1<<20), implicit.CreateOptions{})
	require.NoError(t, err)

	_, err = heap.Allocate(8)
	require.True(t, errors.Is(err, memutils.ErrNotInitialized))

	_, err = heap.Reallocate(implicit.Nil, 8)
	require.True(t, errors.Is(err, memutils.ErrNotInitialized))

	require.Panics(t, func() {
		heap.Free(16)
	})
	require.NotPanics(t, func() {
		heap.Free(implicit.Nil)
	})
}

func TestNewHeapOptions(t *testing.T) {
	_, err := implicit.NewHeap(nil, nil, implicit.CreateOptions{})
	require.Error(t, err)

	_, err = implicit.NewHeap(nil, region.NewSliceGrower(1<<20), implicit.CreateOptions{ChunkSize: 24})
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))

	_, err = implicit.NewHeap(nil, region.NewSliceGrower(1<<20), implicit.CreateOptions{ChunkSize: 8})
	require.Error(t, err)

	heap := newHeap(t, 1<<20, implicit.CreateOptions{
		Flags:     implicit.CreateExternallySynchronized,
		ChunkSize: 64,
	})
	require.Equal(t, 64, heap.ChunkSize())
	require.Equal(t, implicit.CreateExternallySynchronized, heap.Flags())
	require.Equal(t, 80, heap.End())

	// Larger than a chunk, so the heap grows by exactly the adjusted size
	bp, err := heap.Allocate(100)
	require.NoError(t, err)
	require.Equal(t, implicit.Addr(16), bp)
	require.Equal(t, 192, heap.End())
	require.Equal(t, []block{{16, 112, true}, {128, 64, false}}, blocks(t, heap))
	require.NoError(t, heap.Validate())
}

func TestCreateFlagsString(t *testing.T) {
	require.Equal(t, "None", implicit.CreateFlags(0).String())
	require.Equal(t, "CreateExternallySynchronized", implicit.CreateExternallySynchronized.String())
	require.Equal(t, "CreateExternallySynchronized|Unknown", (implicit.CreateExternallySynchronized | 2).String())
}
