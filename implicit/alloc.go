package implicit

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/tagheap/memutils"
	"github.com/vkngwrapper/tagheap/memutils/tag"
)

// Allocate returns the address of a payload of at least size bytes, aligned to
// tag.DoubleWordSize. A size of 0 returns Nil and no error.
//
// The first free block large enough is used, split when the remainder can hold a block of its
// own. When no block fits, the heap grows by at least the chunk size. If the heap cannot grow,
// Allocate returns Nil and an error marked with memutils.ErrOutOfMemory, and the heap is unchanged.
func (h *Heap) Allocate(size int) (Addr, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if err := h.checkInit(); err != nil {
		return Nil, err
	}

	bp, err := h.allocate(size)
	memutils.DebugValidate((*unlockedHeap)(h))
	return bp, err
}

func (h *Heap) allocate(size int) (Addr, error) {
	asize, err := adjustedSize(size)
	if err != nil || asize == 0 {
		return Nil, err
	}

	bp, err := h.findOrGrow(asize)
	if err != nil {
		return Nil, err
	}

	h.place(bp, asize)
	h.allocCount++
	return bp, nil
}

// adjustedSize converts a requested payload size into a block size: payload plus header and footer,
// rounded up to the double word, and never below tag.MinBlockSize. A size of 0 adjusts to 0.
func adjustedSize(size int) (int, error) {
	switch {
	case size < 0:
		return 0, errors.Wrapf(memutils.ErrInvalidSize, "requested %d bytes", size)
	case size == 0:
		return 0, nil
	case size > MaxAllocationSize:
		return 0, errors.Wrapf(memutils.ErrOutOfMemory, "requested %d bytes, but the maximum is %d", size, MaxAllocationSize)
	case size <= tag.DoubleWordSize:
		return tag.MinBlockSize, nil
	}

	return memutils.AlignUp(size+tag.DoubleWordSize, tag.DoubleWordSize), nil
}

// findOrGrow returns a free block of at least asize bytes, growing the heap if none exists
func (h *Heap) findOrGrow(asize int) (Addr, error) {
	bp := h.findFirstFit(asize)
	if bp != Nil {
		return bp, nil
	}

	extendSize := max(asize, h.chunkSize)
	bp, err := h.extend(extendSize / tag.WordSize)
	if err != nil {
		return Nil, errors.Mark(
			errors.Wrapf(err, "failed to grow the heap by %d bytes for a %d byte block", extendSize, asize),
			memutils.ErrOutOfMemory,
		)
	}

	return bp, nil
}

// findFirstFit walks the block chain from the first real block to the epilogue and returns the
// first free block of at least asize bytes, or Nil
func (h *Heap) findFirstFit(asize int) Addr {
	for bp := h.first; h.blockSize(bp) > 0; bp = h.nextBlock(bp) {
		if !h.isAllocated(bp) && asize <= h.blockSize(bp) {
			return bp
		}
	}

	return Nil
}

// place marks asize bytes of the block at bp allocated. When at least tag.MinBlockSize bytes would
// remain, they are split off as a new free block whose address is returned; otherwise the whole
// block is allocated and Nil is returned.
func (h *Heap) place(bp Addr, asize int) Addr {
	size := h.blockSize(bp)

	if size-asize < tag.MinBlockSize {
		h.setBlock(bp, size, true)
		return Nil
	}

	h.setBlock(bp, asize, true)
	remainder := h.nextBlock(bp)
	h.setBlock(remainder, size-asize, false)
	return remainder
}
