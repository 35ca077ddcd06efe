package implicit

import (
	"github.com/vkngwrapper/tagheap/memutils"
	"github.com/vkngwrapper/tagheap/memutils/tag"
)

// Reallocate resizes the payload at bp to at least size bytes and returns its address, which may
// differ from bp. Reallocate(Nil, size) is Allocate(size); Reallocate(bp, 0) is Free(bp) and
// returns Nil.
//
// Shrinking splits in place. Growing first tries to absorb a free block directly after bp, and
// only then moves the payload to a new block, copying the smaller of the old usable size and size.
// If a new block cannot be obtained, Reallocate returns Nil and an error marked with
// memutils.ErrOutOfMemory, and the block at bp is left untouched.
func (h *Heap) Reallocate(bp Addr, size int) (Addr, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if err := h.checkInit(); err != nil {
		return Nil, err
	}

	newBp, err := h.reallocate(bp, size)
	memutils.DebugValidate((*unlockedHeap)(h))
	return newBp, err
}

func (h *Heap) reallocate(bp Addr, size int) (Addr, error) {
	if bp == Nil {
		return h.allocate(size)
	}

	asize, err := adjustedSize(size)
	if err != nil {
		return Nil, err
	}
	if asize == 0 {
		h.free(bp)
		return Nil, nil
	}

	blockSize := h.blockSize(bp)
	if asize == blockSize {
		return bp, nil
	}

	if asize < blockSize {
		// The split-off remainder may sit in front of a free block
		remainder := h.place(bp, asize)
		if remainder != Nil {
			h.coalesce(remainder)
		}
		return bp, nil
	}

	next := h.nextBlock(bp)
	merged := blockSize + h.blockSize(next)
	if !h.isAllocated(next) && merged >= asize {
		h.setBlock(bp, merged, true)
		h.place(bp, asize)
		return bp, nil
	}

	newBp, err := h.findOrGrow(asize)
	if err != nil {
		return Nil, err
	}
	h.place(newBp, asize)
	h.allocCount++

	copySize := min(blockSize-tag.DoubleWordSize, size)
	copy(h.mem[newBp:int(newBp)+copySize], h.mem[bp:int(bp)+copySize])

	h.free(bp)
	return newBp, nil
}
