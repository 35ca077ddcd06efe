package implicit

import (
	"github.com/vkngwrapper/tagheap/memutils"
)

// Free returns the block at bp to the heap and merges it with any free neighbor. Free(Nil) does
// nothing.
//
// bp must have been returned by Allocate or Reallocate on this heap and not freed since. This is
// not checked: freeing anything else corrupts the heap.
func (h *Heap) Free(bp Addr) {
	if bp == Nil {
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if err := h.checkInit(); err != nil {
		panic(err)
	}

	h.free(bp)
	memutils.DebugValidate((*unlockedHeap)(h))
}

func (h *Heap) free(bp Addr) {
	h.setBlock(bp, h.blockSize(bp), false)
	h.allocCount--
	h.coalesce(bp)
}

// coalesce merges the free block at bp with whichever of its neighbors are free and returns the
// address of the resulting block. The prologue and epilogue are allocated, so neither is ever
// merged.
func (h *Heap) coalesce(bp Addr) Addr {
	prevFree := !h.prevAllocated(bp)
	next := h.nextBlock(bp)
	nextFree := !h.isAllocated(next)
	size := h.blockSize(bp)

	switch {
	case !prevFree && !nextFree:
		return bp
	case !prevFree && nextFree:
		size += h.blockSize(next)
	case prevFree && !nextFree:
		bp = h.prevBlock(bp)
		size += h.blockSize(bp)
	default:
		size += h.blockSize(next)
		bp = h.prevBlock(bp)
		size += h.blockSize(bp)
	}

	h.setBlock(bp, size, false)
	return bp
}
