package implicit

import (
	"context"
	"io"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/tagheap/memutils"
	"github.com/vkngwrapper/tagheap/memutils/tag"
	"golang.org/x/exp/slog"
)

// BlockType identifies whether a block reported by the heap is allocated or free
type BlockType uint32

const (
	BlockFree BlockType = iota
	BlockAllocated
)

var blockTypeMapping = map[BlockType]string{
	BlockFree:      "BlockFree",
	BlockAllocated: "BlockAllocated",
}

func (t BlockType) String() string {
	return blockTypeMapping[t]
}

// unlockedHeap lets methods that already hold the heap mutex run validation without locking again
type unlockedHeap Heap

func (h *unlockedHeap) Validate() error {
	return (*Heap)(h).validate()
}

// Flags returns the flags the heap was created with
func (h *Heap) Flags() CreateFlags { return h.flags }

// ChunkSize returns the minimum growth the heap requests from its growth primitive
func (h *Heap) ChunkSize() int { return h.chunkSize }

// Start returns the address of the first byte of the region, where the sentinels are placed
func (h *Heap) Start() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.region.Start()
}

// End returns the current end of the region, where the epilogue sits
func (h *Heap) End() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.region.End()
}

// AllocationCount returns the number of live allocations
func (h *Heap) AllocationCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.allocCount
}

// IsEmpty will return true if this heap has no live allocations
func (h *Heap) IsEmpty() bool {
	return h.AllocationCount() == 0
}

// UsableSize returns the number of payload bytes available at bp, which may exceed the size it
// was allocated with
func (h *Heap) UsableSize(bp Addr) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.blockSize(bp) - tag.DoubleWordSize
}

// Payload returns the payload bytes of the allocated block at bp. The slice is only valid until
// the next call that may grow the heap.
func (h *Heap) Payload(bp Addr) []byte {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	end := int(bp) + h.blockSize(bp) - tag.DoubleWordSize
	return h.mem[bp:end:end]
}

// Validate walks the whole block chain and checks the heap's structural invariants:
//   - the prologue is intact
//   - every block is aligned, at least tag.MinBlockSize bytes, and a multiple of tag.DoubleWordSize
//   - every header matches its footer
//   - no two adjacent blocks are free
//   - the chain ends with an allocated zero-size epilogue exactly at the end of the region
//   - the number of allocated blocks matches the number of live allocations
//
// When the heap is functioning correctly, it should not be possible for this method to return an
// error.
func (h *Heap) Validate() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.validate()
}

func (h *Heap) validate() error {
	if err := h.checkInit(); err != nil {
		return err
	}

	start := h.region.Start()
	end := h.region.End()
	prologue := tag.Pack(tag.DoubleWordSize, true)

	if h.tagAt(start+tag.WordSize) != prologue || h.tagAt(start+2*tag.WordSize) != prologue {
		return errors.Errorf("the prologue at %d has been overwritten", start+2*tag.WordSize)
	}

	var allocCount int
	prevFree := false
	bp := h.first
	for {
		if int(bp) > end {
			return errors.Errorf("the block chain runs past the end of the region at %d", end)
		}

		hdr := h.tagAt(header(bp))
		size := hdr.Size()
		if size == 0 {
			if !hdr.Allocated() {
				return errors.Errorf("the epilogue at %d is not marked allocated", bp)
			}
			if int(bp) != end {
				return errors.Errorf("found the epilogue at %d, but the region ends at %d", bp, end)
			}
			break
		}

		if !memutils.IsAligned(int(bp), tag.DoubleWordSize) {
			return errors.Errorf("block at %d is not aligned to %d bytes", bp, tag.DoubleWordSize)
		}
		if uint32(hdr)&(tag.DoubleWordSize-2) != 0 {
			return errors.Errorf("block at %d has unexpected bits set in its header %#x", bp, uint32(hdr))
		}
		if size < tag.MinBlockSize {
			return errors.Errorf("block at %d has size %d, below the minimum of %d", bp, size, tag.MinBlockSize)
		}
		if int(bp)+size > end {
			return errors.Errorf("block at %d with size %d extends past the end of the region at %d", bp, size, end)
		}

		ftr := h.tagAt(h.footer(bp))
		if ftr != hdr {
			return errors.Errorf("block at %d has header %#x but footer %#x", bp, uint32(hdr), uint32(ftr))
		}

		free := !hdr.Allocated()
		if free && prevFree {
			return errors.Errorf("block at %d is free and follows another free block", bp)
		}
		if !free {
			allocCount++
		}

		prevFree = free
		bp = h.nextBlock(bp)
	}

	if allocCount != h.allocCount {
		return errors.Errorf("counted %d allocated blocks, but the heap has %d live allocations", allocCount, h.allocCount)
	}

	return nil
}

// VisitAllBlocks will call the provided callback once for each real block in address order,
// skipping the sentinels. Returning an error from the callback stops the walk and returns that
// error.
func (h *Heap) VisitAllBlocks(handleBlock func(bp Addr, size int, allocated bool) error) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if err := h.checkInit(); err != nil {
		return err
	}

	return h.visitAllBlocks(handleBlock)
}

func (h *Heap) visitAllBlocks(handleBlock func(bp Addr, size int, allocated bool) error) error {
	for bp := h.first; h.blockSize(bp) > 0; bp = h.nextBlock(bp) {
		err := handleBlock(bp, h.blockSize(bp), h.isAllocated(bp))
		if err != nil {
			return err
		}
	}

	return nil
}

// AddStatistics sums this heap's block statistics into the statistics currently present in the
// provided memutils.Statistics object.
func (h *Heap) AddStatistics(stats *memutils.Statistics) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.first == Nil {
		return
	}

	stats.HeapBytes += h.region.Size()
	_ = h.visitAllBlocks(func(bp Addr, size int, allocated bool) error {
		stats.BlockCount++
		if allocated {
			stats.AllocationCount++
			stats.AllocationBytes += size
		}
		return nil
	})
}

// AddDetailedStatistics sums this heap's block statistics into the statistics currently present
// in the provided memutils.DetailedStatistics object.
func (h *Heap) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.first == Nil {
		return
	}

	stats.HeapBytes += h.region.Size()
	_ = h.visitAllBlocks(func(bp Addr, size int, allocated bool) error {
		if allocated {
			stats.AddAllocation(size)
		} else {
			stats.AddFreeBlock(size)
		}
		return nil
	})
}

// PrintDetailedMap populates a json object with a summary of the heap followed by every block
func (h *Heap) PrintDetailedMap(json jwriter.ObjectState) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	h.AddDetailedStatistics(&stats)

	h.mutex.Lock()
	defer h.mutex.Unlock()

	json.Name("Start").Int(h.region.Start())
	json.Name("End").Int(h.region.End())
	json.Name("TotalBytes").Int(stats.HeapBytes)
	json.Name("UnusedBytes").Int(stats.FreeBytes)
	json.Name("Allocations").Int(stats.AllocationCount)
	json.Name("UnusedRanges").Int(stats.FreeBlockCount)
	json.Name("GrowCount").Int(h.region.GrowCount())

	blocks := json.Name("Blocks").Array()
	defer blocks.End()

	if h.first == Nil {
		return
	}

	_ = h.visitAllBlocks(func(bp Addr, size int, allocated bool) error {
		obj := blocks.Object()
		defer obj.End()

		blockType := BlockFree
		if allocated {
			blockType = BlockAllocated
		}

		obj.Name("Address").Int(int(bp))
		obj.Name("Type").String(blockType.String())
		obj.Name("Size").Int(size)
		return nil
	})
}

// Destroy retires the heap. If any allocations are still live, each one is logged and an error
// is returned, but the heap is retired regardless. A growth primitive that implements io.Closer
// is closed.
func (h *Heap) Destroy() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var leakErr error
	if h.first != Nil && h.allocCount > 0 {
		_ = h.visitAllBlocks(func(bp Addr, size int, allocated bool) error {
			if allocated {
				h.logUnreleasedMemory(bp, size)
			}
			return nil
		})

		leakErr = errors.Errorf("%d allocations were not freed before the heap was destroyed", h.allocCount)
	}

	h.first = Nil
	h.mem = nil
	h.allocCount = 0

	if closer, ok := h.region.Grower().(io.Closer); ok {
		err := closer.Close()
		if err != nil && leakErr == nil {
			return errors.Wrap(err, "failed to close the growth primitive")
		}
	}

	return leakErr
}

func (h *Heap) logUnreleasedMemory(bp Addr, size int) {
	h.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
		slog.Int("address", int(bp)),
		slog.Int("size", size),
		slog.Int("usable", size-tag.DoubleWordSize),
	)
}
