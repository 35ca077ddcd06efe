// Package implicit is a dynamic memory allocator over a single growable range of bytes.
//
// Every block is bounded by a pair of identical boundary tags (see package tag). Blocks carry no
// links: the block after a payload address bp starts at bp plus its size, and the block before it
// is found by reading the footer that ends just before bp's header. The free "list" is therefore
// implicit in the chain of tags, and is searched first-fit from the lowest address.
//
// The region is laid out as:
//
//	| pad | prologue hdr | prologue ftr | block hdr | payload ... | block ftr | ... | epilogue hdr |
//
// The prologue is an allocated 8-byte block and the epilogue is an allocated 0-byte header sitting
// at the end of the region. Together they stop every scan and every coalesce at the region edges.
package implicit

import (
	"context"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/tagheap/internal/utils"
	"github.com/vkngwrapper/tagheap/memutils"
	"github.com/vkngwrapper/tagheap/memutils/tag"
	"github.com/vkngwrapper/tagheap/region"
	"golang.org/x/exp/slog"
)

// Addr is a payload address: the byte offset, within the region, of the first byte after a block's
// header. Every Addr returned by a Heap is a multiple of tag.DoubleWordSize.
type Addr int

// Nil is the null payload address. No block can start at offset 0 of a region.
const Nil Addr = 0

const (
	// MaxAllocationSize is the largest payload a single call will attempt to satisfy
	MaxAllocationSize int = 1 << 30

	// Tags are 32 bits wide, so no block, and therefore no heap, may reach 4GiB
	maxHeapSize uint64 = math.MaxUint32 &^ (tag.DoubleWordSize - 1)
)

// Heap is an implicit-free-list allocator. Heaps must be created with NewHeap and initialized with
// Init before any other method is used.
type Heap struct {
	mutex  utils.OptionalMutex
	logger *slog.Logger

	region *region.Region
	mem    []byte
	flags  CreateFlags

	chunkSize  int
	first      Addr
	initFailed bool
	allocCount int
}

// Init lays down the prologue and epilogue sentinels and performs the first chunk-sized growth.
// Failure is permanent for this heap: the returned error is marked with memutils.ErrInitFailed, and
// every later call to Init returns that error again.
func (h *Heap) Init() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.first != Nil {
		return memutils.ErrAlreadyInitialized
	}
	if h.initFailed {
		return errors.Wrap(memutils.ErrInitFailed, "a previous call to Init failed")
	}
	if h.region.GrowCount() > 0 {
		return errors.New("the heap has been destroyed")
	}

	err := h.init()
	if err != nil {
		h.initFailed = true
		return errors.Mark(err, memutils.ErrInitFailed)
	}

	memutils.DebugValidate((*unlockedHeap)(h))
	return nil
}

func (h *Heap) init() error {
	start, err := h.region.Extend(4 * tag.WordSize)
	if err != nil {
		return errors.Wrap(err, "failed to obtain the heap sentinels")
	}
	if !memutils.IsAligned(start, tag.DoubleWordSize) {
		return errors.Newf("the growth primitive returned break %d, which is not %d-byte aligned", start, tag.DoubleWordSize)
	}

	h.mem = h.region.Bytes()
	tag.Put(h.mem, start, 0)
	tag.Put(h.mem, start+tag.WordSize, tag.Pack(tag.DoubleWordSize, true))
	tag.Put(h.mem, start+2*tag.WordSize, tag.Pack(tag.DoubleWordSize, true))
	tag.Put(h.mem, start+3*tag.WordSize, tag.Pack(0, true))

	_, err = h.extend(h.chunkSize / tag.WordSize)
	if err != nil {
		return errors.Wrapf(err, "failed to perform the initial %d byte growth", h.chunkSize)
	}

	h.first = Addr(start + 4*tag.WordSize)

	h.logger.LogAttrs(context.Background(), slog.LevelDebug, "Heap::Init",
		slog.Int("start", start),
		slog.Int("end", h.region.End()),
	)
	return nil
}

// extend grows the heap by words words (rounded up to keep double-word alignment) and returns the
// free block covering the new bytes, after coalescing it with a free predecessor. On failure no tag
// is written.
func (h *Heap) extend(words int) (Addr, error) {
	if words%2 != 0 {
		words++
	}
	size := words * tag.WordSize

	if uint64(h.region.Size())+uint64(size) > maxHeapSize {
		return Nil, errors.Wrapf(region.ErrExhausted, "growing by %d bytes would take the heap past %d bytes", size, maxHeapSize)
	}

	prevEnd, err := h.region.Extend(size)
	if err != nil {
		return Nil, err
	}
	h.mem = h.region.Bytes()

	// The new block's header overwrites the old epilogue
	bp := Addr(prevEnd)
	h.setBlock(bp, size, false)
	h.setTag(header(h.nextBlock(bp)), tag.Pack(0, true))

	h.logger.LogAttrs(context.Background(), slog.LevelDebug, "Heap::extend",
		slog.Int("bytes", size),
		slog.Int("end", h.region.End()),
	)

	return h.coalesce(bp), nil
}

func (h *Heap) checkInit() error {
	if h.first == Nil {
		return memutils.ErrNotInitialized
	}
	return nil
}

func header(bp Addr) int {
	return int(bp) - tag.WordSize
}

func (h *Heap) tagAt(addr int) tag.Tag {
	return tag.Get(h.mem, addr)
}

func (h *Heap) setTag(addr int, t tag.Tag) {
	tag.Put(h.mem, addr, t)
}

func (h *Heap) blockSize(bp Addr) int {
	return h.tagAt(header(bp)).Size()
}

func (h *Heap) isAllocated(bp Addr) bool {
	return h.tagAt(header(bp)).Allocated()
}

func (h *Heap) footer(bp Addr) int {
	return int(bp) + h.blockSize(bp) - tag.DoubleWordSize
}

func (h *Heap) nextBlock(bp Addr) Addr {
	return bp + Addr(h.blockSize(bp))
}

// prevBlock reads the footer that ends just before bp's header
func (h *Heap) prevBlock(bp Addr) Addr {
	return bp - Addr(h.tagAt(int(bp)-tag.DoubleWordSize).Size())
}

func (h *Heap) prevAllocated(bp Addr) bool {
	return h.tagAt(int(bp) - tag.DoubleWordSize).Allocated()
}

// setBlock writes matching header and footer tags for a block of size bytes at bp
func (h *Heap) setBlock(bp Addr, size int, allocated bool) {
	t := tag.Pack(size, allocated)
	h.setTag(header(bp), t)
	h.setTag(int(bp)+size-tag.DoubleWordSize, t)
}
