package trace

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	pkgerrors "github.com/pkg/errors"
	"github.com/vkngwrapper/tagheap/implicit"
	"github.com/vkngwrapper/tagheap/memutils"
	"github.com/vkngwrapper/tagheap/memutils/tag"
	"golang.org/x/exp/slog"
)

var (
	// ErrPayloadCorrupted marks replay failures where a live payload no longer holds the bytes
	// written to it
	ErrPayloadCorrupted error = pkgerrors.New("payload corrupted")
	// ErrBadOperation marks replay failures caused by the trace itself, such as freeing an id
	// that is not live
	ErrBadOperation error = pkgerrors.New("invalid trace operation")
)

// ReplayOptions contains optional settings for Replay
type ReplayOptions struct {
	// Validate runs Heap.Validate after every operation
	Validate bool
	// Logger receives a debug record per operation. It may be nil.
	Logger *slog.Logger
}

// Result summarizes a replay
type Result struct {
	Allocations   int
	Reallocations int
	Frees         int

	// LiveAllocations is the number of ids still allocated when the trace ended
	LiveAllocations int
	// PeakPayloadBytes is the largest total of requested sizes live at once
	PeakPayloadBytes int
	// HeapBytes is the size of the region when the trace ended
	HeapBytes int

	Statistics memutils.DetailedStatistics
}

// Operations returns the total number of operations performed
func (r Result) Operations() int {
	return r.Allocations + r.Reallocations + r.Frees
}

// Utilization returns the peak payload bytes divided by the final heap size
func (r Result) Utilization() float64 {
	if r.HeapBytes == 0 {
		return 0
	}
	return float64(r.PeakPayloadBytes) / float64(r.HeapBytes)
}

type liveBlock struct {
	addr implicit.Addr
	size int
}

type replayer struct {
	heap    *implicit.Heap
	options ReplayOptions
	live    *swiss.Map[int, liveBlock]

	payloadBytes int
	result       Result
}

// Replay performs every operation of trace against heap, which must already be initialized.
//
// Each payload is filled with a pattern derived from its id. The pattern is checked before every
// free and, up to the smaller of the old and new sizes, after every reallocation. Every returned
// address is checked for double-word alignment. Allocations still live at the end of the trace are
// left on the heap.
func Replay(ctx context.Context, heap *implicit.Heap, trace *Trace, options ReplayOptions) (Result, error) {
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := &replayer{
		heap:    heap,
		options: options,
		live:    swiss.NewMap[int, liveBlock](uint32(max(trace.IDCount, 1))),
	}

	for index, op := range trace.Ops {
		if err := ctx.Err(); err != nil {
			return r.result, err
		}

		err := r.apply(ctx, op)
		if err != nil {
			return r.result, errors.Wrapf(err, "operation %d (%s %d)", index, op.Type, op.ID)
		}

		if options.Validate {
			err = heap.Validate()
			if err != nil {
				return r.result, errors.Wrapf(err, "heap invalid after operation %d (%s %d)", index, op.Type, op.ID)
			}
		}
	}

	r.result.LiveAllocations = r.live.Count()
	r.result.HeapBytes = heap.End() - heap.Start()
	r.result.Statistics.Clear()
	heap.AddDetailedStatistics(&r.result.Statistics)

	return r.result, nil
}

func (r *replayer) apply(ctx context.Context, op Op) error {
	r.options.Logger.LogAttrs(ctx, slog.LevelDebug, "trace.Replay",
		slog.String("op", op.Type.String()),
		slog.Int("id", op.ID),
		slog.Int("size", op.Size),
	)

	switch op.Type {
	case OpAllocate:
		return r.allocate(op)
	case OpReallocate:
		return r.reallocate(op)
	case OpFree:
		return r.free(op)
	}

	return errors.Mark(errors.Newf("unknown operation %q", byte(op.Type)), ErrBadOperation)
}

func (r *replayer) allocate(op Op) error {
	if _, live := r.live.Get(op.ID); live {
		return errors.Mark(errors.Newf("id %d is already allocated", op.ID), ErrBadOperation)
	}

	addr, err := r.heap.Allocate(op.Size)
	if err != nil {
		return err
	}
	if err := checkAlignment(addr); err != nil {
		return err
	}

	r.result.Allocations++
	r.track(op.ID, liveBlock{addr: addr, size: op.Size})
	return nil
}

func (r *replayer) reallocate(op Op) error {
	old, live := r.live.Get(op.ID)

	addr, err := r.heap.Reallocate(old.addr, op.Size)
	if err != nil {
		return err
	}
	if err := checkAlignment(addr); err != nil {
		return err
	}

	if live {
		err = r.checkPattern(op.ID, addr, min(old.size, op.Size))
		if err != nil {
			return errors.Wrap(err, "reallocation did not preserve the payload")
		}
		r.untrack(op.ID, old)
	}

	r.result.Reallocations++
	r.track(op.ID, liveBlock{addr: addr, size: op.Size})
	return nil
}

func (r *replayer) free(op Op) error {
	block, live := r.live.Get(op.ID)
	if !live {
		return errors.Mark(errors.Newf("id %d is not allocated", op.ID), ErrBadOperation)
	}

	err := r.checkPattern(op.ID, block.addr, block.size)
	if err != nil {
		return err
	}

	r.heap.Free(block.addr)
	r.result.Frees++
	r.untrack(op.ID, block)
	return nil
}

func (r *replayer) track(id int, block liveBlock) {
	r.live.Put(id, block)
	if block.addr != implicit.Nil {
		r.fillPattern(id, block.addr, block.size)
	}

	r.payloadBytes += block.size
	if r.payloadBytes > r.result.PeakPayloadBytes {
		r.result.PeakPayloadBytes = r.payloadBytes
	}
}

func (r *replayer) untrack(id int, block liveBlock) {
	r.live.Delete(id)
	r.payloadBytes -= block.size
}

func patternByte(id, offset int) byte {
	return byte(id*31 + offset + 1)
}

func (r *replayer) fillPattern(id int, addr implicit.Addr, size int) {
	payload := r.heap.Payload(addr)
	for i := 0; i < size; i++ {
		payload[i] = patternByte(id, i)
	}
}

func (r *replayer) checkPattern(id int, addr implicit.Addr, size int) error {
	if addr == implicit.Nil || size == 0 {
		return nil
	}

	payload := r.heap.Payload(addr)
	for i := 0; i < size; i++ {
		if payload[i] != patternByte(id, i) {
			return errors.Mark(
				errors.Newf("id %d at address %d: byte %d is %#x, expected %#x", id, addr, i, payload[i], patternByte(id, i)),
				ErrPayloadCorrupted,
			)
		}
	}

	return nil
}

func checkAlignment(addr implicit.Addr) error {
	if !memutils.IsAligned(int(addr), tag.DoubleWordSize) {
		return errors.Newf("address %d is not aligned to %d bytes", addr, tag.DoubleWordSize)
	}
	return nil
}
