package implicit

import (
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/tagheap/memutils"
	"github.com/vkngwrapper/tagheap/memutils/tag"
	"github.com/vkngwrapper/tagheap/region"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific heap behaviors to activate or deactivate
type CreateFlags int32

const (
	// CreateExternallySynchronized ensures that the heap will not be synchronized internally. The
	// consumer must guarantee it is used from only one goroutine at a time or is synchronized by some
	// other mechanism, but every operation skips a mutex.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

var createFlagsMapping = map[CreateFlags]string{
	CreateExternallySynchronized: "CreateExternallySynchronized",
}

func (f CreateFlags) String() string {
	var names []string
	for flag := CreateFlags(1); flag != 0 && flag <= f; flag <<= 1 {
		if f&flag == 0 {
			continue
		}
		name, ok := createFlagsMapping[flag]
		if !ok {
			name = "Unknown"
		}
		names = append(names, name)
	}

	if len(names) == 0 {
		return "None"
	}
	return strings.Join(names, "|")
}

const (
	// DefaultChunkSize is the minimum number of bytes the heap requests from its growth primitive
	// whenever no free block fits, and the size of the first growth performed by Init.
	DefaultChunkSize int = 4096
)

// CreateOptions contains optional settings when creating a heap
type CreateOptions struct {
	// Flags indicates specific heap behaviors to activate or deactivate
	Flags CreateFlags
	// ChunkSize overrides DefaultChunkSize. It must be a power of two no smaller than
	// tag.MinBlockSize. Zero selects DefaultChunkSize.
	ChunkSize int
}

// NewHeap creates a new Heap over the provided growth primitive. Nothing is requested from the
// primitive until Init is called.
//
// logger - Receives debug records on growth and error records about unreleased memory on
// Destroy. It may be nil.
//
// grower - The growth primitive backing the heap. A grower must only ever back one heap.
//
// options - Optional parameters: it is valid to leave all the fields blank
func NewHeap(logger *slog.Logger, grower region.Grower, options CreateOptions) (*Heap, error) {
	if grower == nil {
		return nil, errors.New("a heap requires a growth primitive")
	}

	chunkSize := options.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	err := memutils.CheckPow2(chunkSize, "CreateOptions.ChunkSize")
	if err != nil {
		return nil, err
	}
	if chunkSize < tag.MinBlockSize {
		return nil, errors.Newf("CreateOptions.ChunkSize must be at least %d, but was %d", tag.MinBlockSize, chunkSize)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	heap := &Heap{
		logger:    logger,
		region:    region.New(grower),
		chunkSize: chunkSize,
		flags:     options.Flags,
	}
	heap.mutex.UseMutex = options.Flags&CreateExternallySynchronized == 0

	return heap, nil
}
