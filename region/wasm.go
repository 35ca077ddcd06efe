package region

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const (
	wasmPageSize = 65536
	wasmMaxPages = 65536

	wasmMemoryExport = "memory"
)

// WasmGrower is a Grower backed by the linear memory of a WebAssembly module instantiated in an
// embedded wazero runtime. The memory grows in whole pages with memory.grow; the break is tracked
// in bytes inside it. Growing the linear memory can move it, so Bytes must be refetched.
type WasmGrower struct {
	runtime wazero.Runtime
	memory  api.Memory
	brk     int
	limit   int
}

var _ Grower = &WasmGrower{}

// NewWasmGrower instantiates a module that exports a single linear memory able to hold limit bytes
func NewWasmGrower(ctx context.Context, limit int) (*WasmGrower, error) {
	if limit <= 0 {
		return nil, errors.Newf("wasm grower limit must be positive, was %d", limit)
	}

	maxPages := (limit + wasmPageSize - 1) / wasmPageSize
	if maxPages > wasmMaxPages {
		return nil, errors.Newf("wasm grower limit %d exceeds the 4GiB linear memory maximum", limit)
	}

	runtime := wazero.NewRuntime(ctx)
	module, err := runtime.Instantiate(ctx, memoryModule(1, uint32(maxPages)))
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, errors.Wrap(err, "failed to instantiate the wasm memory module")
	}

	memory := module.ExportedMemory(wasmMemoryExport)
	if memory == nil {
		_ = runtime.Close(ctx)
		return nil, errors.New("wasm memory module does not export its memory")
	}

	return &WasmGrower{
		runtime: runtime,
		memory:  memory,
		limit:   limit,
	}, nil
}

func (g *WasmGrower) Grow(n int) (int, error) {
	prev := g.brk
	if n < 0 || n > g.limit-prev {
		return 0, errors.Wrapf(ErrExhausted, "cannot grow %d bytes past %d with a limit of %d", n, prev, g.limit)
	}

	need := prev + n
	size := int(g.memory.Size())
	if need > size {
		pages := (need - size + wasmPageSize - 1) / wasmPageSize
		if _, ok := g.memory.Grow(uint32(pages)); !ok {
			return 0, errors.Wrapf(ErrExhausted, "memory.grow of %d pages was refused", pages)
		}
	}

	g.brk = need
	return prev, nil
}

func (g *WasmGrower) Bytes() []byte {
	view, ok := g.memory.Read(0, uint32(g.brk))
	if !ok {
		return nil
	}
	return view
}

// Pages returns the current size of the linear memory in wasm pages
func (g *WasmGrower) Pages() int {
	return int(g.memory.Size()) / wasmPageSize
}

// Close shuts down the runtime that owns the linear memory
func (g *WasmGrower) Close(ctx context.Context) error {
	return g.runtime.Close(ctx)
}

// memoryModule assembles the binary for a module whose only content is an exported memory:
//
//	(module (memory (export "memory") minPages maxPages))
func memoryModule(minPages, maxPages uint32) []byte {
	module := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	limits := []byte{0x01} // one memory
	limits = append(limits, 0x01)
	limits = appendULEB128(limits, minPages)
	limits = appendULEB128(limits, maxPages)
	module = append(module, 0x05)
	module = appendULEB128(module, uint32(len(limits)))
	module = append(module, limits...)

	exports := []byte{0x01, byte(len(wasmMemoryExport))}
	exports = append(exports, wasmMemoryExport...)
	exports = append(exports, 0x02, 0x00)
	module = append(module, 0x07)
	module = appendULEB128(module, uint32(len(exports)))
	module = append(module, exports...)

	return module
}

func appendULEB128(b []byte, v uint32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}
