package main

import (
	"context"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/tagheap/implicit"
	"github.com/vkngwrapper/tagheap/region"
	"golang.org/x/exp/slog"
	"gopkg.in/yaml.v3"
)

const (
	backendSlice = "slice"
	backendMmap  = "mmap"
	backendWasm  = "wasm"
)

// Config holds the heap settings shared by every subcommand. Byte quantities accept humanized
// values such as "64MiB".
type Config struct {
	Backend                string `yaml:"backend"`
	Limit                  string `yaml:"limit"`
	ChunkSize              string `yaml:"chunk"`
	Validate               bool   `yaml:"validate"`
	ExternallySynchronized bool   `yaml:"externally_synchronized"`
}

func defaultConfig() Config {
	return Config{
		Backend:   backendSlice,
		Limit:     "64MiB",
		ChunkSize: "4KiB",
	}
}

// loadConfig decodes the YAML file at path over the defaults. An empty path returns the defaults.
func loadConfig(path string) (Config, error) {
	config := defaultConfig()
	if path == "" {
		return config, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return config, errors.Wrap(err, "failed to open config")
	}
	defer file.Close()

	d := yaml.NewDecoder(file)
	d.KnownFields(true)
	if err := d.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return config, errors.Wrapf(err, "failed to decode config %s", path)
	}

	return config, nil
}

// applyFlags overrides config values with any flag the user set explicitly
func (c *Config) applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("backend") {
		c.Backend = backendFlag
	}
	if flags.Changed("limit") {
		c.Limit = limitFlag
	}
	if flags.Changed("chunk") {
		c.ChunkSize = chunkFlag
	}
	if flags.Changed("validate") {
		c.Validate = validateFlag
	}
}

func parseBytes(value, name string) (int, error) {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s %q", name, value)
	}
	if n > uint64(implicit.MaxAllocationSize)*4 {
		return 0, errors.Newf("%s %s is too large", name, humanize.IBytes(n))
	}
	return int(n), nil
}

// heapHandle owns a heap and the growth primitive behind it
type heapHandle struct {
	Heap  *implicit.Heap
	close func() error
}

func (h *heapHandle) Close() error {
	err := h.Heap.Destroy()
	if h.close != nil {
		if closeErr := h.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

func newGrower(ctx context.Context, backend string, limit int) (region.Grower, func() error, error) {
	switch backend {
	case backendSlice:
		return region.NewSliceGrower(limit), nil, nil
	case backendMmap:
		// Heap.Destroy unmaps through io.Closer
		grower, err := region.NewMmapGrower(limit)
		return grower, nil, err
	case backendWasm:
		grower, err := region.NewWasmGrower(ctx, limit)
		if err != nil {
			return nil, nil, err
		}
		return grower, func() error { return grower.Close(ctx) }, nil
	}

	return nil, nil, errors.Newf("unknown backend %q, expected %s, %s or %s", backend, backendSlice, backendMmap, backendWasm)
}

// openHeap creates and initializes a heap as described by config
func openHeap(ctx context.Context, logger *slog.Logger, config Config) (*heapHandle, error) {
	limit, err := parseBytes(config.Limit, "limit")
	if err != nil {
		return nil, err
	}
	chunkSize, err := parseBytes(config.ChunkSize, "chunk size")
	if err != nil {
		return nil, err
	}

	grower, closeGrower, err := newGrower(ctx, config.Backend, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s backend", config.Backend)
	}

	var flags implicit.CreateFlags
	if config.ExternallySynchronized {
		flags |= implicit.CreateExternallySynchronized
	}

	heap, err := implicit.NewHeap(logger, grower, implicit.CreateOptions{
		Flags:     flags,
		ChunkSize: chunkSize,
	})
	if err == nil {
		err = heap.Init()
	}
	if err != nil {
		if closer, ok := grower.(io.Closer); ok {
			_ = closer.Close()
		}
		if closeGrower != nil {
			_ = closeGrower()
		}
		return nil, err
	}

	logger.LogAttrs(ctx, slog.LevelDebug, "opened heap",
		slog.String("backend", config.Backend),
		slog.String("limit", humanize.IBytes(uint64(limit))),
		slog.String("flags", flags.String()),
	)
	return &heapHandle{Heap: heap, close: closeGrower}, nil
}
