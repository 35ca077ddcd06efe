package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

var (
	// Global flags
	configPath   string
	backendFlag  string
	limitFlag    string
	chunkFlag    string
	validateFlag bool
	jsonOut      bool
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "tagheap",
	Short: "Replay allocator traces against a boundary-tag heap",
	Long: `tagheap runs allocator workload traces against an implicit free list heap
backed by a Go slice, an anonymous mmap reservation or a WebAssembly linear
memory, and reports how well the heap used the memory it obtained.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "YAML file with heap settings")
	flags.StringVar(&backendFlag, "backend", backendSlice, "Growth primitive: slice, mmap or wasm")
	flags.StringVar(&limitFlag, "limit", "64MiB", "Maximum size of the heap region")
	flags.StringVar(&chunkFlag, "chunk", "4KiB", "Minimum heap growth, a power of two")
	flags.BoolVar(&validateFlag, "validate", false, "Validate the heap after every operation")
	flags.BoolVar(&jsonOut, "json", false, "Output in JSON format")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log heap growth and every trace operation")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// resolveConfig loads --config and applies explicitly set flags over it
func resolveConfig(cmd *cobra.Command) (Config, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return config, err
	}

	config.applyFlags(cmd)
	return config, nil
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
