package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/tagheap/implicit"
	"github.com/vkngwrapper/tagheap/trace"
	"golang.org/x/exp/slog"
)

func init() {
	rootCmd.AddCommand(newReplayCmd())
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <trace>...",
		Short: "Replay traces and report heap utilization",
		Long: `The replay command runs each trace against a fresh heap, checking every
payload for corruption, and prints a summary of the heap afterward.

Example:
  tagheap replay traces/*.rep
  tagheap replay short.rep --backend mmap --limit 256MiB --validate
  tagheap replay short.rep --config heap.yaml --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, args)
		},
	}
	return cmd
}

type replayReport struct {
	Path   string
	Result trace.Result
}

func runReplay(cmd *cobra.Command, args []string) error {
	config, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr())

	var reports []replayReport
	for _, path := range args {
		result, err := replayFile(cmd.Context(), logger, config, path, nil)
		if err != nil {
			return errors.Wrapf(err, "failed to replay %s", path)
		}
		reports = append(reports, replayReport{Path: path, Result: result})
	}

	if jsonOut {
		return writeReportsJSON(cmd.OutOrStdout(), reports)
	}

	for _, report := range reports {
		writeReport(cmd.OutOrStdout(), report)
	}
	return nil
}

// replayFile parses the trace at path and replays it against a new heap. inspect, when not nil,
// is called with the heap before it is destroyed.
func replayFile(ctx context.Context, logger *slog.Logger, config Config, path string, inspect func(*implicit.Heap)) (trace.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	file, err := os.Open(path)
	if err != nil {
		return trace.Result{}, err
	}
	defer file.Close()

	parsed, err := trace.Parse(file)
	if err != nil {
		return trace.Result{}, err
	}

	handle, err := openHeap(ctx, logger, config)
	if err != nil {
		return trace.Result{}, err
	}

	result, err := trace.Replay(ctx, handle.Heap, parsed, trace.ReplayOptions{
		Validate: config.Validate,
		Logger:   logger,
	})
	if err == nil && inspect != nil {
		inspect(handle.Heap)
	}

	closeErr := handle.Close()
	if closeErr != nil {
		logger.LogAttrs(ctx, slog.LevelWarn, "heap destroyed with live allocations",
			slog.String("trace", path),
			slog.String("error", closeErr.Error()),
		)
	}

	return result, err
}

func writeReport(w io.Writer, report replayReport) {
	result := report.Result
	fmt.Fprintf(w, "%s\n", filepath.Base(report.Path))
	fmt.Fprintf(w, "  operations:    %d (%d allocate, %d reallocate, %d free)\n",
		result.Operations(), result.Allocations, result.Reallocations, result.Frees)
	fmt.Fprintf(w, "  peak payload:  %s\n", humanize.Bytes(uint64(result.PeakPayloadBytes)))
	fmt.Fprintf(w, "  heap size:     %s\n", humanize.Bytes(uint64(result.HeapBytes)))
	fmt.Fprintf(w, "  utilization:   %.1f%%\n", result.Utilization()*100)
	fmt.Fprintf(w, "  fragmentation: %.1f%% over %d free blocks\n",
		result.Statistics.Fragmentation()*100, result.Statistics.FreeBlockCount)
	fmt.Fprintf(w, "  live at end:   %d\n", result.LiveAllocations)
}

func writeReportsJSON(w io.Writer, reports []replayReport) error {
	writer := jwriter.NewWriter()
	arr := writer.Array()
	for _, report := range reports {
		obj := arr.Object()
		obj.Name("Trace").String(report.Path)
		obj.Name("Operations").Int(report.Result.Operations())
		obj.Name("Allocations").Int(report.Result.Allocations)
		obj.Name("Reallocations").Int(report.Result.Reallocations)
		obj.Name("Frees").Int(report.Result.Frees)
		obj.Name("PeakPayloadBytes").Int(report.Result.PeakPayloadBytes)
		obj.Name("HeapBytes").Int(report.Result.HeapBytes)
		obj.Name("Utilization").Float64(report.Result.Utilization())
		obj.Name("Fragmentation").Float64(report.Result.Statistics.Fragmentation())
		obj.Name("LiveAllocations").Int(report.Result.LiveAllocations)
		obj.End()
	}
	arr.End()

	if err := writer.Error(); err != nil {
		return err
	}

	_, err := fmt.Fprintln(w, string(writer.Bytes()))
	return err
}
