package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/tagheap/implicit"
)

func init() {
	rootCmd.AddCommand(newDumpCmd())
}

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <trace>",
		Short: "Replay a trace and print the resulting block map",
		Long: `The dump command replays a single trace and prints every block left on the
heap, allocated or free, as JSON. Allocations the trace never frees show up as
allocated blocks.

Example:
  tagheap dump short.rep
  tagheap dump short.rep --chunk 256`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd, args[0])
		},
	}
	return cmd
}

func runDump(cmd *cobra.Command, path string) error {
	config, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr())

	writer := jwriter.NewWriter()
	_, err = replayFile(cmd.Context(), logger, config, path, func(heap *implicit.Heap) {
		obj := writer.Object()
		obj.Name("Trace").String(path)
		heap.PrintDetailedMap(obj)
		obj.End()
	})
	if err != nil {
		return errors.Wrapf(err, "failed to replay %s", path)
	}
	if err := writer.Error(); err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(writer.Bytes()))
	return err
}
