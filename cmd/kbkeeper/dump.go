package main

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kk-code-lab/kbkeeper/internal/ops"
)

func (c *cli) dumpKBICmd() *cobra.Command {
	var (
		pretty bool
		format string
	)
	cmd := &cobra.Command{
		Use:   "dump-kbi <path>",
		Short: "Decode a .kbi manifest and print it",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case ops.FormatJSON, ops.FormatYAML, ops.FormatCBOR:
			default:
				return usageError(fmt.Errorf("%w: %q", ops.ErrUnknownFormat, format))
			}
			w := bufio.NewWriter(cmd.OutOrStdout())
			if err := ops.DumpKBI(args[0], w, format, pretty); err != nil {
				return fmt.Errorf("dump %s: %w", args[0], err)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent JSON output")
	cmd.Flags().StringVar(&format, "format", ops.FormatJSON, "output format: json|yaml|cbor")
	return cmd
}
