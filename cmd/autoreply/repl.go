package main

import (
	"context"
	"fmt"
	"os"

	"github.com/xandylearning/zulip-sub000/cmd/autoreply/runtime"

	"github.com/spf13/cobra"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Start an interactive session",
	Long:  `Start an interactive shell for evaluating messages and managing history. The cache is pruned on its configured schedule while the session runs.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		signals := NewSignalHandler(ctx)
		signals.Start()
		defer signals.Stop()
		cmd.SetContext(signals.Context())

		return executeWithRuntime(cmd, func(r *runtime.RuntimeComponents) error {
			if err := r.Start(); err != nil {
				return fmt.Errorf("failed to start runtime components: %w", err)
			}

			repl := runtime.NewREPL(r, os.Stdin, cmd.OutOrStdout())
			return repl.Start()
		})
	},
}

func init() {
	rootCmd.AddCommand(replCmd)
}
