package main

import (
	"fmt"

	"github.com/xandylearning/zulip-sub000/cmd/autoreply/runtime"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the analysis cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop expired cache entries",
	Long:  `Remove expired entries from the memory or file cache backend. Redis expires entries on its own.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeWithRuntime(cmd, func(r *runtime.RuntimeComponents) error {
			if len(r.Maintenance.Targets()) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Cache backend %q expires entries natively; nothing to prune.\n", r.Config.Cache.Backend)
				return nil
			}
			n := r.PruneCache(r.Ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d expired cache entries\n", n)
			return nil
		})
	},
}

func init() {
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}
