package main

import (
	"fmt"
	"time"

	"github.com/xandylearning/zulip-sub000/cmd/autoreply/runtime"

	"github.com/xandylearning/zulip-sub000/internal/history"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage message history",
	Long:  `Store chat messages and inspect the message history and auto-response log used by the pipeline.`,
}

var historyAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Store a chat message",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		text, _ := cmd.Flags().GetString("message")
		atFlag, _ := cmd.Flags().GetString("at")

		msg := history.Message{SenderID: from, RecipientID: to, Content: text}
		if atFlag != "" {
			at, err := time.Parse(time.RFC3339, atFlag)
			if err != nil {
				return fmt.Errorf("invalid --at %q: %w", atFlag, err)
			}
			msg.SentAt = at
		}

		return executeWithRuntime(cmd, func(r *runtime.RuntimeComponents) error {
			stored, err := r.AddMessage(r.Ctx, msg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Stored message %s\n", stored.ID)
			return nil
		})
	},
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent messages sent by a user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			return fmt.Errorf("--limit must be positive")
		}

		return executeWithRuntime(cmd, func(r *runtime.RuntimeComponents) error {
			msgs, err := r.History.FetchRecentMessages(r.Ctx, user, limit, time.Time{})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), runtime.NewTableFormatter().FormatMessages(msgs))
			return nil
		})
	},
}

var historyLogCmd = &cobra.Command{
	Use:   "log",
	Short: "List auto-responses sent on a responder's behalf",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		responder, _ := cmd.Flags().GetString("responder")
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			return fmt.Errorf("--limit must be positive")
		}

		return executeWithRuntime(cmd, func(r *runtime.RuntimeComponents) error {
			recs, err := r.History.ListAutoResponses(r.Ctx, responder, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), runtime.NewTableFormatter().FormatAutoResponses(recs))
			return nil
		})
	},
}

func init() {
	historyAddCmd.Flags().String("from", "", "sender ID")
	historyAddCmd.Flags().String("to", "", "recipient ID")
	historyAddCmd.Flags().StringP("message", "m", "", "message text")
	historyAddCmd.Flags().String("at", "", "send time in RFC3339 (default now)")
	_ = historyAddCmd.MarkFlagRequired("from")
	_ = historyAddCmd.MarkFlagRequired("to")
	_ = historyAddCmd.MarkFlagRequired("message")

	historyListCmd.Flags().String("user", "", "sender whose messages to list")
	historyListCmd.Flags().Int("limit", 20, "maximum number of messages")
	_ = historyListCmd.MarkFlagRequired("user")

	historyLogCmd.Flags().String("responder", "", "responder whose auto-responses to list")
	historyLogCmd.Flags().Int("limit", 20, "maximum number of entries")
	_ = historyLogCmd.MarkFlagRequired("responder")

	historyCmd.AddCommand(historyAddCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyLogCmd)
	rootCmd.AddCommand(historyCmd)
}
