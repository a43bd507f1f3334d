package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/xandylearning/zulip-sub000/cmd/autoreply/runtime"

	"github.com/xandylearning/zulip-sub000/internal/orchestrator"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Decide whether to auto-respond to a message",
	Long:  `Run the full pipeline for one incoming message and print the outcome: the decision, the drafted reply and suggested next actions.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		requester, _ := cmd.Flags().GetString("requester")
		responder, _ := cmd.Flags().GetString("responder")
		message, _ := cmd.Flags().GetString("message")
		tenant, _ := cmd.Flags().GetString("tenant")
		format, _ := cmd.Flags().GetString("output")

		format = strings.ToLower(strings.TrimSpace(format))
		if !validOutputFormat(format) {
			return fmt.Errorf("unknown output format %q (use table, json or yaml)", format)
		}

		return executeWithRuntime(cmd, func(r *runtime.RuntimeComponents) error {
			out := r.Evaluate(r.Ctx, orchestrator.Request{
				RequesterID: requester,
				ResponderID: responder,
				TenantID:    tenant,
				Message:     message,
			})
			return writeOutcome(cmd.OutOrStdout(), out, format)
		})
	},
}

func validOutputFormat(format string) bool {
	switch format {
	case outputTable, outputJSON, outputYAML:
		return true
	}
	return false
}

func writeOutcome(w io.Writer, out orchestrator.Outcome, format string) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case outputYAML:
		// Round-trip through JSON so field names match the json tags.
		raw, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("encode outcome: %w", err)
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode outcome: %w", err)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode outcome: %w", err)
		}
		return enc.Close()
	default:
		_, err := fmt.Fprintln(w, runtime.NewTableFormatter().FormatOutcome(out))
		return err
	}
}

func init() {
	evaluateCmd.Flags().String("requester", "", "ID of the user who sent the message")
	evaluateCmd.Flags().String("responder", "", "ID of the absent user the reply would be sent for")
	evaluateCmd.Flags().StringP("message", "m", "", "incoming message text")
	evaluateCmd.Flags().String("tenant", "", "optional tenant ID")
	evaluateCmd.Flags().StringP("output", "o", outputTable, "output format (table, json, yaml)")
	_ = evaluateCmd.MarkFlagRequired("requester")
	_ = evaluateCmd.MarkFlagRequired("responder")
	_ = evaluateCmd.MarkFlagRequired("message")
	rootCmd.AddCommand(evaluateCmd)
}
