package client

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewDeadLetterCommand constructs the `deadletter` command group.
func NewDeadLetterCommand(baseURL BaseURLFunc) *cobra.Command {
	dlqCmd := &cobra.Command{Use: "deadletter", Short: "Dead letter operations", Aliases: []string{"dlq"}}

	dlqCmd.AddCommand(
		newDeadLetterListCommand(baseURL),
		newDeadLetterRequeueCommand(baseURL),
		newDeadLetterPurgeCommand(baseURL),
	)

	return dlqCmd
}

func newDeadLetterListCommand(baseURL BaseURLFunc) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			var resp struct {
				Records []map[string]any `json:"records"`
			}
			if err := getJSON(baseURL()+"/v1/deadletters?limit="+strconv.Itoa(limit), &resp); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, r := range resp.Records {
				_ = enc.Encode(r)
			}
			return nil
		},
	}
	listCmd.Flags().Int("limit", 100, "Max records to list")
	return listCmd
}

func newDeadLetterRequeueCommand(baseURL BaseURLFunc) *cobra.Command {
	requeueCmd := &cobra.Command{
		Use:   "requeue",
		Short: "Move a dead-lettered record back to pending",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("id")
			if id == "" {
				return fmt.Errorf("missing --id")
			}
			if err := postJSON(baseURL()+"/v1/deadletters/requeue", map[string]string{"id": id}, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "requeued:", id)
			return nil
		},
	}
	requeueCmd.Flags().String("id", "", "Record id")
	return requeueCmd
}

func newDeadLetterPurgeCommand(baseURL BaseURLFunc) *cobra.Command {
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Drop all dead-lettered records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			confirm, _ := cmd.Flags().GetBool("confirm")
			if !confirm {
				return fmt.Errorf("refusing to purge without --confirm")
			}
			var resp struct {
				Purged int `json:"purged"`
			}
			if err := postJSON(baseURL()+"/v1/deadletters/purge", map[string]any{}, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "purged:", resp.Purged)
			return nil
		},
	}
	purgeCmd.Flags().Bool("confirm", false, "Confirm the purge")
	return purgeCmd
}
