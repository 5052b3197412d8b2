// Package client contains Cobra CLI commands for Relay.
package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

// NewRecordCommand constructs the `record` command group and subcommands.
func NewRecordCommand(baseURL BaseURLFunc) *cobra.Command {
	recordCmd := &cobra.Command{Use: "record", Short: "Record operations"}

	recordCmd.AddCommand(
		newRecordEnqueueCommand(baseURL),
		newRecordGetCommand(baseURL),
	)

	return recordCmd
}

func newRecordEnqueueCommand(baseURL BaseURLFunc) *cobra.Command {
	enqueueCmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a record for delivery",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("id")
			data, _ := cmd.Flags().GetString("data")
			dataFile, _ := cmd.Flags().GetString("data-file")

			payload := []byte(data)
			if dataFile != "" {
				b, err := os.ReadFile(dataFile)
				if err != nil {
					return err
				}
				payload = b
			}
			if len(payload) == 0 {
				return fmt.Errorf("missing --data or --data-file")
			}

			var resp struct {
				ID string `json:"id"`
			}
			if err := postJSON(baseURL()+"/v1/enqueue", map[string]any{"id": id, "payload": payload}, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "id:", resp.ID)
			return nil
		},
	}
	enqueueCmd.Flags().String("id", "", "Record id (generated when empty; re-using an id is a no-op)")
	enqueueCmd.Flags().String("data", "", "Payload bytes")
	enqueueCmd.Flags().String("data-file", "", "Read payload from file")
	return enqueueCmd
}

func newRecordGetCommand(baseURL BaseURLFunc) *cobra.Command {
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Show a record's delivery state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("id")
			if id == "" {
				return fmt.Errorf("missing --id")
			}
			var rec map[string]any
			if err := getJSON(baseURL()+"/v1/records/get?id="+url.QueryEscape(id), &rec); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
	getCmd.Flags().String("id", "", "Record id")
	return getCmd
}

// NewSyncCommand constructs the `sync` command, forcing an immediate drain.
func NewSyncCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Trigger an immediate delivery cycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := postJSON(baseURL()+"/v1/sync", map[string]any{}, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sync requested")
			return nil
		},
	}
}

// NewStatsCommand constructs the `stats` command.
func NewStatsCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth and breaker state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var stats map[string]any
			if err := getJSON(baseURL()+"/v1/stats", &stats); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}
