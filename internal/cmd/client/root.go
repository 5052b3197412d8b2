package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the Relay client.
// It registers the record and deadletter command groups.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "relay",
		Short: "Relay client commands",
	}
	root.AddCommand(NewRecordCommand(baseURL))
	root.AddCommand(NewDeadLetterCommand(baseURL))
	root.AddCommand(NewSyncCommand(baseURL))
	root.AddCommand(NewStatsCommand(baseURL))
	return root
}
