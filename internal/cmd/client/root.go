package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the wharf client, registering
// the basin and stream command groups.
func NewRoot(baseURL func() string) *cobra.Command {
	root := &cobra.Command{
		Use:   "wharf",
		Short: "wharf client commands",
	}
	root.AddCommand(NewBasinCommand(baseURL))
	root.AddCommand(NewStreamCommand(baseURL))
	return root
}
