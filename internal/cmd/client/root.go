package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the admin client.
// It registers the writers, publish and health commands.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "rtps",
		Short: "RTPS participant admin commands",
	}
	AddCommands(root, baseURL)
	return root
}

// AddCommands attaches the client commands to an existing root.
func AddCommands(root *cobra.Command, baseURL BaseURLFunc) {
	root.AddCommand(NewWritersCommand(baseURL))
	root.AddCommand(NewPublishCommand(baseURL))
	root.AddCommand(NewParticipantCommand(baseURL))
	root.AddCommand(NewHealthCommand(baseURL))
}
