package client

import (
	"net/http"
	"strconv"

	"github.com/c2h5oh/datasize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rzbill/rtps/internal/writer"
)

// NewWritersCommand constructs the `writers` command group.
func NewWritersCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "writers", Short: "Inspect writers"}
	cmd.AddCommand(newWritersListCommand(baseURL), newWritersGetCommand(baseURL))
	return cmd
}

func newWritersListCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List writers with their history and delivery counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			var resp struct {
				Writers []writer.Stats `json:"writers"`
			}
			if err := do(cmd.Context(), http.MethodGet, baseURL()+"/v1/writers", nil, &resp); err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"GUID", "Topic", "Mode", "Durability", "History", "Bytes", "Unsent", "Readers", "Messages"})
			for _, s := range resp.Writers {
				table.Append([]string{
					s.GUID,
					s.Topic,
					s.Mode,
					s.Durability,
					strconv.Itoa(s.HistorySize),
					datasize.ByteSize(s.HistoryBytes).HR(),
					strconv.Itoa(s.Unsent),
					strconv.Itoa(s.MatchedReaders),
					strconv.FormatUint(s.Messages, 10),
				})
			}
			table.SetCaption(true, strconv.Itoa(len(resp.Writers))+" writer(s)")
			table.Render()
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Print raw JSON")
	return cmd
}

func newWritersGetCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "get GUID",
		Short: "Show a writer with its matched readers and late joiners",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]any
			if err := do(cmd.Context(), http.MethodGet, baseURL()+"/v1/writers/"+args[0], nil, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}
