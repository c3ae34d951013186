package client

import (
	"bytes"
	"fmt"
	"net/http"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// NewPublishCommand constructs the `publish` command, which writes samples
// through a writer's admin endpoint.
func NewPublishCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish samples through a writer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, _ := cmd.Flags().GetString("writer")
			data, _ := cmd.Flags().GetString("data")
			file, _ := cmd.Flags().GetString("file")
			count, _ := cmd.Flags().GetInt("count")
			if w == "" {
				return errors.New("--writer is required")
			}
			payload := []byte(data)
			if file != "" {
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				payload = b
			}
			if count < 1 {
				count = 1
			}
			url := baseURL() + "/v1/writers/" + w + "/samples"
			for i := 0; i < count; i++ {
				var resp struct {
					Sequence uint64 `json:"sequence"`
				}
				if err := do(cmd.Context(), http.MethodPost, url, bytes.NewReader(payload), &resp); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "sequence: %d\n", resp.Sequence)
			}
			return nil
		},
	}
	cmd.Flags().String("writer", "", "Writer GUID")
	cmd.Flags().String("data", "", "Sample payload")
	cmd.Flags().String("file", "", "Read the payload from a file")
	cmd.Flags().Int("count", 1, "Number of samples to publish")
	return cmd
}
