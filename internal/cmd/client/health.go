package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	grpctransport "github.com/rzbill/rtps/internal/transport/grpc"
)

// NewHealthCommand constructs the `health` command. It checks the admin
// HTTP endpoint, or the transport endpoint with --grpc.
func NewHealthCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check participant health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			useGRPC, _ := cmd.Flags().GetBool("grpc")
			addr, _ := cmd.Flags().GetString("addr")
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if useGRPC {
				if addr == "" {
					addr = grpcAddrFromEnv()
				}
				t := grpctransport.New()
				defer t.Close()
				status, err := t.Health(ctx, addr)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", status)
				return nil
			}
			var resp struct {
				Status string `json:"status"`
			}
			if err := do(ctx, http.MethodGet, baseURL()+"/healthz", nil, &resp); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", resp.Status)
			return nil
		},
	}
	cmd.Flags().Bool("grpc", false, "Check the gRPC transport endpoint instead of HTTP")
	cmd.Flags().String("addr", "", "gRPC address (default $RTPS_GRPC or 127.0.0.1:7410)")
	return cmd
}

// NewParticipantCommand constructs the `participant` command.
func NewParticipantCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "participant",
		Short: "Show the participant summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp map[string]any
			if err := do(cmd.Context(), http.MethodGet, baseURL()+"/v1/participant", nil, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}
