package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	benchcmd "github.com/rzbill/rtps/internal/cmd/bench"
	clientcmd "github.com/rzbill/rtps/internal/cmd/client"
	serverrun "github.com/rzbill/rtps/internal/cmd/server"
	cfgpkg "github.com/rzbill/rtps/internal/config"
	logpkg "github.com/rzbill/rtps/pkg/log"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rtps",
		Short: "RTPS participant CLI",
		Long:  "rtps runs a participant hosting stateless writers and inspects it through the admin API.",
	}
	rootCmd.PersistentFlags().String("config", os.Getenv("RTPS_CONFIG"), "Config file (.json, .yaml)")

	// serve
	serveCmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start a participant (gRPC transport and admin HTTP)",
		Aliases: []string{"start", "run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
				cfg.Storage.DataDir = v
			}
			if v, _ := cmd.Flags().GetString("udp"); v != "" {
				cfg.Transport.UDPListen = v
			}
			if v, _ := cmd.Flags().GetString("fsync"); v != "" {
				cfg.Storage.Fsync = v
			}
			if v, _ := cmd.Flags().GetString("log-level"); v != "" {
				cfg.Log.Level = v
			}
			if v, _ := cmd.Flags().GetString("log-format"); v != "" {
				cfg.Log.Format = v
			}
			grpcAddr, _ := cmd.Flags().GetString("grpc")
			httpAddr, _ := cmd.Flags().GetString("http")
			demo, _ := cmd.Flags().GetDuration("demo")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{
				Config:       cfg,
				GRPCAddr:     grpcAddr,
				HTTPAddr:     httpAddr,
				DemoInterval: demo,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serveCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	serveCmd.Flags().String("grpc", ":7410", "gRPC transport listen address")
	serveCmd.Flags().String("http", "", "Admin HTTP listen address (default from config, :7480)")
	serveCmd.Flags().String("udp", "", "UDP transport listen address (disabled when empty)")
	serveCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	serveCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	serveCmd.Flags().String("log-format", "", "Log format: text|json")
	serveCmd.Flags().Duration("demo", 0, "Publish a demo sample at this interval (disabled when zero)")
	rootCmd.AddCommand(serveCmd)

	// bench
	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure writer throughput against in-process readers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			opts := benchcmd.DefaultOptions()
			opts.Config = cfg
			opts.Config.Storage.DataDir = ""
			opts.Logger = logpkg.NewNopLogger()
			opts.Samples, _ = cmd.Flags().GetInt("samples")
			opts.Readers, _ = cmd.Flags().GetIntSlice("readers")
			opts.Modes, _ = cmd.Flags().GetStringSlice("modes")
			sizes, _ := cmd.Flags().GetStringSlice("payloads")
			opts.Payloads = opts.Payloads[:0]
			for _, s := range sizes {
				var b datasize.ByteSize
				if err := b.UnmarshalText([]byte(s)); err != nil {
					return fmt.Errorf("invalid --payloads value %q: %w", s, err)
				}
				opts.Payloads = append(opts.Payloads, b)
			}
			_, err = benchcmd.Run(cmd.Context(), opts, cmd.OutOrStdout())
			return err
		},
	}
	benchCmd.Flags().Int("samples", 1000, "Samples written per scenario")
	benchCmd.Flags().StringSlice("payloads", []string{"64B", "1KB", "16KB"}, "Payload sizes")
	benchCmd.Flags().IntSlice("readers", []int{1, 4}, "Reader counts")
	benchCmd.Flags().StringSlice("modes", []string{"sync", "async"}, "Publish modes")
	rootCmd.AddCommand(benchCmd)

	// config show
	configCmd := &cobra.Command{Use: "config", Short: "Configuration commands"}
	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)

	// writers, publish, participant, health
	clientcmd.AddCommands(rootCmd, clientcmd.BaseURLFromEnv)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config, overlays RTPS_* variables and validates.
func loadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfg, err
	}
	cfgpkg.FromEnv(&cfg)
	return cfg, cfg.Validate()
}
