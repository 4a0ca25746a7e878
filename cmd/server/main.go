package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"userhub/internal/config"
	"userhub/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		cfg    config.Config
		logger *logrus.Logger
	)

	root := &cobra.Command{
		Use:           "userhub",
		Short:         "In-memory user directory with an HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
			logger = logging.New(cfg.Log.Level, cfg.Log.Format)
			return nil
		},
	}

	var addr string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")

	var keep int
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Upload a JSON snapshot of the user collection to S3",
		RunE: func(cmd *cobra.Command, args []string) error {
			location, err := runExport(cmd.Context(), cfg, logger, keep)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), location)
			return nil
		},
	}
	exportCmd.Flags().IntVar(&keep, "keep", 0, "delete older snapshots, keeping this many (0 keeps all)")

	root.AddCommand(serveCmd, exportCmd)
	return root
}
