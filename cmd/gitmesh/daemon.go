package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gitmesh/gitmesh/internal/daemon"
	"github.com/gitmesh/gitmesh/internal/version"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newDaemonCmd())
}

func newDaemonCmd() *cobra.Command {
	var addr string
	var authToken string

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Start the GitMesh daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			showHeader()

			slog.Info("gitmesh", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)

			if cmd.Flag("http-addr").Changed || cfg.ControlPlane.Addr == "" {
				cfg.ControlPlane.Addr = addr
			}
			if cmd.Flag("http-token").Changed {
				cfg.ControlPlane.Token = authToken
			}

			d, err := daemon.New(cfg)
			if err != nil {
				return err
			}

			defer slog.Info("Bye!")
			if err := d.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("daemon start", "error", err)
				return err
			}
			return nil
		},
	}

	daemonCmd.Flags().StringVarP(&addr, "http-addr", "a", "localhost:7641", "Address to bind the control plane server")
	daemonCmd.Flags().StringVarP(&authToken, "http-token", "t", "", "Access token for the control plane server")

	return daemonCmd
}
