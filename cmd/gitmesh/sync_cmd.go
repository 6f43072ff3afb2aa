package main

import (
	"github.com/gitmesh/gitmesh/internal/daemon"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSyncCmd())
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [source...]",
		Short: "Push changed branches to all peers once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			d, err := daemon.New(cfg)
			if err != nil {
				return err
			}
			return daemon.RunOnce(cmd.Context(), d, args)
		},
	}
}
