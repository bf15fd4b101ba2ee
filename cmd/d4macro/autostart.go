package main

import (
	"fmt"

	"d4macro/internal/autostart"

	"github.com/spf13/cobra"
)

func newAutostartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autostart",
		Short: "Manage starting the service on login",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "enable",
		Short: "Start d4macro run on login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := autostart.Enable(); err != nil {
				return fmt.Errorf("enable autostart: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Autostart enabled")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "disable",
		Short: "Stop starting on login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := autostart.Disable(); err != nil {
				return fmt.Errorf("disable autostart: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Autostart disabled")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether autostart is enabled",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			state := "disabled"
			if autostart.IsEnabled() {
				state = "enabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Autostart %s\n", state)
		},
	})

	return cmd
}
