// D4Macro - skill rotation automation for Diablo IV
// Presses configured skill keys on independent per-slot cadences.
package main

import (
	"fmt"
	"os"

	"d4macro/internal/config"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath string
	addr       string
	token      string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "d4macro",
		Short:         "D4Macro - timed skill key automation",
		Long:          "D4Macro presses skill keys on per-slot cadences while a profile runs, toggled by global hotkeys.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "path to config file (.json, .yaml or .yml)")
	cmd.PersistentFlags().StringVar(&g.addr, "addr", "", "address of a running service (default 127.0.0.1:<api_port>)")
	cmd.PersistentFlags().StringVar(&g.token, "token", "", "API token (default api_token from config)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd(g))
	for _, action := range []string{"start", "stop", "pause", "resume"} {
		cmd.AddCommand(newProfileActionCmd(g, action))
	}
	cmd.AddCommand(newBulkCmd(g, "stop-all", "Stop every profile and release held keys"))
	cmd.AddCommand(newBulkCmd(g, "pause-all", "Pause every running profile"))
	cmd.AddCommand(newBulkCmd(g, "resume-all", "Resume every paused profile"))
	cmd.AddCommand(newStatusCmd(g))
	cmd.AddCommand(newProfilesCmd(g))
	cmd.AddCommand(newAutostartCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "d4macro %s (commit: %s)\n", Version, Commit)
		},
	}
}

// loadConfig opens the config at path, or the platform default when empty
func loadConfig(path string) (*config.Manager, error) {
	var (
		cfgMgr *config.Manager
		err    error
	)
	if path != "" {
		cfgMgr = config.NewManagerAt(path)
	} else {
		cfgMgr, err = config.NewManager()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize config: %w", err)
		}
	}

	if err := cfgMgr.Load(); err != nil {
		return nil, err
	}
	return cfgMgr, nil
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
