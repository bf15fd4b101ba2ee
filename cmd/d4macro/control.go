package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"d4macro/internal/network"
	"d4macro/internal/protocol"

	"github.com/spf13/cobra"
)

// serviceTarget resolves the API address and token from flags, then config
func serviceTarget(g *globalFlags) (addr, token string, err error) {
	addr, token = g.addr, g.token
	if addr != "" && token != "" {
		return addr, token, nil
	}

	cfgMgr, err := loadConfig(g.configPath)
	if err != nil {
		return "", "", err
	}
	general := cfgMgr.Get().General
	if addr == "" {
		addr = fmt.Sprintf("127.0.0.1:%d", general.APIPort)
	}
	if token == "" {
		token = general.APIToken
	}
	return addr, token, nil
}

func controlClient(g *globalFlags) (*network.Client, error) {
	addr, token, err := serviceTarget(g)
	if err != nil {
		return nil, err
	}
	return network.NewClient(addr, token), nil
}

func newProfileActionCmd(g *globalFlags, action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <profile-id>",
		Short: fmt.Sprintf("Ask the running service to %s a profile", action),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := controlClient(g)
			if err != nil {
				return err
			}
			if err := client.ProfileAction(cmd.Context(), args[0], action); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s ok\n", args[0], action)
			return nil
		},
	}
}

func newBulkCmd(g *globalFlags, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := controlClient(g)
			if err != nil {
				return err
			}

			var status protocol.StatusPayload
			switch use {
			case "stop-all":
				status, err = client.StopAll(cmd.Context())
			case "pause-all":
				status, err = client.PauseAll(cmd.Context())
			case "resume-all":
				status, err = client.ResumeAll(cmd.Context())
			}
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the run state of the service",
		Long:  "Shows the aggregate state and every started profile. Use --follow to stream updates.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if follow {
				return followStatus(cmd, g)
			}
			client, err := controlClient(g)
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream status updates until interrupted")
	return cmd
}

func followStatus(cmd *cobra.Command, g *globalFlags) error {
	addr, token, err := serviceTarget(g)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	updates := make(chan protocol.StatusPayload, 16)

	sc := network.NewStatusClient(addr, token)
	sc.OnStatus = func(s protocol.StatusPayload) {
		select {
		case updates <- s:
		default:
		}
	}
	sc.OnError = func(msg string) {
		fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", msg)
	}
	sc.Start()
	defer sc.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-updates:
			printStatus(out, s)
		}
	}
}

func printStatus(w io.Writer, s protocol.StatusPayload) {
	fmt.Fprintf(w, "State: %s (%d running)\n", s.State, s.Running)
	if len(s.Profiles) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE\tSTARTED")
	for _, p := range s.Profiles {
		started := "-"
		if !p.StartedAt.IsZero() {
			started = p.StartedAt.Local().Format(time.TimeOnly)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.State, started)
	}
	tw.Flush()
}

func newProfilesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List configured profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgMgr, err := loadConfig(g.configPath)
			if err != nil {
				return err
			}

			states := liveStates(cmd.Context(), g)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tKEY\tSLOTS\tSTATE")
			for _, p := range cfgMgr.GetProfiles() {
				enabled := 0
				for _, s := range p.SkillSlots {
					if s.Enabled && s.Key != "" {
						enabled++
					}
				}
				state, ok := states[p.ID]
				if !ok {
					state = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", p.ID, p.Name, p.StartStopKey, enabled, state)
			}
			return tw.Flush()
		},
	}
}

// liveStates asks a running service for profile states; empty when none answers
func liveStates(ctx context.Context, g *globalFlags) map[string]string {
	client, err := controlClient(g)
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	profiles, err := client.Profiles(ctx)
	if err != nil {
		return nil
	}
	states := make(map[string]string, len(profiles))
	for _, p := range profiles {
		states[p.ID] = p.State
	}
	return states
}
