package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"donorline/internal/app"
	donorlinesdk "donorline/sdk/go"
)

// simulateCmd drives runs over HTTP: runs live inside the serve process.
func simulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Control simulation runs on a running server",
		Long:  "Start, pause, resume, stop and inspect simulation runs. Requires 'dl serve' reachable at --server.",
	}
	cmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "server base URL")
	cmd.PersistentFlags().String("api-key", "", "API key (or DONORLINE_API_KEY)")
	cmd.PersistentFlags().String("token", "", "bearer token (or DONORLINE_TOKEN)")
	_ = viper.BindPFlag("server", cmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("api-key", cmd.PersistentFlags().Lookup("api-key"))
	_ = viper.BindPFlag("token", cmd.PersistentFlags().Lookup("token"))

	cmd.AddCommand(simulateStartCmd())
	cmd.AddCommand(simulateStopCmd())
	cmd.AddCommand(simulatePauseCmd())
	cmd.AddCommand(simulateResumeCmd())
	cmd.AddCommand(simulateStatusCmd())
	return cmd
}

func newClient(ctx context.Context) (*donorlinesdk.Client, error) {
	orgID := viper.GetString("org")
	if orgID == "" {
		e, cleanup, err := openEngine()
		if err != nil {
			return nil, err
		}
		orgID, _, err = app.ResolveOrgAndConfig(ctx, e, "", viper.GetString("actor-id"))
		cleanup()
		if err != nil {
			return nil, err
		}
	}
	c := donorlinesdk.New(viper.GetString("server"), orgID)
	c.APIKey = viper.GetString("api-key")
	c.BearerToken = viper.GetString("token")
	c.ActorID = viper.GetString("actor-id")
	return c, nil
}

func simulateStartCmd() *cobra.Command {
	var target, types string
	var donorLimit, speed int
	var realism float64
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a run, replacing the organization's active run",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			opts := donorlinesdk.StartOptions{TargetDonorID: target}
			if cmd.Flags().Changed("donor-limit") {
				opts.DonorLimit = &donorLimit
			}
			if cmd.Flags().Changed("speed") {
				opts.Speed = &speed
			}
			if cmd.Flags().Changed("realism") {
				opts.Realism = &realism
			}
			if types != "" {
				opts.ActivityTypes = parseToggles(types)
			}
			res, err := c.StartSimulation(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			fmt.Printf("%s (run %s)\n", res.Message, res.RunID)
			fmt.Printf("donors=%d speed=%d realism=%.2f types=%s\n", res.Config.DonorLimit, res.Config.Speed, res.Config.Realism, formatToggles(res.Config.ActivityTypes))
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "focus the run on one existing donor")
	cmd.Flags().IntVar(&donorLimit, "donor-limit", 0, "simulated donors to create (1-1000)")
	cmd.Flags().IntVar(&speed, "speed", 0, "speed 1-10")
	cmd.Flags().Float64Var(&realism, "realism", 0, "realism 0.1-1.0")
	cmd.Flags().StringVar(&types, "types", "", "enabled activity types, comma separated (e.g. DONATION,MEETING)")
	return cmd
}

// parseToggles enables the listed types and disables the rest.
func parseToggles(list string) []donorlinesdk.ActivityToggle {
	enabled := map[string]bool{}
	for _, t := range strings.Split(list, ",") {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			enabled[t] = true
		}
	}
	var out []donorlinesdk.ActivityToggle
	for _, t := range []string{"DONATION", "COMMUNICATION", "MEETING", "TASK"} {
		out = append(out, donorlinesdk.ActivityToggle{Type: t, Enabled: enabled[t]})
		delete(enabled, t)
	}
	for t := range enabled {
		out = append(out, donorlinesdk.ActivityToggle{Type: t, Enabled: true})
	}
	return out
}

func formatToggles(ts []donorlinesdk.ActivityToggle) string {
	var on []string
	for _, t := range ts {
		if t.Enabled {
			on = append(on, t.Type)
		}
	}
	return strings.Join(on, ",")
}

func simulateStopCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a run, or every active run of the organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			res, err := c.StopSimulation(cmd.Context(), runID)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			fmt.Println(res.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	return cmd
}

func simulatePauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the running simulation",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			res, err := c.PauseSimulation(cmd.Context())
			if err != nil {
				return err
			}
			return printState(res)
		},
	}
}

func simulateResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume the paused simulation",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			res, err := c.ResumeSimulation(cmd.Context())
			if err != nil {
				return err
			}
			return printState(res)
		},
	}
}

func printState(res donorlinesdk.StateResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	fmt.Println(res.Message)
	return nil
}

func simulateStatusCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show active runs and their counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			res, err := c.SimulationStatus(cmd.Context(), runID)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			if res.Count == 0 {
				fmt.Println("No active simulation")
				return nil
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Run", "Status", "Speed", "Donors", "Ticks", "Activities", "Donations", "Last Tick", "Error"})
			for _, r := range res.Runs {
				tw.AppendRow(table.Row{r.RunID, r.Status, r.Config.Speed, r.DonorCount, r.Stats.Ticks, r.Stats.ActivitiesPersisted, r.Stats.DonationsGenerated, r.LastTickAt, r.LastError})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	return cmd
}
