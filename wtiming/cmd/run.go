package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/sarchlab/workertiming/redirect"
	"github.com/sarchlab/workertiming/scenario"
	"github.com/sarchlab/workertiming/simulation"
	"github.com/sarchlab/workertiming/timing"
)

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Replay a scenario and print the published entries as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE:  runScenario,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("policy", "",
		"Redirect policy, origin-sensitive or discard-always.")
	runCmd.Flags().String("db", "",
		"Record sessions and entries to this SQLite file.")
	runCmd.Flags().Bool("monitor", false,
		"Serve the monitor and keep running until interrupted.")
	runCmd.Flags().Int("port", 0, "Port of the monitor. 0 picks a free port.")
	runCmd.Flags().Float64("timeout", 0,
		"Discard sessions open for longer than this many ms. 0 disables.")
	runCmd.Flags().BoolP("verbose", "v", false,
		"Log session lifecycle events to stderr.")
}

func runScenario(cmd *cobra.Command, args []string) error {
	config, err := configFromFlags(cmd)
	if err != nil {
		return err
	}

	s, err := scenario.Load(args[0])
	if err != nil {
		return err
	}

	sim := simulation.MakeBuilder().
		WithConfig(config).
		WithLogWriter(cmd.ErrOrStderr()).
		Build()
	defer sim.Terminate()

	report, err := scenario.NewRunner(sim, s).Run()
	if err != nil {
		return err
	}

	if err := writeReport(cmd.OutOrStdout(), report); err != nil {
		return err
	}

	for _, f := range report.Failures {
		fmt.Fprintln(cmd.ErrOrStderr(), f.Error())
	}

	if sim.Monitor() != nil {
		fmt.Fprintf(cmd.ErrOrStderr(),
			"Monitor running at %s, press Ctrl+C to exit.\n", sim.MonitorURL())

		ctx, stop := signal.NotifyContext(contextOrBackground(cmd), os.Interrupt)
		defer stop()
		<-ctx.Done()
	}

	return nil
}

func configFromFlags(cmd *cobra.Command) (simulation.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	config, err := simulation.LoadConfig(path)
	if err != nil {
		return config, err
	}

	flags := cmd.Flags()

	if flags.Changed("policy") {
		p, _ := flags.GetString("policy")

		config.RedirectPolicy, err = redirect.ParsePolicy(p)
		if err != nil {
			return config, err
		}
	}

	if flags.Changed("db") {
		config.DBPath, _ = flags.GetString("db")
	}

	if flags.Changed("monitor") {
		config.Monitor, _ = flags.GetBool("monitor")
	}

	if flags.Changed("port") {
		config.MonitorPort, _ = flags.GetInt("port")
	}

	if flags.Changed("timeout") {
		t, _ := flags.GetFloat64("timeout")
		if t < 0 {
			return config, fmt.Errorf("timeout must not be negative, got %v", t)
		}

		config.SessionTimeout = timing.VTimeInMs(t)
	}

	if flags.Changed("verbose") {
		config.Verbose, _ = flags.GetBool("verbose")
	}

	return config, nil
}

func writeReport(w io.Writer, report *scenario.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(report)
}

// contextOrBackground is used when a command runs without Execute.
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}

	return context.Background()
}
