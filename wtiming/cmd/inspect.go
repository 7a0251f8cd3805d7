package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/workertiming/datarecording"
	"github.com/sarchlab/workertiming/tracing"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <recording.sqlite3>",
	Short: "Print the sessions and worker timing stored in a recording.",
	Args:  cobra.ExactArgs(1),
	RunE:  inspectRecording,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().String("request", "",
		"Only print the sessions of this request.")
	inspectCmd.Flags().Int("limit", 0, "Maximum number of sessions. 0 prints all.")
}

func inspectRecording(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(args[0]); err != nil {
		return err
	}

	reader := datarecording.NewReader(args[0])
	defer reader.Close()

	reader.MapTable(tracing.TableSessions, tracing.SessionRow{})
	reader.MapTable(tracing.TableWorkerTiming, tracing.WorkerTimingRow{})

	requestID, _ := cmd.Flags().GetString("request")
	limit, _ := cmd.Flags().GetInt("limit")

	sel := datarecording.Selection{
		OrderBy: "StartTime, ID",
		Limit:   limit,
	}.ForRequest(requestID)

	ctx := contextOrBackground(cmd)

	sessions, total, err := datarecording.Read[tracing.SessionRow](
		ctx, reader, tracing.TableSessions, sel)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "SESSION\tREQUEST\tCONTROLLER\tSTART\tEND\tOUTCOME\tREASON\n")

	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%.3f\t%s\t%s\n",
			s.ID, s.RequestID, s.Controller, s.StartTime, s.EndTime,
			s.Outcome, s.Reason)
	}

	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d sessions\n\n", len(sessions), total)

	rows, _, err := datarecording.Read[tracing.WorkerTimingRow](
		ctx, reader, tracing.TableWorkerTiming,
		datarecording.Selection{OrderBy: "RequestID, Seq"}.ForRequest(requestID))
	if err != nil {
		return err
	}

	return printWorkerTiming(cmd.OutOrStdout(), rows)
}

func printWorkerTiming(out io.Writer, rows []*tracing.WorkerTimingRow) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "REQUEST\tSESSION\t#\tNAME\tTYPE\tSTART\tDURATION\n")

	for _, r := range rows {
		duration := "-"
		if r.HasDuration {
			duration = fmt.Sprintf("%.3f", r.Duration)
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%.3f\t%s\n",
			r.RequestID, r.SessionID, r.Seq, r.Name, r.EntryType,
			r.StartTime, duration)
	}

	return w.Flush()
}
