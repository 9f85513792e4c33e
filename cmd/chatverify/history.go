package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ternarybob/chatverify/internal/report"
	"github.com/ternarybob/chatverify/internal/storage"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent verification runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var (
	historyLimit int
	historyRunID string
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of runs to list (0 for all)")
	historyCmd.Flags().StringVar(&historyRunID, "id", "", "Print the full record of one run as YAML")
}

func runHistory(cmd *cobra.Command, args []string) error {
	initLogging()

	// Listing must never wipe the history it is asked to show
	storageConfig := config.Storage
	storageConfig.Badger.ResetOnStartup = false

	store, err := storage.NewRunStorage(logger, &storageConfig)
	if err != nil {
		return err
	}
	defer store.Close()

	if historyRunID != "" {
		rec, err := store.GetRun(cmd.Context(), historyRunID)
		if err != nil {
			return err
		}
		data, err := report.Marshal(rec, report.FormatYAML)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	runs, err := store.ListRuns(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tRESULT\tSCENARIO\tDURATION\tFAILED STEP\tTARGET\tID")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Result(),
			r.Scenario,
			r.Duration().Round(time.Millisecond),
			dash(r.FailedStep),
			r.TargetURL,
			r.ID,
		)
	}
	return w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
