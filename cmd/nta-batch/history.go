package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/nta-batch/internal/runstore"
)

var historyLimit int

func init() {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List past runs",
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")
	rootCmd.AddCommand(historyCmd)

	showCmd := &cobra.Command{
		Use:   "show RUN",
		Short: "Show samples and events of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	rootCmd.AddCommand(showCmd)
}

func openStore() (*runstore.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return runstore.New(cfg.General.DatabasePath)
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tDURATION\tSAMPLES\tOUTCOME")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			shortID(r.ID), humanize.Time(r.StartedAt), runDuration(r), r.SampleCount, outcomeText(r))
	}
	return w.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := findRun(store, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Run:      %s\n", run.ID)
	fmt.Printf("Started:  %s (%s)\n", run.StartedAt.Format("2006-01-02 15:04:05"), humanize.Time(run.StartedAt))
	fmt.Printf("Duration: %s\n", runDuration(run))
	fmt.Printf("Outcome:  %s\n", outcomeText(run))
	if run.BridgePort != "" {
		fmt.Printf("Bridge:   %s\n", run.BridgePort)
	}
	fmt.Println()

	samples, err := store.ListSamples(run.ID)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSAMPLE\tACQUISITION\tPROCESSING\tDIRECTORY")
	for _, s := range samples {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", s.Index+1, s.Name, s.Acquisition.Label(), s.Processing.Label(), s.OutputDirectory)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	events, err := store.ListEvents(run.ID)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		fmt.Println()
		for _, e := range events {
			fmt.Printf("%s  %-8s %s\n", e.Timestamp.Format("15:04:05"), e.Kind, e.Message)
		}
	}
	return nil
}

// findRun accepts a full run ID or a unique prefix of one
func findRun(store *runstore.Store, id string) (*runstore.Run, error) {
	run, err := store.GetRun(id)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, runstore.ErrNotFound) {
		return nil, err
	}

	runs, err := store.ListRuns(0)
	if err != nil {
		return nil, err
	}
	var found *runstore.Run
	for _, r := range runs {
		if strings.HasPrefix(r.ID, id) {
			if found != nil {
				return nil, fmt.Errorf("run ID %q is ambiguous", id)
			}
			found = r
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", runstore.ErrNotFound, id)
	}
	return found, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runDuration(r *runstore.Run) string {
	if !r.Finished() {
		return "running"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
}

func outcomeText(r *runstore.Run) string {
	if r.Outcome == "" {
		return "-"
	}
	return string(r.Outcome)
}
