package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dreamup/checkin-agent/internal/db"
)

var (
	historyStatus string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent check-in runs",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVarP(&historyStatus, "status", "s", "all", "Only show runs with this status")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of runs to show")
	historyCmd.Flags().String("db", "", "Run database path (default <work-dir>/checkin.db)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfg.DBPath); err != nil {
		return fmt.Errorf("no run database at %s: %w", cfg.DBPath, err)
	}
	store, err := db.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(historyStatus, historyLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	total, err := store.CountRuns(historyStatus)
	if err != nil {
		return fmt.Errorf("failed to count runs: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tUSER\tSTATUS\tPOINTS\tCAPTCHA\tMESSAGE")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Username, r.Status, r.Points, r.CaptchaAttempts, r.Message)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d of %d runs shown\n", len(runs), total)
	return nil
}
