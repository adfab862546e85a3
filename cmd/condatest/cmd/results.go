package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/anaconda/anaconda-cli-testing/internal/report"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Show recorded flow outcomes",
	Long: `List recent flow outcomes from the results database and the pass
rate per scenario. Requires --results pointing at a database written by
earlier runs.`,
	RunE: runResults,
}

var resultsLimit int

func init() {
	rootCmd.AddCommand(resultsCmd)
	resultsCmd.Flags().IntVar(&resultsLimit, "limit", 20, "Number of entries to show")
}

func runResults(cmd *cobra.Command, args []string) error {
	if rootResultsDB == "" {
		return fmt.Errorf("--results is required")
	}

	store, err := report.OpenAt(rootResultsDB)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(resultsLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no recorded outcomes")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tSCENARIO\tFLOW\tPASSED\tEXIT\tSTATE VIA\tDURATION")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%d\t%s\t%s\n",
			e.StartedAt.Local().Format(time.DateTime),
			e.Scenario,
			e.FlowID,
			e.Passed,
			e.ExitCode,
			e.StateProvenance,
			e.Duration.Round(time.Millisecond))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	passed, total, err := store.PassRate("")
	if err != nil {
		return err
	}
	fmt.Printf("\n%d/%d passed\n", passed, total)
	return nil
}
