package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newStatsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show fact counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			st, err := db.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, st)
			}

			fmt.Fprintf(out, "Facts:      %d\n", st.TotalFacts)
			fmt.Fprintf(out, "Active:     %d\n", st.ActiveFacts)
			fmt.Fprintf(out, "Historical: %d\n", st.HistoricalFacts)
			if st.OldestFact != nil {
				fmt.Fprintf(out, "Oldest:     %s\n", formatTime(*st.OldestFact))
				fmt.Fprintf(out, "Newest:     %s\n", formatTime(*st.NewestFact))
			}
			if len(st.PredicateCounts) == 0 {
				return nil
			}

			preds := make([]string, 0, len(st.PredicateCounts))
			for p := range st.PredicateCounts {
				preds = append(preds, p)
			}
			sort.Strings(preds)
			fmt.Fprintln(out, "\nPredicates:")
			for _, p := range preds {
				fmt.Fprintf(out, "  %-24s %d\n", p, st.PredicateCounts[p])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
