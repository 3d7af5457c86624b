package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lazypower/chronicle/internal/fact"
)

const importLongDesc = `Import extracted fact candidates from a YAML or JSON file.

The file holds a list of candidates, or a document with a top-level "facts"
list:

  facts:
    - subject: user
      predicate: prefers
      object: TypeScript over JavaScript
      confidence: 0.8
      type: preference
      source: tool

Each candidate is validated (predicates are normalized to snake_case, long
objects are truncated) and upserted, so re-importing the same file reconfirms
facts instead of duplicating them. Invalid candidates, including those
without a type or source, are skipped.`

func newImportCmd(a *app) *cobra.Command {
	var sourceID string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import fact candidates from YAML or JSON",
		Long:  importLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer file.Close()

			candidates, err := fact.LoadCandidates(file)
			if err != nil {
				return err
			}

			key, err := a.key()
			if err != nil {
				return err
			}
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			var created, confirmed, skipped int
			for i, c := range candidates {
				vc, err := c.Validate()
				if err != nil {
					a.log.Warn("skipping candidate", "index", i, "err", err)
					skipped++
					continue
				}
				f := vc.ToFact()
				if sourceID != "" {
					f.SourceID = &sourceID
				}
				_, isNew, err := db.Upsert(cmd.Context(), key, &f)
				if err != nil {
					return fmt.Errorf("candidate %d: %w", i, err)
				}
				if isNew {
					created++
				} else {
					confirmed++
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d candidates: %d created, %d confirmed, %d skipped.\n",
				len(candidates), created, confirmed, skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceID, "source-id", "", "identifier recorded on every imported fact")
	return cmd
}
