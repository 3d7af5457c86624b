package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lazypower/chronicle/internal/engine"
	"github.com/lazypower/chronicle/internal/server"
)

func newContextCmd(a *app) *cobra.Command {
	var (
		limit        int
		memoriesFile string
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "context <query...>",
		Short: "Assemble ranked context for a query",
		Long: `Rank the facts valid now, plus any memories from --memories, against the
query and print the resulting context block. Similarities come from the
configured embedding provider.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := engine.Request{
				Query: strings.Join(args, " "),
				Limit: limit,
			}
			if memoriesFile != "" {
				data, err := os.ReadFile(memoriesFile)
				if err != nil {
					return fmt.Errorf("read memories: %w", err)
				}
				if err := yaml.Unmarshal(data, &req.Memories); err != nil {
					return fmt.Errorf("decode memories: %w", err)
				}
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

			ctx := cmd.Context()
			if score := a.scorer(ctx); score != nil {
				if err := server.FillSimilarities(ctx, db, key, score, &req); err != nil {
					a.log.Warn("similarity scoring failed", "err", err)
				}
			}

			eng := engine.New(db, engine.WithLogger(a.log), engine.WithDefaultLimit(a.cfg.Context.Limit))
			res, err := eng.BuildContext(ctx, key, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, res)
			}
			if res.Text == "" {
				fmt.Fprintln(out, "No relevant context.")
				return nil
			}
			fmt.Fprintln(out, res.Text)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum candidates (default context.limit)")
	cmd.Flags().StringVar(&memoriesFile, "memories", "", "YAML or JSON list of memories to rank alongside facts")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the ranked candidates as JSON")
	return cmd
}
