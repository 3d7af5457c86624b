package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lazypower/chronicle/internal/fact"
	"github.com/lazypower/chronicle/internal/store"
)

func newFactCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fact",
		Short: "Create, inspect and retire facts",
	}
	cmd.AddCommand(
		newFactWriteCmd(a, "add", "Insert a fact, superseding the current one for its subject and predicate", false),
		newFactWriteCmd(a, "upsert", "Reconfirm an identical current fact or insert a new one", true),
		newFactGetCmd(a),
		newFactCurrentCmd(a),
		newFactQueryCmd(a),
		newFactUpdateCmd(a),
		newFactInvalidateCmd(a),
		newFactDeleteCmd(a),
		newFactClearCmd(a),
	)
	return cmd
}

// factFlags are the optional attributes accepted by add and upsert.
type factFlags struct {
	typ        string
	source     string
	scope      string
	confidence float64
	ttl        time.Duration
	validFrom  string
	entities   []string
	sourceID   string
}

func (ff *factFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&ff.typ, "type", "t", "", "fact type (error, state, plan, decision, observation, preference, identity)")
	fs.StringVar(&ff.source, "source", string(fact.SourceUser), "source (user, system, tool)")
	fs.StringVar(&ff.scope, "scope", "", "scope (session, device, account)")
	fs.Float64VarP(&ff.confidence, "confidence", "c", 0.8, "confidence in [0, 1]")
	fs.DurationVar(&ff.ttl, "ttl", 0, "hard expiry after valid-from, e.g. 30m")
	fs.StringVar(&ff.validFrom, "valid-from", "", "start of validity (RFC 3339 or unix ms, default now)")
	fs.StringSliceVar(&ff.entities, "entity", nil, "entity mentioned by the fact (repeatable)")
	fs.StringVar(&ff.sourceID, "source-id", "", "identifier of the originating record")
}

func (ff *factFlags) build(args []string) (*fact.TemporalFact, error) {
	f := &fact.TemporalFact{
		Subject:    args[0],
		Predicate:  args[1],
		Object:     strings.Join(args[2:], " "),
		Type:       fact.FactType(ff.typ),
		Source:     fact.Source(ff.source),
		Scope:      fact.Scope(ff.scope),
		Confidence: ff.confidence,
		Entities:   ff.entities,
	}
	if ff.ttl > 0 {
		secs := int64(ff.ttl / time.Second)
		f.TTLSeconds = &secs
	}
	if ff.validFrom != "" {
		ms, err := parseTime(ff.validFrom)
		if err != nil {
			return nil, err
		}
		f.ValidFrom = ms
	}
	if ff.sourceID != "" {
		f.SourceID = &ff.sourceID
	}
	return f, nil
}

func newFactWriteCmd(a *app, use, short string, upsert bool) *cobra.Command {
	var ff factFlags
	cmd := &cobra.Command{
		Use:   use + " <subject> <predicate> <object...>",
		Short: short,
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := ff.build(args)
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

			out := cmd.OutOrStdout()
			if !upsert {
				id, err := db.Insert(cmd.Context(), key, f)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, id)
				return nil
			}

			id, created, err := db.Upsert(cmd.Context(), key, f)
			if err != nil {
				return err
			}
			status := "confirmed"
			if created {
				status = "created"
			}
			fmt.Fprintf(out, "%s %s\n", id, status)
			return nil
		},
	}
	ff.register(cmd.Flags())
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newFactGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print a fact as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.key()
			if err != nil {
				return err
			}
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			f, err := db.Get(cmd.Context(), key, args[0])
			if err != nil {
				return err
			}
			if f == nil {
				return fmt.Errorf("fact %s: %w", args[0], store.ErrNotFound)
			}
			return printJSON(cmd.OutOrStdout(), f)
		},
	}
}

func newFactCurrentCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "current <subject> <predicate>",
		Short: "Print the active fact for a subject and predicate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.key()
			if err != nil {
				return err
			}
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			f, err := db.GetCurrent(cmd.Context(), key, args[0], args[1])
			if err != nil {
				return err
			}
			if f == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No current fact.")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), f)
		},
	}
}

func newFactQueryCmd(a *app) *cobra.Command {
	var (
		filter     store.Filter
		object, at string
		from, to   string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List facts matching a filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("object") {
				filter.Object = &object
			}
			var err error
			if at != "" {
				if filter.At, err = parseTime(at); err != nil {
					return err
				}
			}
			if filter.From, err = optionalTime(from); err != nil {
				return err
			}
			if filter.To, err = optionalTime(to); err != nil {
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

			facts, err := db.Query(cmd.Context(), key, filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, facts)
			}
			if len(facts) == 0 {
				fmt.Fprintln(out, "No facts found.")
				return nil
			}
			for _, f := range facts {
				printFact(out, f)
			}
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&filter.Subject, "subject", "s", "", "exact subject")
	fs.StringVarP(&filter.Predicate, "predicate", "p", "", "exact predicate")
	fs.StringVarP(&object, "object", "o", "", "exact object")
	fs.StringVar(&at, "at", "", "evaluate validity at this instant (RFC 3339 or unix ms)")
	fs.StringVar(&from, "from", "", "earliest valid-from")
	fs.StringVar(&to, "to", "", "latest valid-from")
	fs.Float64Var(&filter.MinConfidence, "min-confidence", 0, "minimum confidence")
	fs.BoolVar(&filter.IncludeHistorical, "historical", false, "include superseded and expired facts")
	fs.IntVarP(&filter.Limit, "limit", "n", 0, "maximum number of results")
	fs.BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newFactUpdateCmd(a *app) *cobra.Command {
	var (
		confidence float64
		meta       map[string]string
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a fact's confidence or metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u store.FactUpdate
			if cmd.Flags().Changed("confidence") {
				u.Confidence = &confidence
			}
			if len(meta) > 0 {
				u.Metadata = make(map[string]any, len(meta))
				for k, v := range meta {
					u.Metadata[k] = v
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

			return db.Update(cmd.Context(), key, args[0], u)
		},
	}
	cmd.Flags().Float64VarP(&confidence, "confidence", "c", 0, "new confidence")
	cmd.Flags().StringToStringVarP(&meta, "meta", "m", nil, "metadata key=value pairs to merge")
	return cmd
}

func newFactInvalidateCmd(a *app) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "invalidate <id>",
		Short: "Close a fact's validity interval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ms int64
			if at != "" {
				var err error
				if ms, err = parseTime(at); err != nil {
					return err
				}
			}
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			return db.Invalidate(cmd.Context(), args[0], ms)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "end of validity (RFC 3339 or unix ms, default now)")
	return cmd
}

func newFactDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Permanently remove a fact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			return db.Delete(cmd.Context(), args[0])
		},
	}
}

func newFactClearCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every fact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear without --yes")
			}
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := db.ClearAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d facts.\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion of all facts")
	return cmd
}

// parseTime accepts RFC 3339 or unix milliseconds.
func parseTime(s string) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: want RFC 3339 or unix ms", s)
	}
	return t.UnixMilli(), nil
}

func optionalTime(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	ms, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &ms, nil
}

func formatTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func printFact(w io.Writer, f *fact.TemporalFact) {
	until := "now"
	if f.ValidTo != nil {
		until = formatTime(*f.ValidTo)
	}
	fmt.Fprintf(w, "%s  %s\n", f.ID, fact.Content(f))
	fmt.Fprintf(w, "    [%s] confidence %.2f, %s .. %s\n", f.Type, f.Confidence, formatTime(f.ValidFrom), until)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
