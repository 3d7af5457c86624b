package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/lazypower/chronicle/internal/crypto"
	"github.com/lazypower/chronicle/internal/fact"
)

// Filter selects facts for Query. Zero values mean "no constraint", except At
// which defaults to now.
type Filter struct {
	Subject   string  `json:"subject,omitempty"`
	Predicate string  `json:"predicate,omitempty"`
	Object    *string `json:"object,omitempty"`

	At   int64  `json:"at,omitempty"`   // evaluation instant, unix ms
	From *int64 `json:"from,omitempty"` // lower bound on valid_from, inclusive
	To   *int64 `json:"to,omitempty"`   // upper bound on valid_from, inclusive

	MinConfidence     float64 `json:"min_confidence,omitempty"`
	IncludeHistorical bool    `json:"include_historical,omitempty"`
	Limit             int     `json:"limit,omitempty"`
}

// Stats summarizes the fact table.
type Stats struct {
	TotalFacts      int            `json:"total_facts"`
	ActiveFacts     int            `json:"active_facts"`
	HistoricalFacts int            `json:"historical_facts"`
	PredicateCounts map[string]int `json:"predicate_counts"`
	OldestFact      *int64         `json:"oldest_fact,omitempty"`
	NewestFact      *int64         `json:"newest_fact,omitempty"`
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// querySealed reads every matching row before returning so the connection is
// free for the caller's next statement.
func querySealed(ctx context.Context, q queryer, query string, args ...any) ([]*sealedFact, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*sealedFact
	for rows.Next() {
		sf, err := scanSealed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		out = append(out, sf)
	}
	return out, rows.Err()
}

func (db *DB) getSealed(ctx context.Context, id string) (*sealedFact, error) {
	sf, err := scanSealed(db.QueryRowContext(ctx,
		"SELECT "+factColumns+" FROM facts WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get fact: %w", err)
	}
	return sf, nil
}

// Get returns the fact with the given id, or nil if not found. Decryption
// failures are returned as errors wrapping ErrDecryption.
func (db *DB) Get(ctx context.Context, key crypto.Key, id string) (*fact.TemporalFact, error) {
	sf, err := db.getSealed(ctx, id)
	if err != nil || sf == nil {
		return nil, err
	}
	return db.open(key, sf)
}

// GetCurrent returns the active fact for subject/predicate, or nil.
func (db *DB) GetCurrent(ctx context.Context, key crypto.Key, subject, predicate string) (*fact.TemporalFact, error) {
	sf, err := scanSealed(db.QueryRowContext(ctx, `
		SELECT `+factColumns+` FROM facts INDEXED BY idx_facts_subject_predicate
		WHERE subject = ? AND predicate = ? AND valid_to IS NULL
		ORDER BY valid_from DESC LIMIT 1
	`, subject, predicate))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get current fact: %w", err)
	}
	return db.open(key, sf)
}

// indexFor picks the most selective index the filter can use.
func indexFor(f Filter) string {
	switch {
	case f.Subject != "" && f.Predicate != "":
		return "idx_facts_subject_predicate"
	case f.Subject != "":
		return "idx_facts_subject"
	case f.Predicate != "":
		return "idx_facts_predicate"
	}
	return ""
}

// Query returns facts matching f, highest confidence first (ties broken by
// most recent validFrom). Unless IncludeHistorical is set, only facts valid at
// f.At are returned: not closed, already started, and within their TTL.
//
// The object filter decrypts every candidate row; objects are never indexed in
// plaintext. Rows that fail to decrypt are logged and skipped.
func (db *DB) Query(ctx context.Context, key crypto.Key, f Filter) (facts []*fact.TemporalFact, err error) {
	ctx, span := db.startSpan(ctx, "store.Query",
		attribute.String("filter.subject", f.Subject),
		attribute.String("filter.predicate", f.Predicate),
		attribute.Bool("filter.historical", f.IncludeHistorical))
	defer func() { endSpan(span, err) }()

	at := f.At
	if at <= 0 {
		at = db.now()
	}

	var where []string
	var args []any
	if f.Subject != "" {
		where = append(where, "subject = ?")
		args = append(args, f.Subject)
	}
	if f.Predicate != "" {
		where = append(where, "predicate = ?")
		args = append(args, f.Predicate)
	}
	if !f.IncludeHistorical {
		where = append(where,
			"(valid_to IS NULL OR valid_to > ?)",
			"valid_from <= ?",
			"(ttl_seconds IS NULL OR valid_from + ttl_seconds * 1000 > ?)")
		args = append(args, at, at, at)
	}
	if f.From != nil {
		where = append(where, "valid_from >= ?")
		args = append(args, *f.From)
	}
	if f.To != nil {
		where = append(where, "valid_from <= ?")
		args = append(args, *f.To)
	}
	if f.MinConfidence > 0 {
		where = append(where, "confidence >= ?")
		args = append(args, f.MinConfidence)
	}

	var b strings.Builder
	b.WriteString("SELECT " + factColumns + " FROM facts")
	if idx := indexFor(f); idx != "" {
		b.WriteString(" INDEXED BY " + idx)
	}
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	// No SQL LIMIT: undecryptable rows and the object filter are applied
	// below, and only kept rows count toward f.Limit.
	b.WriteString(" ORDER BY confidence DESC, valid_from DESC, id")

	sealed, err := querySealed(ctx, db, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}

	facts = make([]*fact.TemporalFact, 0, len(sealed))
	for _, sf := range sealed {
		tf, err := db.open(key, sf)
		if err != nil {
			db.log.Warn("skipping undecryptable fact", "id", sf.ID, "err", err)
			continue
		}
		if f.Object != nil && tf.Object != *f.Object {
			continue
		}
		facts = append(facts, tf)
		if f.Limit > 0 && len(facts) == f.Limit {
			break
		}
	}
	span.SetAttributes(attribute.Int("facts.returned", len(facts)))
	return facts, nil
}

// GetBySubject returns the facts about subject.
func (db *DB) GetBySubject(ctx context.Context, key crypto.Key, subject string, includeHistorical bool) ([]*fact.TemporalFact, error) {
	return db.Query(ctx, key, Filter{Subject: subject, IncludeHistorical: includeHistorical})
}

// ActiveFacts returns every fact valid at at (unix ms, 0 = now).
func (db *DB) ActiveFacts(ctx context.Context, key crypto.Key, at int64) ([]*fact.TemporalFact, error) {
	return db.Query(ctx, key, Filter{At: at})
}

// Stats returns counts over the fact table. A fact is active if it has no
// validTo or its validTo is still in the future.
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	now := db.now()
	s := &Stats{PredicateCounts: make(map[string]int)}

	var oldest, newest sql.NullInt64
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN valid_to IS NULL OR valid_to > ? THEN 1 ELSE 0 END), 0),
			MIN(valid_from), MAX(valid_from)
		FROM facts
	`, now).Scan(&s.TotalFacts, &s.ActiveFacts, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("count facts: %w", err)
	}
	s.HistoricalFacts = s.TotalFacts - s.ActiveFacts
	if oldest.Valid {
		s.OldestFact = &oldest.Int64
	}
	if newest.Valid {
		s.NewestFact = &newest.Int64
	}

	rows, err := db.QueryContext(ctx, "SELECT predicate, COUNT(*) FROM facts GROUP BY predicate")
	if err != nil {
		return nil, fmt.Errorf("count predicates: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pred string
		var n int
		if err := rows.Scan(&pred, &n); err != nil {
			return nil, fmt.Errorf("scan predicate count: %w", err)
		}
		s.PredicateCounts[pred] = n
	}
	return s, rows.Err()
}
