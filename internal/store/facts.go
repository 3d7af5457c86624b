package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lazypower/chronicle/internal/crypto"
	"github.com/lazypower/chronicle/internal/fact"
)

// ConfirmBoost is added to an active fact's confidence each time an upsert
// restates it verbatim.
const ConfirmBoost = 0.05

// FactUpdate carries the mutable fields of a stored fact. Nil fields are left
// unchanged.
type FactUpdate struct {
	Confidence *float64       `json:"confidence,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (db *DB) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return db.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Insert stores f under a new id. Any active fact for the same
// subject/predicate whose validFrom is not after f's is closed at f.ValidFrom.
// If the pair already has an active fact that starts later, f is stored
// already closed at that fact's validFrom so the pair keeps one active fact.
func (db *DB) Insert(ctx context.Context, key crypto.Key, f *fact.TemporalFact) (id string, err error) {
	ctx, span := db.startSpan(ctx, "store.Insert")
	defer func() { endSpan(span, err) }()

	if err := fact.Normalize(f, db.now()); err != nil {
		return "", err
	}
	sf, err := db.seal(key, f)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("fact.subject", f.Subject), attribute.String("fact.predicate", f.Predicate))

	unlock := db.locks.lock(f.Subject, f.Predicate)
	defer unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	id, err = db.insertTx(ctx, tx, sf)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit insert: %w", err)
	}

	f.ID = id
	f.ValidTo = sf.ValidTo
	return id, nil
}

// insertTx supersedes the pair's active facts and writes sf. The caller
// holds the pair lock.
func (db *DB) insertTx(ctx context.Context, tx *sql.Tx, sf *sealedFact) (string, error) {
	if sf.ValidTo == nil {
		type active struct {
			id        string
			validFrom int64
		}
		var actives []active

		rows, err := tx.QueryContext(ctx, `
			SELECT id, valid_from FROM facts
			WHERE subject = ? AND predicate = ? AND valid_to IS NULL
		`, sf.Subject, sf.Predicate)
		if err != nil {
			return "", fmt.Errorf("find active facts: %w", err)
		}
		for rows.Next() {
			var a active
			if err := rows.Scan(&a.id, &a.validFrom); err != nil {
				rows.Close()
				return "", fmt.Errorf("scan active fact: %w", err)
			}
			actives = append(actives, a)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return "", fmt.Errorf("find active facts: %w", err)
		}

		now := db.now()
		for _, a := range actives {
			if a.validFrom <= sf.ValidFrom {
				if _, err := tx.ExecContext(ctx,
					"UPDATE facts SET valid_to = ?, last_updated = ? WHERE id = ?",
					sf.ValidFrom, now, a.id,
				); err != nil {
					return "", fmt.Errorf("supersede fact %s: %w", a.id, err)
				}
				db.counters.invalidated.Add(ctx, 1)
				continue
			}
			// A newer statement already holds the pair.
			if sf.ValidTo == nil || a.validFrom < *sf.ValidTo {
				closedAt := a.validFrom
				sf.ValidTo = &closedAt
			}
		}
	}

	entities, err := encodeEntities(sf.Entities)
	if err != nil {
		return "", err
	}
	metaCT, metaIV, metaTag := blobColumns(sf.metadata)

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO facts (`+factColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, sf.Subject, sf.Predicate,
		sf.object.Ciphertext, sf.object.IV, sf.object.AuthTag,
		sf.ValidFrom, sf.ValidTo, sf.LastConfirmedAt, sf.LastUpdated,
		string(sf.Type), sf.Confidence, string(sf.Source), string(sf.Scope), sf.TTLSeconds, sf.DecayHalfLife,
		entities, sf.RetrievalCount, sf.LastRetrievedAt,
		metaCT, metaIV, metaTag, sf.SourceID)
	if err != nil {
		return "", fmt.Errorf("insert fact: %w", err)
	}

	db.counters.created.Add(ctx, 1, metric.WithAttributes(attribute.String("fact.type", string(sf.Type))))
	return id, nil
}

// Upsert reconfirms the pair's active fact when its object matches f.Object
// exactly, bumping confidence by ConfirmBoost. Otherwise it inserts f.
// created reports whether a new row was written.
func (db *DB) Upsert(ctx context.Context, key crypto.Key, f *fact.TemporalFact) (id string, created bool, err error) {
	ctx, span := db.startSpan(ctx, "store.Upsert")
	defer func() { endSpan(span, err) }()

	if err := fact.Normalize(f, db.now()); err != nil {
		return "", false, err
	}
	sf, err := db.seal(key, f)
	if err != nil {
		return "", false, err
	}
	span.SetAttributes(attribute.String("fact.subject", f.Subject), attribute.String("fact.predicate", f.Predicate))

	unlock := db.locks.lock(f.Subject, f.Predicate)
	defer unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	actives, err := querySealed(ctx, tx, `
		SELECT `+factColumns+` FROM facts
		WHERE subject = ? AND predicate = ? AND valid_to IS NULL
	`, f.Subject, f.Predicate)
	if err != nil {
		return "", false, fmt.Errorf("find active facts: %w", err)
	}

	for _, a := range actives {
		obj, err := db.openObject(key, a)
		if err != nil {
			return "", false, err
		}
		if obj != f.Object {
			continue
		}

		now := db.now()
		confidence := fact.ClampConfidence(a.Confidence + ConfirmBoost)
		if _, err := tx.ExecContext(ctx, `
			UPDATE facts SET confidence = ?, last_confirmed_at = ?, last_updated = ?
			WHERE id = ?
		`, confidence, now, now, a.ID); err != nil {
			return "", false, fmt.Errorf("confirm fact %s: %w", a.ID, err)
		}
		if err := tx.Commit(); err != nil {
			return "", false, fmt.Errorf("commit upsert: %w", err)
		}
		db.counters.confirmed.Add(ctx, 1)
		span.SetAttributes(attribute.Bool("fact.created", false))
		return a.ID, false, nil
	}

	id, err = db.insertTx(ctx, tx, sf)
	if err != nil {
		return "", false, err
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit upsert: %w", err)
	}
	f.ID = id
	f.ValidTo = sf.ValidTo
	span.SetAttributes(attribute.Bool("fact.created", true))
	return id, true, nil
}

// Update applies u to the fact with the given id. Metadata keys are merged
// over the existing metadata. Returns ErrNotFound if the id is unknown.
func (db *DB) Update(ctx context.Context, key crypto.Key, id string, u FactUpdate) (err error) {
	ctx, span := db.startSpan(ctx, "store.Update", attribute.String("fact.id", id))
	defer func() { endSpan(span, err) }()

	sf, err := db.getSealed(ctx, id)
	if err != nil {
		return err
	}
	if sf == nil {
		return fmt.Errorf("update %s: %w", id, ErrNotFound)
	}

	sets := []string{"last_updated = ?"}
	args := []any{db.now()}

	if u.Confidence != nil {
		sets = append(sets, "confidence = ?")
		args = append(args, fact.ClampConfidence(*u.Confidence))
	}
	if u.Metadata != nil {
		merged, err := db.openMetadata(key, sf)
		if err != nil {
			return err
		}
		if merged == nil {
			merged = make(map[string]any, len(u.Metadata))
		}
		for k, v := range u.Metadata {
			merged[k] = v
		}
		blob, err := db.sealMetadata(key, merged)
		if err != nil {
			return err
		}
		ct, iv, tag := blobColumns(blob)
		sets = append(sets, "metadata_ct = ?", "metadata_iv = ?", "metadata_tag = ?")
		args = append(args, ct, iv, tag)
	}

	args = append(args, id)
	res, err := db.ExecContext(ctx, "UPDATE facts SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update fact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	return nil
}

// Invalidate closes the fact at at (unix ms). at <= 0 means now.
// Returns ErrNotFound if the id is unknown.
func (db *DB) Invalidate(ctx context.Context, id string, at int64) (err error) {
	ctx, span := db.startSpan(ctx, "store.Invalidate", attribute.String("fact.id", id))
	defer func() { endSpan(span, err) }()

	now := db.now()
	if at <= 0 {
		at = now
	}
	res, err := db.ExecContext(ctx,
		"UPDATE facts SET valid_to = ?, last_updated = ? WHERE id = ?", at, now, id)
	if err != nil {
		return fmt.Errorf("invalidate fact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("invalidate %s: %w", id, ErrNotFound)
	}
	db.counters.invalidated.Add(ctx, 1)
	return nil
}

// Delete removes a fact. Deleting an unknown id is not an error.
func (db *DB) Delete(ctx context.Context, id string) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM facts WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete fact: %w", err)
	}
	return nil
}

// ClearAll removes every fact and returns how many were deleted.
func (db *DB) ClearAll(ctx context.Context) (int, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM facts")
	if err != nil {
		return 0, fmt.Errorf("clear facts: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MarkRetrieved records that the given facts were injected into a context.
func (db *DB) MarkRetrieved(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, db.now())
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	_, err := db.ExecContext(ctx, `
		UPDATE facts SET retrieval_count = retrieval_count + 1, last_retrieved_at = ?
		WHERE id IN (`+strings.Join(placeholders, ",")+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("mark retrieved: %w", err)
	}
	return nil
}
