// Package engine ranks stored facts against an external memory pool and
// assembles the result into prompt-ready context.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lazypower/chronicle/internal/crypto"
	"github.com/lazypower/chronicle/internal/logger"
	"github.com/lazypower/chronicle/internal/store"
)

// DefaultLimit is the number of candidates BuildContext keeps when a request
// does not say.
const DefaultLimit = 10

// Engine runs the context pipeline over a fact store.
type Engine struct {
	db     *store.DB
	log    *slog.Logger
	tracer trace.Tracer
	clock  func() time.Time
	limit  int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// WithDefaultLimit sets the candidate limit used when a request has none.
func WithDefaultLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.limit = n
		}
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer("github.com/lazypower/chronicle/internal/engine") }
}

// New creates an Engine over db.
func New(db *store.DB, opts ...Option) *Engine {
	e := &Engine{
		db:     db,
		log:    logger.Nop(),
		tracer: otel.Tracer("github.com/lazypower/chronicle/internal/engine"),
		clock:  time.Now,
		limit:  DefaultLimit,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Request is the input to BuildContext. Similarity maps are keyed by fact or
// memory id; missing ids score zero similarity.
type Request struct {
	Query              string             `json:"query"`
	FactSimilarities   map[string]float64 `json:"fact_similarities,omitempty"`
	Memories           []Memory           `json:"memories,omitempty"`
	MemorySimilarities map[string]float64 `json:"memory_similarities,omitempty"`
	Limit              int                `json:"limit,omitempty"`
	Now                int64              `json:"now,omitempty"` // unix ms, 0 = now
}

// Result is the ranked context for a request.
type Result struct {
	QueryType  QueryType         `json:"query_type"`
	Candidates []RankedCandidate `json:"candidates"`
	Text       string            `json:"context"`
}

// BuildContext loads the facts valid now, ranks them together with the
// request's memories, resolves conflicts and formats the survivors. Facts
// that make it into the result are marked as retrieved.
func (e *Engine) BuildContext(ctx context.Context, key crypto.Key, req Request) (res *Result, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.BuildContext")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	now := req.Now
	if now <= 0 {
		now = e.clock().UnixMilli()
	}
	limit := req.Limit
	if limit <= 0 {
		limit = e.limit
	}
	qt := DetectQueryType(req.Query)
	span.SetAttributes(attribute.String("query.type", string(qt)), attribute.Int("context.limit", limit))

	facts, err := e.db.ActiveFacts(ctx, key, now)
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}

	scoredFacts := RankFacts(facts, req.FactSimilarities, qt, now)
	scoredMemories := RankMemories(req.Memories, req.MemorySimilarities, now)
	candidates := GetRelevantContext(scoredFacts, scoredMemories, qt, limit)

	var retrieved []string
	for _, c := range candidates {
		if c.Kind == KindFact {
			retrieved = append(retrieved, c.ID)
		}
	}
	if err := e.db.MarkRetrieved(ctx, retrieved); err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("facts.scored", len(scoredFacts)),
		attribute.Int("memories.scored", len(scoredMemories)),
		attribute.Int("candidates.returned", len(candidates)),
	)
	e.log.Debug("context built",
		"query_type", qt, "facts", len(scoredFacts), "memories", len(scoredMemories), "candidates", len(candidates))

	return &Result{
		QueryType:  qt,
		Candidates: candidates,
		Text:       FormatForLLM(candidates),
	}, nil
}
