package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/lazypower/chronicle/internal/embedding"
	"github.com/lazypower/chronicle/internal/engine"
	"github.com/lazypower/chronicle/internal/fact"
)

type contextResponse struct {
	QueryType  engine.QueryType         `json:"query_type"`
	Candidates []engine.RankedCandidate `json:"candidates"`
	Context    string                   `json:"context"`
}

func TestContextEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	var a, b idResponse
	do(t, srv, "POST", "/api/facts", `{"subject":"user","predicate":"working_on","object":"billing migration","type":"state","confidence":0.9,"source":"user"}`, &a)
	do(t, srv, "POST", "/api/facts", `{"subject":"ci","predicate":"failing_on","object":"arm64 runners","type":"error","confidence":0.7,"source":"user"}`, &b)

	body := `{"query":"what am I working on right now?","fact_similarities":{"` + a.ID + `":0.9,"` + b.ID + `":0.2},"limit":5}`
	var res contextResponse
	w := do(t, srv, "POST", "/api/context", body, &res)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	if res.QueryType != engine.QueryStateful {
		t.Errorf("query type = %q", res.QueryType)
	}
	if len(res.Candidates) != 2 || res.Candidates[0].ID != a.ID {
		t.Fatalf("candidates = %+v", res.Candidates)
	}
	if !strings.HasPrefix(res.Context, "## Current Session Facts\n- user working_on billing migration") {
		t.Errorf("context = %q", res.Context)
	}
}

func TestContextEndpointEmpty(t *testing.T) {
	srv, _ := testServer(t)

	var res contextResponse
	w := do(t, srv, "POST", "/api/context", `{"query":"who am I"}`, &res)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if res.QueryType != engine.QueryIdentity {
		t.Errorf("query type = %q", res.QueryType)
	}
	if res.Candidates == nil || len(res.Candidates) != 0 {
		t.Errorf("candidates = %v, want empty list", res.Candidates)
	}
	if res.Context != "" {
		t.Errorf("context = %q, want empty", res.Context)
	}

	if w := do(t, srv, "POST", "/api/context", `{`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("invalid json status = %d, want 400", w.Code)
	}
}

func TestContextEndpointScoresMissingSimilarities(t *testing.T) {
	srv, _ := testServer(t, WithScorer(embedding.CorpusScorer(0)))

	var editor idResponse
	do(t, srv, "POST", "/api/facts", `{"subject":"user","predicate":"prefers_editor","object":"helix editor","type":"preference","confidence":0.5,"source":"user"}`, &editor)
	do(t, srv, "POST", "/api/facts", `{"subject":"deploy","predicate":"target","object":"nomad cluster","type":"observation","confidence":0.5,"source":"user"}`, nil)

	var res contextResponse
	w := do(t, srv, "POST", "/api/context", `{"query":"which editor do I prefer?"}`, &res)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(res.Candidates) == 0 || res.Candidates[0].ID != editor.ID {
		t.Errorf("expected the editor fact first, got %+v", res.Candidates)
	}
}

func TestFillSimilarities(t *testing.T) {
	_, db := testServer(t)
	ctx := context.Background()

	f := &fact.TemporalFact{Subject: "user", Predicate: "likes", Object: "tea", Type: fact.TypePreference, Source: fact.SourceUser}
	if _, err := db.Insert(ctx, testKey, f); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	var calls int
	score := func(_ context.Context, _ string, texts map[string]string) (map[string]float64, error) {
		calls++
		out := make(map[string]float64, len(texts))
		for id := range texts {
			out[id] = 0.5
		}
		return out, nil
	}

	req := engine.Request{
		Query:    "drinks",
		Memories: []engine.Memory{{ID: "m1", Content: "user drinks tea daily"}},
	}
	if err := FillSimilarities(ctx, db, testKey, score, &req); err != nil {
		t.Fatalf("FillSimilarities: %v", err)
	}
	if calls != 2 {
		t.Errorf("scorer called %d times, want 2", calls)
	}
	if req.FactSimilarities[f.ID] != 0.5 || req.MemorySimilarities["m1"] != 0.5 {
		t.Errorf("similarities = %v / %v", req.FactSimilarities, req.MemorySimilarities)
	}

	// Supplied maps and empty queries are left alone.
	calls = 0
	given := engine.Request{Query: "x", FactSimilarities: map[string]float64{f.ID: 0.1}}
	if err := FillSimilarities(ctx, db, testKey, score, &given); err != nil {
		t.Fatalf("FillSimilarities: %v", err)
	}
	if calls != 0 || given.FactSimilarities[f.ID] != 0.1 {
		t.Errorf("supplied similarities overwritten (calls %d)", calls)
	}
	if err := FillSimilarities(ctx, db, testKey, score, &engine.Request{}); err != nil || calls != 0 {
		t.Errorf("empty query: err %v, calls %d", err, calls)
	}

	failing := func(context.Context, string, map[string]string) (map[string]float64, error) {
		return nil, errors.New("embedder down")
	}
	if err := FillSimilarities(ctx, db, testKey, failing, &engine.Request{Query: "x"}); err == nil {
		t.Error("expected scorer error")
	}
}
