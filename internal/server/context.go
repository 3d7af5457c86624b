package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lazypower/chronicle/internal/crypto"
	"github.com/lazypower/chronicle/internal/embedding"
	"github.com/lazypower/chronicle/internal/engine"
	"github.com/lazypower/chronicle/internal/fact"
	"github.com/lazypower/chronicle/internal/store"
)

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	if s.score != nil {
		// Missing similarities only cost ranking quality; serve without them.
		if err := FillSimilarities(ctx, s.db, s.key, s.score, &req); err != nil {
			s.log.Warn("similarity scoring failed", "err", err)
		}
	}

	res, err := s.engine.BuildContext(ctx, s.key, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if res.Candidates == nil {
		res.Candidates = []engine.RankedCandidate{}
	}
	writeJSON(w, http.StatusOK, res)
}

// FillSimilarities scores the query against the active facts and the request's
// memories for whichever similarity map the request left empty. Requests
// without a query are left alone.
func FillSimilarities(ctx context.Context, db *store.DB, key crypto.Key, score embedding.Scorer, req *engine.Request) error {
	if req.Query == "" {
		return nil
	}

	if len(req.FactSimilarities) == 0 {
		at := req.Now
		if at <= 0 {
			at = time.Now().UnixMilli()
		}
		facts, err := db.ActiveFacts(ctx, key, at)
		if err != nil {
			return fmt.Errorf("load facts: %w", err)
		}
		texts := make(map[string]string, len(facts))
		for _, f := range facts {
			texts[f.ID] = fact.Content(f)
		}
		sims, err := score(ctx, req.Query, texts)
		if err != nil {
			return fmt.Errorf("score facts: %w", err)
		}
		req.FactSimilarities = sims
	}

	if len(req.MemorySimilarities) == 0 && len(req.Memories) > 0 {
		texts := make(map[string]string, len(req.Memories))
		for _, m := range req.Memories {
			texts[m.ID] = m.Content
		}
		sims, err := score(ctx, req.Query, texts)
		if err != nil {
			return fmt.Errorf("score memories: %w", err)
		}
		req.MemorySimilarities = sims
	}
	return nil
}
