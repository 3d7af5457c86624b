package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/chronicle/internal/fact"
	"github.com/lazypower/chronicle/internal/store"
)

func (s *Server) handleInsertFact(w http.ResponseWriter, r *http.Request) {
	var f fact.TemporalFact
	if !decode(w, r, &f) {
		return
	}

	id, err := s.db.Insert(r.Context(), s.key, &f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "valid_to": f.ValidTo})
}

func (s *Server) handleUpsertFact(w http.ResponseWriter, r *http.Request) {
	var f fact.TemporalFact
	if !decode(w, r, &f) {
		return
	}

	id, created, err := s.db.Upsert(r.Context(), s.key, &f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"id": id, "created": created})
}

func (s *Server) handleGetFact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	f, err := s.db.Get(r.Context(), s.key, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if f == nil {
		writeMessage(w, http.StatusNotFound, "fact not found")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleCurrentFact(w http.ResponseWriter, r *http.Request) {
	subject := r.URL.Query().Get("subject")
	predicate := r.URL.Query().Get("predicate")
	if subject == "" || predicate == "" {
		writeMessage(w, http.StatusBadRequest, "subject and predicate required")
		return
	}

	f, err := s.db.GetCurrent(r.Context(), s.key, subject, predicate)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if f == nil {
		writeMessage(w, http.StatusNotFound, "no current fact")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleListFacts(w http.ResponseWriter, r *http.Request) {
	subject := r.URL.Query().Get("subject")
	if subject == "" {
		writeMessage(w, http.StatusBadRequest, "subject parameter required")
		return
	}
	historical, _ := strconv.ParseBool(r.URL.Query().Get("historical"))

	facts, err := s.db.GetBySubject(r.Context(), s.key, subject, historical)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(facts), "facts": nonNil(facts)})
}

func (s *Server) handleQueryFacts(w http.ResponseWriter, r *http.Request) {
	var f store.Filter
	if !decode(w, r, &f) {
		return
	}

	facts, err := s.db.Query(r.Context(), s.key, f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(facts), "facts": nonNil(facts)})
}

func (s *Server) handleUpdateFact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var u store.FactUpdate
	if !decode(w, r, &u) {
		return
	}
	if err := s.db.Update(r.Context(), s.key, id, u); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleInvalidateFact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Body is optional; no body means now.
	var req struct {
		At int64 `json:"at"`
	}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	if err := s.db.Invalidate(r.Context(), id, req.At); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (s *Server) handleDeleteFact(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleClearFacts(w http.ResponseWriter, r *http.Request) {
	n, err := s.db.ClearAll(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("facts cleared", "count", n)
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func nonNil(facts []*fact.TemporalFact) []*fact.TemporalFact {
	if facts == nil {
		return []*fact.TemporalFact{}
	}
	return facts
}
