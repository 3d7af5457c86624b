package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lazypower/chronicle/internal/crypto"
	"github.com/lazypower/chronicle/internal/store"
)

var testKey = crypto.Key([]byte("0123456789abcdef0123456789abcdef"))

func testServer(t *testing.T, opts ...Option) (*Server, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, testKey, "test-version", opts...), db
}

// do sends a request and decodes a JSON response body into out when non-nil.
func do(t *testing.T, srv http.Handler, method, path, body string, out any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if out != nil {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode body %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	var body map[string]any
	w := do(t, srv, "GET", "/api/health", "", &body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q", ct)
	}

	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test-version" {
		t.Errorf("version = %v, want test-version", body["version"])
	}
	if body["db"] != true {
		t.Errorf("db = %v, want true", body["db"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	do(t, srv, "POST", "/api/facts", `{"subject":"user","predicate":"uses","object":"vim","type":"observation","source":"user"}`, nil)
	do(t, srv, "POST", "/api/facts", `{"subject":"user","predicate":"uses","object":"helix","type":"observation","source":"user"}`, nil)

	var st store.Stats
	w := do(t, srv, "GET", "/api/stats", "", &st)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if st.TotalFacts != 2 || st.ActiveFacts != 1 || st.HistoricalFacts != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.PredicateCounts["uses"] != 2 {
		t.Errorf("predicate counts = %v", st.PredicateCounts)
	}
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv, "GET", "/api/nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("insert: %w", store.ErrInvalidFact), http.StatusBadRequest},
		{fmt.Errorf("update x: %w", store.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("open: %w", store.ErrDecryption), http.StatusUnprocessableEntity},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
