package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/lazypower/chronicle/internal/crypto"
	"github.com/lazypower/chronicle/internal/fact"
)

type idResponse struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

type listResponse struct {
	Count int                  `json:"count"`
	Facts []*fact.TemporalFact `json:"facts"`
}

func TestInsertAndGetFact(t *testing.T) {
	srv, _ := testServer(t)

	var created idResponse
	w := do(t, srv, "POST", "/api/facts",
		`{"subject":"user","predicate":"prefers","object":"TypeScript","type":"preference","confidence":0.8,"source":"user"}`, &created)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	if created.ID == "" {
		t.Fatal("expected id")
	}

	var got fact.TemporalFact
	w = do(t, srv, "GET", "/api/facts/"+created.ID, "", &got)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if got.Object != "TypeScript" || got.Type != fact.TypePreference || got.Confidence != 0.8 {
		t.Errorf("got %+v", got)
	}
	if got.Scope != fact.ScopeDevice {
		t.Errorf("scope = %q, want default device", got.Scope)
	}
}

func TestInsertFactErrors(t *testing.T) {
	srv, _ := testServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{"subject":`, http.StatusBadRequest},
		{"missing object", `{"subject":"user","predicate":"prefers"}`, http.StatusBadRequest},
		{"unknown type", `{"subject":"user","predicate":"prefers","object":"x","type":"rumor","source":"user"}`, http.StatusBadRequest},
		{"missing type", `{"subject":"user","predicate":"prefers","object":"x","source":"user"}`, http.StatusBadRequest},
		{"missing source", `{"subject":"user","predicate":"prefers","object":"x","type":"preference"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]string
			w := do(t, srv, "POST", "/api/facts", tt.body, &body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if body["error"] == "" {
				t.Error("expected error message in body")
			}
		})
	}
}

func TestGetFactMissing(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv, "GET", "/api/facts/does-not-exist", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetFactWrongKey(t *testing.T) {
	srv, db := testServer(t)

	var created idResponse
	do(t, srv, "POST", "/api/facts", `{"subject":"user","predicate":"likes","object":"tea","type":"observation","source":"user"}`, &created)

	other := New(db, crypto.Key([]byte("ffffffffffffffffffffffffffffffff")), "test")
	w := do(t, other, "GET", "/api/facts/"+created.ID, "", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestUpsertFact(t *testing.T) {
	srv, _ := testServer(t)
	body := `{"subject":"user","predicate":"editor","object":"helix","confidence":0.5,"type":"observation","source":"user"}`

	var first idResponse
	w := do(t, srv, "PUT", "/api/facts", body, &first)
	if w.Code != http.StatusCreated || !first.Created {
		t.Fatalf("first upsert: status %d, created %v", w.Code, first.Created)
	}

	var second idResponse
	w = do(t, srv, "PUT", "/api/facts", body, &second)
	if w.Code != http.StatusOK || second.Created {
		t.Fatalf("second upsert: status %d, created %v", w.Code, second.Created)
	}
	if second.ID != first.ID {
		t.Errorf("reconfirm should keep id %s, got %s", first.ID, second.ID)
	}

	var got fact.TemporalFact
	do(t, srv, "GET", "/api/facts/"+first.ID, "", &got)
	if got.Confidence < 0.549 || got.Confidence > 0.551 {
		t.Errorf("confidence = %v, want 0.55", got.Confidence)
	}
}

func TestCurrentFact(t *testing.T) {
	srv, _ := testServer(t)
	do(t, srv, "POST", "/api/facts", `{"subject":"user","predicate":"lives_in","object":"Berlin","type":"observation","source":"user"}`, nil)
	do(t, srv, "POST", "/api/facts", `{"subject":"user","predicate":"lives_in","object":"Lisbon","type":"observation","source":"user"}`, nil)

	var got fact.TemporalFact
	w := do(t, srv, "GET", "/api/facts/current?subject=user&predicate=lives_in", "", &got)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got.Object != "Lisbon" {
		t.Errorf("current = %q, want Lisbon", got.Object)
	}

	if w := do(t, srv, "GET", "/api/facts/current?subject=user&predicate=works_at", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing pair status = %d, want 404", w.Code)
	}
	if w := do(t, srv, "GET", "/api/facts/current?subject=user", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing predicate status = %d, want 400", w.Code)
	}
}

func TestListFacts(t *testing.T) {
	srv, _ := testServer(t)
	do(t, srv, "POST", "/api/facts", `{"subject":"user","predicate":"lives_in","object":"Berlin","type":"observation","source":"user"}`, nil)
	do(t, srv, "POST", "/api/facts", `{"subject":"user","predicate":"lives_in","object":"Lisbon","type":"observation","source":"user"}`, nil)
	do(t, srv, "POST", "/api/facts", `{"subject":"ci","predicate":"status","object":"green","type":"observation","source":"user"}`, nil)

	var active listResponse
	do(t, srv, "GET", "/api/facts?subject=user", "", &active)
	if active.Count != 1 || active.Facts[0].Object != "Lisbon" {
		t.Errorf("active = %+v", active)
	}

	var all listResponse
	do(t, srv, "GET", "/api/facts?subject=user&historical=true", "", &all)
	if all.Count != 2 {
		t.Errorf("historical count = %d, want 2", all.Count)
	}

	if w := do(t, srv, "GET", "/api/facts", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing subject status = %d, want 400", w.Code)
	}
}

func TestQueryFacts(t *testing.T) {
	srv, _ := testServer(t)
	do(t, srv, "POST", "/api/facts", `{"subject":"user","predicate":"uses","object":"vim","confidence":0.9,"type":"observation","source":"user"}`, nil)
	do(t, srv, "POST", "/api/facts", `{"subject":"team","predicate":"uses","object":"vim","confidence":0.3,"type":"observation","source":"user"}`, nil)
	do(t, srv, "POST", "/api/facts", `{"subject":"team","predicate":"deploys_with","object":"nomad","confidence":0.8,"type":"observation","source":"user"}`, nil)

	var res listResponse
	w := do(t, srv, "POST", "/api/facts/query", `{"predicate":"uses","min_confidence":0.5}`, &res)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if res.Count != 1 || res.Facts[0].Subject != "user" {
		t.Errorf("query = %+v", res)
	}

	do(t, srv, "POST", "/api/facts/query", `{"object":"vim"}`, &res)
	if res.Count != 2 {
		t.Errorf("object filter count = %d, want 2", res.Count)
	}

	do(t, srv, "POST", "/api/facts/query", `{"subject":"nobody"}`, &res)
	if res.Count != 0 || res.Facts == nil {
		t.Errorf("empty query should give an empty list, got %+v", res)
	}

	if w := do(t, srv, "POST", "/api/facts/query", `not json`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad filter status = %d, want 400", w.Code)
	}
}

func TestUpdateFact(t *testing.T) {
	srv, _ := testServer(t)

	var created idResponse
	do(t, srv, "POST", "/api/facts", `{"subject":"user","predicate":"likes","object":"tea","confidence":0.5,"type":"observation","source":"user"}`, &created)

	w := do(t, srv, "PATCH", "/api/facts/"+created.ID, `{"confidence":0.9,"metadata":{"origin":"chat"}}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	var got fact.TemporalFact
	do(t, srv, "GET", "/api/facts/"+created.ID, "", &got)
	if got.Confidence != 0.9 {
		t.Errorf("confidence = %v", got.Confidence)
	}
	if got.Metadata["origin"] != "chat" {
		t.Errorf("metadata = %v", got.Metadata)
	}

	if w := do(t, srv, "PATCH", "/api/facts/missing", `{"confidence":0.1}`, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", w.Code)
	}
}

func TestInvalidateFact(t *testing.T) {
	srv, _ := testServer(t)

	var created idResponse
	do(t, srv, "POST", "/api/facts", `{"subject":"user","predicate":"mood","object":"tired","valid_from":1000,"type":"observation","source":"user"}`, &created)

	w := do(t, srv, "POST", fmt.Sprintf("/api/facts/%s/invalidate", created.ID), `{"at":5000}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	var got fact.TemporalFact
	do(t, srv, "GET", "/api/facts/"+created.ID, "", &got)
	if got.ValidTo == nil || *got.ValidTo != 5000 {
		t.Errorf("valid_to = %v, want 5000", got.ValidTo)
	}

	// No body means now.
	var other idResponse
	do(t, srv, "POST", "/api/facts", `{"subject":"user","predicate":"energy","object":"low","type":"observation","source":"user"}`, &other)
	if w := do(t, srv, "POST", "/api/facts/"+other.ID+"/invalidate", "", nil); w.Code != http.StatusOK {
		t.Errorf("no-body invalidate status = %d", w.Code)
	}

	if w := do(t, srv, "POST", "/api/facts/missing/invalidate", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", w.Code)
	}
}

func TestDeleteAndClearFacts(t *testing.T) {
	srv, _ := testServer(t)

	var a idResponse
	do(t, srv, "POST", "/api/facts", `{"subject":"user","predicate":"a","object":"1","type":"observation","source":"user"}`, &a)
	do(t, srv, "POST", "/api/facts", `{"subject":"user","predicate":"b","object":"2","type":"observation","source":"user"}`, nil)
	do(t, srv, "POST", "/api/facts", `{"subject":"user","predicate":"c","object":"3","type":"observation","source":"user"}`, nil)

	if w := do(t, srv, "DELETE", "/api/facts/"+a.ID, "", nil); w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	if w := do(t, srv, "GET", "/api/facts/"+a.ID, "", nil); w.Code != http.StatusNotFound {
		t.Errorf("deleted fact status = %d, want 404", w.Code)
	}
	// Idempotent.
	if w := do(t, srv, "DELETE", "/api/facts/"+a.ID, "", nil); w.Code != http.StatusOK {
		t.Errorf("second delete status = %d", w.Code)
	}

	var cleared map[string]int
	do(t, srv, "DELETE", "/api/facts", "", &cleared)
	if cleared["cleared"] != 2 {
		t.Errorf("cleared = %d, want 2", cleared["cleared"])
	}
}
