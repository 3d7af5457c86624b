// Package fact defines the temporally-versioned subject-predicate-object facts
// tracked by chronicle, along with their validity rules and defaults.
package fact

import (
	"fmt"
	"strings"
	"time"
)

// FactType classifies what kind of statement a fact is. It drives the default
// decay half-life and how the fact is weighted for each query type.
type FactType string

const (
	TypePreference  FactType = "preference"
	TypePlan        FactType = "plan"
	TypeState       FactType = "state"
	TypeObservation FactType = "observation"
	TypeError       FactType = "error"
	TypeDecision    FactType = "decision"
	TypeIdentity    FactType = "identity"
)

// Source records who asserted a fact.
type Source string

const (
	SourceUser   Source = "user"
	SourceSystem Source = "system"
	SourceTool   Source = "tool"
)

// Scope records how widely a fact applies.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeDevice  Scope = "device"
	ScopeAccount Scope = "account"
)

// defaultHalfLives maps each fact type to its soft-decay half-life in seconds.
var defaultHalfLives = map[FactType]int64{
	TypeError:       3600,
	TypeState:       14400,
	TypePlan:        86400,
	TypeDecision:    86400,
	TypeObservation: 604800,
	TypePreference:  2592000,
	TypeIdentity:    7776000,
}

var validSources = map[Source]bool{SourceUser: true, SourceSystem: true, SourceTool: true}

var validScopes = map[Scope]bool{ScopeSession: true, ScopeDevice: true, ScopeAccount: true}

// Types returns every known fact type, ephemeral types first.
func Types() []FactType {
	return []FactType{TypeError, TypeState, TypePlan, TypeDecision, TypeObservation, TypePreference, TypeIdentity}
}

// Valid reports whether t is a known fact type.
func (t FactType) Valid() bool {
	_, ok := defaultHalfLives[t]
	return ok
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool { return validSources[s] }

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool { return validScopes[s] }

// DefaultHalfLife returns the soft-decay half-life in seconds for a fact type.
// Unknown types get the observation half-life.
func DefaultHalfLife(t FactType) int64 {
	if hl, ok := defaultHalfLives[t]; ok {
		return hl
	}
	return defaultHalfLives[TypeObservation]
}

// TemporalFact is a subject-predicate-object triple with temporal and
// provenance metadata. Times are unix milliseconds.
type TemporalFact struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`

	ValidFrom       int64  `json:"valid_from"`
	ValidTo         *int64 `json:"valid_to,omitempty"` // exclusive; nil = active
	LastConfirmedAt int64  `json:"last_confirmed_at"`
	LastUpdated     int64  `json:"last_updated"`

	Type          FactType `json:"type"`
	Confidence    float64  `json:"confidence"`
	Source        Source   `json:"source"`
	Scope         Scope    `json:"scope"`
	TTLSeconds    *int64   `json:"ttl_seconds,omitempty"`
	DecayHalfLife int64    `json:"decay_half_life"` // seconds

	Entities        []string       `json:"entities,omitempty"`
	RetrievalCount  int            `json:"retrieval_count"`
	LastRetrievedAt *int64         `json:"last_retrieved_at,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	SourceID        *string        `json:"source_id,omitempty"`
}

// Active reports whether the fact is the currently believed statement for its
// subject/predicate pair, i.e. it has never been invalidated.
func (f *TemporalFact) Active() bool {
	return f.ValidTo == nil
}

// HalfLife returns the decay half-life as a duration.
func (f *TemporalFact) HalfLife() time.Duration {
	return time.Duration(f.DecayHalfLife) * time.Second
}

// Content renders the fact as a single sentence for ranking and prompts.
func Content(f *TemporalFact) string {
	return strings.Join([]string{f.Subject, f.Predicate, f.Object}, " ")
}

// ClampConfidence restricts c to [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Normalize validates f and defaults the fields a caller may omit: scope,
// decay half-life and timestamps. Type and source must be set. now is unix
// milliseconds.
func Normalize(f *TemporalFact, now int64) error {
	f.Subject = strings.TrimSpace(f.Subject)
	f.Predicate = strings.TrimSpace(f.Predicate)
	if f.Subject == "" {
		return fmt.Errorf("%w: subject required", ErrInvalid)
	}
	if f.Predicate == "" {
		return fmt.Errorf("%w: predicate required", ErrInvalid)
	}
	if f.Object == "" {
		return fmt.Errorf("%w: object required", ErrInvalid)
	}

	if f.Type == "" {
		return fmt.Errorf("%w: type required", ErrInvalid)
	}
	if !f.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalid, f.Type)
	}
	if f.Source == "" {
		return fmt.Errorf("%w: source required", ErrInvalid)
	}
	if !f.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalid, f.Source)
	}
	if f.Scope == "" {
		f.Scope = ScopeDevice
	}
	if !f.Scope.Valid() {
		return fmt.Errorf("%w: unknown scope %q", ErrInvalid, f.Scope)
	}
	if f.TTLSeconds != nil && *f.TTLSeconds < 0 {
		return fmt.Errorf("%w: negative ttl", ErrInvalid)
	}

	if f.DecayHalfLife <= 0 {
		f.DecayHalfLife = DefaultHalfLife(f.Type)
	}
	f.Confidence = ClampConfidence(f.Confidence)

	if f.ValidFrom == 0 {
		f.ValidFrom = now
	}
	if f.LastConfirmedAt == 0 {
		f.LastConfirmedAt = f.ValidFrom
	}
	if f.LastUpdated == 0 {
		f.LastUpdated = now
	}
	return nil
}
