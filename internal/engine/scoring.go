package engine

import (
	"math"
	"sort"
	"time"

	"github.com/lazypower/chronicle/internal/fact"
)

// Memory is a record from the external semantic-memory pool. It is scored
// but never modified. Times are unix milliseconds.
type Memory struct {
	ID         string  `json:"id" yaml:"id"`
	Content    string  `json:"content" yaml:"content"`
	Sector     string  `json:"sector,omitempty" yaml:"sector,omitempty"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	CreatedAt  int64   `json:"created_at" yaml:"created_at"`
	LastSeenAt int64   `json:"last_seen_at" yaml:"last_seen_at"`
	Salience   float64 `json:"salience" yaml:"salience"`
}

// Kind distinguishes the two candidate pools.
type Kind string

const (
	KindFact   Kind = "fact"
	KindMemory Kind = "memory"
)

// CandidateMetadata describes where a ranked candidate came from.
type CandidateMetadata struct {
	FactType   fact.FactType `json:"fact_type,omitempty"`
	Sector     string        `json:"sector,omitempty"`
	Confidence float64       `json:"confidence"`
	AgeSeconds float64       `json:"age_seconds"`
}

// RankedCandidate is one entry of the merged context ranking.
type RankedCandidate struct {
	Kind            Kind              `json:"kind"`
	ID              string            `json:"id"`
	Content         string            `json:"content"`
	NormalizedScore float64           `json:"normalized_score"`
	Metadata        CandidateMetadata `json:"metadata"`
	Ambiguous       bool              `json:"ambiguous,omitempty"`
}

// ScoredFact is a fact with its relevance score.
type ScoredFact struct {
	Fact  *fact.TemporalFact
	Score float64
	Age   time.Duration
}

// ScoredMemory is a memory with its relevance score.
type ScoredMemory struct {
	Memory Memory
	Score  float64
	Age    time.Duration
}

// Fact score weights.
const (
	factSimilarityWeight = 0.4
	factRecencyWeight    = 0.3
	factTypeWeight       = 0.2
	factConfidenceWeight = 0.1
)

// Memory score weights.
const (
	memorySimilarityWeight = 0.5
	memorySalienceWeight   = 0.3
	memoryRecencyWeight    = 0.2
)

// MemoryHalfLife is the recency half-life applied to memories.
const MemoryHalfLife = 7 * 24 * time.Hour

// typeBoosts[factType][queryType]
var typeBoosts = map[fact.FactType]map[QueryType]float64{
	fact.TypeError:       {QueryStateful: 1.0, QueryPreference: 0.2, QueryIdentity: 0.1, QueryGeneral: 0.5},
	fact.TypeState:       {QueryStateful: 1.0, QueryPreference: 0.3, QueryIdentity: 0.2, QueryGeneral: 0.6},
	fact.TypePlan:        {QueryStateful: 0.8, QueryPreference: 0.4, QueryIdentity: 0.3, QueryGeneral: 0.5},
	fact.TypeDecision:    {QueryStateful: 0.9, QueryPreference: 0.4, QueryIdentity: 0.3, QueryGeneral: 0.5},
	fact.TypeObservation: {QueryStateful: 0.6, QueryPreference: 0.5, QueryIdentity: 0.4, QueryGeneral: 0.5},
	fact.TypePreference:  {QueryStateful: 0.3, QueryPreference: 1.0, QueryIdentity: 0.6, QueryGeneral: 0.6},
	fact.TypeIdentity:    {QueryStateful: 0.2, QueryPreference: 0.7, QueryIdentity: 1.0, QueryGeneral: 0.5},
}

// poolWeights scales each normalized pool before merging.
var poolWeights = map[QueryType]struct{ fact, memory float64 }{
	QueryStateful:   {1.2, 0.8},
	QueryPreference: {0.7, 1.3},
	QueryIdentity:   {0.6, 1.4},
	QueryGeneral:    {1.0, 1.0},
}

// RecencyBoost returns 0.5^(age/halfLife): 1 at age zero, 0.5 after one
// half-life. Negative ages count as zero. A non-positive half-life decays
// instantly.
func RecencyBoost(age, halfLife time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	if halfLife <= 0 {
		if age == 0 {
			return 1
		}
		return 0
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

// TypeBoost looks up how relevant a fact type is to a query type. Unknown
// combinations get the observation row's general value.
func TypeBoost(t fact.FactType, qt QueryType) float64 {
	row, ok := typeBoosts[t]
	if !ok {
		row = typeBoosts[fact.TypeObservation]
	}
	if b, ok := row[qt]; ok {
		return b
	}
	return row[QueryGeneral]
}

func ageAt(now, then int64) time.Duration {
	return time.Duration(now-then) * time.Millisecond
}

// ScoreFact combines similarity, recency since last confirmation, type boost
// and confidence. now is unix milliseconds.
func ScoreFact(f *fact.TemporalFact, similarity float64, qt QueryType, now int64) float64 {
	recency := RecencyBoost(ageAt(now, f.LastConfirmedAt), f.HalfLife())
	return similarity*factSimilarityWeight +
		recency*factRecencyWeight +
		TypeBoost(f.Type, qt)*factTypeWeight +
		f.Confidence*factConfidenceWeight
}

// ScoreMemory combines similarity, salience and recency since last seen.
func ScoreMemory(m Memory, similarity float64, now int64) float64 {
	recency := RecencyBoost(ageAt(now, m.LastSeenAt), MemoryHalfLife)
	return similarity*memorySimilarityWeight +
		m.Salience*memorySalienceWeight +
		recency*memoryRecencyWeight
}

// RankFacts scores every fact still valid at now and sorts them best first.
// similarities is keyed by fact id; missing entries count as zero.
func RankFacts(facts []*fact.TemporalFact, similarities map[string]float64, qt QueryType, now int64) []ScoredFact {
	out := make([]ScoredFact, 0, len(facts))
	for _, f := range facts {
		if !fact.IsValid(f, now) {
			continue
		}
		out = append(out, ScoredFact{
			Fact:  f,
			Score: ScoreFact(f, similarities[f.ID], qt, now),
			Age:   ageAt(now, f.LastConfirmedAt),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// RankFactsForQuery classifies query and calls RankFacts.
func RankFactsForQuery(facts []*fact.TemporalFact, similarities map[string]float64, query string, now int64) []ScoredFact {
	return RankFacts(facts, similarities, DetectQueryType(query), now)
}

// RankMemories scores the memory pool and sorts it best first.
func RankMemories(memories []Memory, similarities map[string]float64, now int64) []ScoredMemory {
	out := make([]ScoredMemory, 0, len(memories))
	for _, m := range memories {
		out = append(out, ScoredMemory{
			Memory: m,
			Score:  ScoreMemory(m, similarities[m.ID], now),
			Age:    ageAt(now, m.LastSeenAt),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// normalizer maps a pool's scores onto [0, 1] by dividing by the pool max.
func normalizer(scores []float64) func(float64) float64 {
	top := 0.0
	for _, s := range scores {
		if s > top {
			top = s
		}
	}
	return func(s float64) float64 {
		if top <= 0 {
			return 0
		}
		return s / top
	}
}

// MergeAndRank normalizes each pool independently, weights it for the query
// type, and returns one list sorted by NormalizedScore. limit <= 0 keeps
// everything.
func MergeAndRank(facts []ScoredFact, memories []ScoredMemory, qt QueryType, limit int) []RankedCandidate {
	w, ok := poolWeights[qt]
	if !ok {
		w = poolWeights[QueryGeneral]
	}

	factScores := make([]float64, len(facts))
	for i, sf := range facts {
		factScores[i] = sf.Score
	}
	memScores := make([]float64, len(memories))
	for i, sm := range memories {
		memScores[i] = sm.Score
	}
	normFact := normalizer(factScores)
	normMem := normalizer(memScores)

	out := make([]RankedCandidate, 0, len(facts)+len(memories))
	for _, sf := range facts {
		out = append(out, RankedCandidate{
			Kind:            KindFact,
			ID:              sf.Fact.ID,
			Content:         fact.Content(sf.Fact),
			NormalizedScore: normFact(sf.Score) * w.fact,
			Metadata: CandidateMetadata{
				FactType:   sf.Fact.Type,
				Confidence: sf.Fact.Confidence,
				AgeSeconds: sf.Age.Seconds(),
			},
		})
	}
	for _, sm := range memories {
		out = append(out, RankedCandidate{
			Kind:            KindMemory,
			ID:              sm.Memory.ID,
			Content:         sm.Memory.Content,
			NormalizedScore: normMem(sm.Score) * w.memory,
			Metadata: CandidateMetadata{
				Sector:     sm.Memory.Sector,
				Confidence: sm.Memory.Confidence,
				AgeSeconds: sm.Age.Seconds(),
			},
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].NormalizedScore > out[j].NormalizedScore })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
