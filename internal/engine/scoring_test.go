package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/chronicle/internal/fact"
)

const testNow = int64(1_700_000_000_000)

func ms(d time.Duration) int64 { return d.Milliseconds() }

func testFact(id string, t fact.FactType, confidence float64, confirmedAgo time.Duration) *fact.TemporalFact {
	return &fact.TemporalFact{
		ID:              id,
		Subject:         "user",
		Predicate:       "pred_" + id,
		Object:          "object " + id,
		Type:            t,
		Confidence:      confidence,
		ValidFrom:       testNow - ms(confirmedAgo),
		LastConfirmedAt: testNow - ms(confirmedAgo),
		DecayHalfLife:   fact.DefaultHalfLife(t),
	}
}

func TestRecencyBoost(t *testing.T) {
	for _, h := range []time.Duration{time.Second, time.Hour, 30 * 24 * time.Hour} {
		assert.InDelta(t, 1.0, RecencyBoost(0, h), 1e-12, "H=%s", h)
		assert.InDelta(t, 0.5, RecencyBoost(h, h), 1e-12, "H=%s", h)
		assert.InDelta(t, 0.25, RecencyBoost(2*h, h), 1e-12, "H=%s", h)
	}
	assert.Equal(t, 1.0, RecencyBoost(-time.Hour, time.Hour), "future timestamps count as fresh")
	assert.Equal(t, 0.0, RecencyBoost(time.Second, 0))
}

func TestTypeBoostTable(t *testing.T) {
	assert.Equal(t, 1.0, TypeBoost(fact.TypeError, QueryStateful))
	assert.Equal(t, 0.1, TypeBoost(fact.TypeError, QueryIdentity))
	assert.Equal(t, 1.0, TypeBoost(fact.TypePreference, QueryPreference))
	assert.Equal(t, 0.7, TypeBoost(fact.TypeIdentity, QueryPreference))
	assert.Equal(t, 0.6, TypeBoost(fact.TypeState, QueryGeneral))

	// Every known type has a row covering every query type.
	for _, ft := range fact.Types() {
		for _, qt := range QueryTypes() {
			_, ok := typeBoosts[ft][qt]
			assert.True(t, ok, "missing boost for %s/%s", ft, qt)
		}
	}
}

func TestScoreFact(t *testing.T) {
	f := testFact("a", fact.TypePreference, 0.8, 0)
	// 1.0*0.4 + 1.0*0.3 + 0.6*0.2 + 0.8*0.1
	assert.InDelta(t, 0.9, ScoreFact(f, 1.0, QueryGeneral, testNow), 1e-9)

	// One half-life later only the recency term changes.
	aged := testFact("b", fact.TypePreference, 0.8, f.HalfLife())
	assert.InDelta(t, 0.9-0.15, ScoreFact(aged, 1.0, QueryGeneral, testNow), 1e-9)
}

func TestScoreMemory(t *testing.T) {
	base := Memory{ID: "m", Salience: 0.5, LastSeenAt: testNow}
	s0 := ScoreMemory(base, 0, testNow)
	s1 := ScoreMemory(base, 1, testNow)
	assert.InDelta(t, 0.5, s1-s0, 1e-9, "similarity weight")

	hi := base
	hi.Salience = 1.0
	assert.InDelta(t, 0.15, ScoreMemory(hi, 0, testNow)-s0, 1e-9, "salience weight")

	old := base
	old.LastSeenAt = testNow - ms(MemoryHalfLife)
	assert.InDelta(t, 0.1, s0-ScoreMemory(old, 0, testNow), 1e-9, "recency weight")
}

func TestRankFacts(t *testing.T) {
	ttl := int64(60)
	expired := testFact("expired", fact.TypeState, 0.9, 2*time.Minute)
	expired.TTLSeconds = &ttl
	closedAt := testNow - 1
	closed := testFact("closed", fact.TypeState, 0.9, time.Hour)
	closed.ValidTo = &closedAt

	facts := []*fact.TemporalFact{
		testFact("weak", fact.TypeObservation, 0.2, 0),
		expired,
		closed,
		testFact("strong", fact.TypeError, 0.9, 0),
	}
	ranked := RankFacts(facts, map[string]float64{"strong": 0.9, "weak": 0.1}, QueryStateful, testNow)

	require.Len(t, ranked, 2)
	assert.Equal(t, "strong", ranked[0].Fact.ID)
	assert.Equal(t, "weak", ranked[1].Fact.ID)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
}

func TestRankFactsForQuery(t *testing.T) {
	facts := []*fact.TemporalFact{
		testFact("bug", fact.TypeError, 0.8, 0),
		testFact("shell", fact.TypePreference, 0.8, 0),
	}
	query := "I am wondering which shell I like"
	ranked := RankFactsForQuery(facts, nil, query, testNow)

	require.Len(t, ranked, 2)
	assert.Equal(t, "shell", ranked[0].Fact.ID, "preference facts lead for preference queries")
	assert.Equal(t, RankFacts(facts, nil, QueryPreference, testNow), ranked)
}

func TestRankMemories(t *testing.T) {
	mems := []Memory{
		{ID: "old", Salience: 0.9, LastSeenAt: testNow - ms(30*24*time.Hour)},
		{ID: "new", Salience: 0.9, LastSeenAt: testNow},
	}
	ranked := RankMemories(mems, nil, testNow)
	require.Len(t, ranked, 2)
	assert.Equal(t, "new", ranked[0].Memory.ID)
	assert.InDelta(t, (30 * 24 * time.Hour).Seconds(), ranked[1].Age.Seconds(), 1e-6)
}

func TestMergeAndRankNormalizesPools(t *testing.T) {
	facts := []ScoredFact{
		{Fact: testFact("f1", fact.TypeState, 0.8, 0), Score: 0.8},
		{Fact: testFact("f2", fact.TypeState, 0.8, 0), Score: 0.4},
	}
	memories := []ScoredMemory{
		{Memory: Memory{ID: "m1", Content: "memory one"}, Score: 0.2},
		{Memory: Memory{ID: "m2", Content: "memory two"}, Score: 0.1},
	}

	got := MergeAndRank(facts, memories, QueryGeneral, 0)
	require.Len(t, got, 4)
	scores := map[string]float64{}
	for _, c := range got {
		scores[c.ID] = c.NormalizedScore
	}
	// Each pool's best candidate normalizes to 1 regardless of raw scale.
	assert.InDelta(t, 1.0, scores["f1"], 1e-9)
	assert.InDelta(t, 1.0, scores["m1"], 1e-9)
	assert.InDelta(t, 0.5, scores["f2"], 1e-9)
	assert.InDelta(t, 0.5, scores["m2"], 1e-9)

	assert.Equal(t, KindFact, got[0].Kind, "stable sort keeps facts first on ties")
	assert.Equal(t, "user pred_f1 object f1", got[0].Content)
	assert.Equal(t, fact.TypeState, got[0].Metadata.FactType)
}

func TestMergeAndRankQueryWeights(t *testing.T) {
	facts := []ScoredFact{{Fact: testFact("f", fact.TypeState, 0.8, 0), Score: 0.5}}
	memories := []ScoredMemory{{Memory: Memory{ID: "m", Content: "m"}, Score: 0.5}}

	tests := []struct {
		qt        QueryType
		fact, mem float64
		firstKind Kind
	}{
		{QueryStateful, 1.2, 0.8, KindFact},
		{QueryPreference, 0.7, 1.3, KindMemory},
		{QueryIdentity, 0.6, 1.4, KindMemory},
	}
	for _, tt := range tests {
		t.Run(string(tt.qt), func(t *testing.T) {
			got := MergeAndRank(facts, memories, tt.qt, 0)
			require.Len(t, got, 2)
			assert.Equal(t, tt.firstKind, got[0].Kind)
			for _, c := range got {
				want := tt.fact
				if c.Kind == KindMemory {
					want = tt.mem
				}
				assert.InDelta(t, want, c.NormalizedScore, 1e-9)
			}
		})
	}
}

func TestMergeAndRankLimit(t *testing.T) {
	var facts []ScoredFact
	for i, s := range []float64{0.9, 0.5, 0.1} {
		facts = append(facts, ScoredFact{Fact: testFact(string(rune('a'+i)), fact.TypeState, 0.5, 0), Score: s})
	}
	assert.Len(t, MergeAndRank(facts, nil, QueryGeneral, 2), 2)
	assert.Len(t, MergeAndRank(facts, nil, QueryGeneral, 0), 3)
	assert.Empty(t, MergeAndRank(nil, nil, QueryGeneral, 5))
}
