package engine

import (
	"math"
	"strings"
	"unicode"

	"github.com/lazypower/chronicle/internal/fact"
)

// Action is what ResolveConflicts does with a resolved pair.
type Action string

const (
	ActionDropLoser     Action = "drop_loser"
	ActionFlagAmbiguous Action = "flag_ambiguous"
)

// Resolution is the outcome of comparing two conflicting candidates.
type Resolution struct {
	Winner RankedCandidate `json:"winner"`
	Loser  RankedCandidate `json:"loser"`
	Reason string          `json:"reason"`
	Action Action          `json:"action"`
}

const (
	// conflictThreshold is the token overlap above which two candidates
	// are treated as statements about the same thing.
	conflictThreshold = 0.5

	// ambiguityMargin is the score gap under which a resolution is flagged.
	ambiguityMargin = 0.03

	minTokenLen = 4
)

// tokens returns the distinct lowercase words of s longer than three
// characters.
func tokens(s string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len([]rune(w)) >= minTokenLen {
			set[w] = struct{}{}
		}
	}
	return set
}

// TokenOverlap returns |A∩B| / max(|A|, |B|) over the token sets of a and b.
func TokenOverlap(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(max(len(ta), len(tb)))
}

// DetectConflict reports whether two candidates share most of their tokens.
// Word order and case are ignored, so "X over Y" conflicts with "Y over X".
func DetectConflict(a, b RankedCandidate) bool {
	return TokenOverlap(a.Content, b.Content) > conflictThreshold
}

// ephemeralTypes are fact types that describe transient state.
var ephemeralTypes = map[fact.FactType]bool{
	fact.TypeError:    true,
	fact.TypeState:    true,
	fact.TypePlan:     true,
	fact.TypeDecision: true,
}

func isEphemeral(c RankedCandidate) bool {
	return c.Kind == KindFact && ephemeralTypes[c.Metadata.FactType]
}

// A conflictRule picks a winner between a and b: 0 for a, 1 for b, -1 when
// the rule does not apply.
type conflictRule struct {
	reason string
	decide func(a, b RankedCandidate) int
}

func prefer(aWins, bWins bool) int {
	switch {
	case aWins && !bWins:
		return 0
	case bWins && !aWins:
		return 1
	}
	return -1
}

var (
	ruleEphemeralFirst = conflictRule{
		reason: "ephemeral state outranks stable knowledge for a stateful query",
		decide: func(a, b RankedCandidate) int { return prefer(isEphemeral(a), isEphemeral(b)) },
	}
	ruleMoreRecent = conflictRule{
		reason: "more recent",
		decide: func(a, b RankedCandidate) int {
			return prefer(a.Metadata.AgeSeconds < b.Metadata.AgeSeconds, b.Metadata.AgeSeconds < a.Metadata.AgeSeconds)
		},
	}
	ruleMemoryFirst = conflictRule{
		reason: "long-term memory outranks session fact",
		decide: func(a, b RankedCandidate) int { return prefer(a.Kind == KindMemory, b.Kind == KindMemory) },
	}
	ruleMemoryConfidence = conflictRule{
		reason: "higher confidence memory",
		decide: func(a, b RankedCandidate) int {
			if a.Kind != KindMemory || b.Kind != KindMemory {
				return -1
			}
			return prefer(a.Metadata.Confidence > b.Metadata.Confidence, b.Metadata.Confidence > a.Metadata.Confidence)
		},
	}
	ruleHigherScore = conflictRule{
		reason: "higher score",
		decide: func(a, b RankedCandidate) int {
			if b.NormalizedScore > a.NormalizedScore {
				return 1
			}
			return 0
		},
	}
)

// conflictRules lists, per query type, the rules tried in order. Every list
// ends in ruleHigherScore, which always decides.
var conflictRules = map[QueryType][]conflictRule{
	QueryStateful:   {ruleEphemeralFirst, ruleMoreRecent, ruleHigherScore},
	QueryPreference: {ruleMemoryFirst, ruleMemoryConfidence, ruleHigherScore},
	QueryIdentity:   {ruleMemoryFirst, ruleMemoryConfidence, ruleHigherScore},
	QueryGeneral:    {ruleHigherScore},
}

// decide runs the query type's rules in order and reports whether a wins.
func decide(a, b RankedCandidate, qt QueryType) (aWins bool, reason string) {
	rules, ok := conflictRules[qt]
	if !ok {
		rules = conflictRules[QueryGeneral]
	}
	for _, r := range rules {
		switch r.decide(a, b) {
		case 0:
			return true, r.reason
		case 1:
			return false, r.reason
		}
	}
	return true, ruleHigherScore.reason
}

func ambiguous(a, b RankedCandidate) bool {
	return math.Abs(a.NormalizedScore-b.NormalizedScore) < ambiguityMargin
}

// ResolveConflict picks which of two conflicting candidates to keep. When
// their scores are within ambiguityMargin the decision stands but is flagged.
func ResolveConflict(a, b RankedCandidate, qt QueryType) Resolution {
	aWins, reason := decide(a, b, qt)
	res := Resolution{Winner: a, Loser: b, Reason: reason, Action: ActionDropLoser}
	if !aWins {
		res.Winner, res.Loser = b, a
	}
	if ambiguous(a, b) {
		res.Action = ActionFlagAmbiguous
	}
	return res
}

// ResolveConflicts removes the loser of every conflicting pair, keeping the
// input order of survivors. Winners of ambiguous resolutions are marked
// Ambiguous.
func ResolveConflicts(candidates []RankedCandidate, qt QueryType) []RankedCandidate {
	cands := make([]RankedCandidate, len(candidates))
	copy(cands, candidates)
	removed := make([]bool, len(cands))

	for i := range cands {
		for j := i + 1; j < len(cands) && !removed[i]; j++ {
			if removed[j] || !DetectConflict(cands[i], cands[j]) {
				continue
			}
			winner, loser := i, j
			if aWins, _ := decide(cands[i], cands[j], qt); !aWins {
				winner, loser = j, i
			}
			removed[loser] = true
			if ambiguous(cands[i], cands[j]) {
				cands[winner].Ambiguous = true
			}
		}
	}

	out := make([]RankedCandidate, 0, len(cands))
	for i, c := range cands {
		if !removed[i] {
			out = append(out, c)
		}
	}
	return out
}
