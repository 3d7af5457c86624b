package engine

import "strings"

const (
	factsHeading    = "## Current Session Facts"
	memoriesHeading = "## Long-term Memories"
)

// GetRelevantContext merges both pools, drops conflict losers, and keeps the
// top limit candidates. limit <= 0 keeps everything.
func GetRelevantContext(facts []ScoredFact, memories []ScoredMemory, qt QueryType, limit int) []RankedCandidate {
	merged := MergeAndRank(facts, memories, qt, 0)
	resolved := ResolveConflicts(merged, qt)
	if limit > 0 && len(resolved) > limit {
		resolved = resolved[:limit]
	}
	return resolved
}

// GetRelevantContextForQuery classifies query and calls GetRelevantContext.
func GetRelevantContextForQuery(facts []ScoredFact, memories []ScoredMemory, query string, limit int) []RankedCandidate {
	return GetRelevantContext(facts, memories, DetectQueryType(query), limit)
}

// FormatForLLM renders candidates as markdown sections, facts first. Empty
// sections are omitted and an empty list yields "".
func FormatForLLM(candidates []RankedCandidate) string {
	var facts, memories []string
	for _, c := range candidates {
		switch c.Kind {
		case KindFact:
			facts = append(facts, "- "+c.Content)
		case KindMemory:
			memories = append(memories, "- "+c.Content)
		}
	}

	var sections []string
	if len(facts) > 0 {
		sections = append(sections, factsHeading+"\n"+strings.Join(facts, "\n"))
	}
	if len(memories) > 0 {
		sections = append(sections, memoriesHeading+"\n"+strings.Join(memories, "\n"))
	}
	return strings.Join(sections, "\n\n")
}
