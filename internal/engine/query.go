package engine

import (
	"regexp"
	"strings"
)

// QueryType is a coarse intent classification of a user query. It biases
// scoring and conflict resolution.
type QueryType string

const (
	QueryStateful   QueryType = "stateful"
	QueryPreference QueryType = "preference"
	QueryIdentity   QueryType = "identity"
	QueryGeneral    QueryType = "general"
)

// QueryTypes lists every query type in classification priority order.
func QueryTypes() []QueryType {
	return []QueryType{QueryStateful, QueryPreference, QueryIdentity, QueryGeneral}
}

// queryPatterns is checked in order; the first type with a matching pattern
// wins.
var queryPatterns = []struct {
	qt       QueryType
	patterns []*regexp.Regexp
}{
	{QueryStateful, compile(
		`\bcurrently\b`,
		`\bright now\b`,
		`\b(current|latest)\b`,
		`\bworking on\b`,
		`\b(errors?|bugs?|issues?|failed|failing|failure)\b`,
		`\b(status|blocked|blocker)\b`,
	)},
	{QueryPreference, compile(
		`\b(prefer|prefers|preferred|preference)\b`,
		`\b(favorite|favourite)\b`,
		`\b(like|likes|dislike|dislikes|hate|hates)\b`,
		`\b(want|wants)\b`,
		`\b(use|uses|using)\b`,
		`\b(better|worse) than\b`,
		`\bshould i\b`,
		`\brecommend`,
	)},
	{QueryIdentity, compile(
		`\bwho am i\b`,
		`\bwhat do i do\b`,
		`\bmy (name|job|role|title|age|birthday|location|city|hometown|profession|occupation|company|employer|team|email|pronouns)\b`,
		`\b(i am|i'm)\b`,
		`\babout me\b`,
		`\bwhere do i (live|work)\b`,
		`\bremember me\b`,
		`\bmy background\b`,
	)},
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// DetectQueryType classifies text. Priority is stateful, then preference,
// then identity; anything else is general.
func DetectQueryType(text string) QueryType {
	lower := strings.ToLower(text)
	for _, group := range queryPatterns {
		for _, re := range group.patterns {
			if re.MatchString(lower) {
				return group.qt
			}
		}
	}
	return QueryGeneral
}
