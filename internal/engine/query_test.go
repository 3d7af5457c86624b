package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectQueryType(t *testing.T) {
	tests := []struct {
		query string
		want  QueryType
	}{
		{"What am I currently working on?", QueryStateful},
		{"what's the latest on the deploy", QueryStateful},
		{"why did the build fail? any errors?", QueryStateful},
		{"Is the migration blocked?", QueryStateful},
		{"Which editor do I prefer?", QueryPreference},
		{"what's my favorite language", QueryPreference},
		{"Is Rust better than Go for this?", QueryPreference},
		{"Should I pick Postgres or SQLite?", QueryPreference},
		{"can you recommend a test runner", QueryPreference},
		{"Who am I?", QueryIdentity},
		{"What is my name", QueryIdentity},
		{"where do I live", QueryIdentity},
		{"tell me about me", QueryIdentity},
		{"Explain monads", QueryGeneral},
		{"", QueryGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectQueryType(tt.query))
		})
	}
}

func TestDetectQueryTypePriority(t *testing.T) {
	// stateful beats preference
	assert.Equal(t, QueryStateful, DetectQueryType("which framework do I prefer right now"))
	// preference beats identity
	assert.Equal(t, QueryPreference, DetectQueryType("I am wondering which shell I like"))
	// identity beats general
	assert.Equal(t, QueryIdentity, DetectQueryType("I'm new here, remember me?"))
}

func TestDetectQueryTypeWordBoundaries(t *testing.T) {
	// "issue" and "use" inside longer words must not match.
	assert.Equal(t, QueryGeneral, DetectQueryType("summarize the tissue sample"))
	assert.Equal(t, QueryGeneral, DetectQueryType("describe the museum"))
}
