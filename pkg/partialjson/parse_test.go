package partialjson

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStates(t *testing.T) {
	tests := []struct {
		name  string
		input string
		state ParseState
		want  any
	}{
		{"Empty", "", UndefinedInput, nil},
		{"Whitespace", "  \n", UndefinedInput, nil},
		{"Complete array", `[1,2]`, SuccessfulParse, []any{1.0, 2.0}},
		{"Open array", `[1,2`, RepairedParse, []any{1.0, 2.0}},
		{"Just bracket", `[`, RepairedParse, []any{}},
		{"Trailing comma", `[1,`, RepairedParse, []any{1.0}},
		{"Partial string value", `{"a":"hel`, RepairedParse, map[string]any{"a": "hel"}},
		{"Partial key", `{"a":1,"b`, RepairedParse, map[string]any{"a": 1.0, "b": nil}},
		{"Dangling colon", `{"a":1,"b":`, RepairedParse, map[string]any{"a": 1.0, "b": nil}},
		{"Partial number", `[1.`, RepairedParse, []any{1.0}},
		{"Nested", `{"a":[{"b":[1`, RepairedParse, map[string]any{"a": []any{map[string]any{"b": []any{1.0}}}}},
		{"Mismatched close", `{"a":2]`, RepairedParse, map[string]any{"a": 2.0}},
		{"Bare word", `hello`, RepairedParse, "hello"},
		{"Missing key", `{:2}`, FailedParse, nil},
		{"Trailing document", `{"a":2}{}`, FailedParse, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input)
			assert.Equal(t, tt.state, got.State)
			if tt.state == SuccessfulParse || tt.state == RepairedParse {
				assert.Equal(t, tt.want, got.Value)
			}
		})
	}
}

func TestStripMarkdown(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"```json\n[1]\n```", "[1]"},
		{"```\n[1]\n```", "[1]"},
		{"json [1]", "[1]"},
		{"  [1]  ", "[1]"},
		{"```json\n[1", "[1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripMarkdown(tt.input), "StripMarkdown(%q)", tt.input)
	}
}

func TestParseSERPQueriesValidation(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
		n     int
	}{
		{"Valid", `[{"query":"a","researchGoal":"g"}]`, true, 1},
		{"Fenced", "```json\n[{\"query\":\"a\",\"researchGoal\":\"g\"}]\n```", true, 1},
		{"Missing goal mid-stream", `[{"query":"a","researchGoal":"g"},{"query":"b"`, false, 0},
		{"Partial goal value", `[{"query":"a","researchGoal":"go`, true, 1},
		{"Empty query", `[{"query":"","researchGoal":"g"}]`, false, 0},
		{"Not a list", `{"query":"a","researchGoal":"g"}`, false, 0},
		{"Wrong type", `[{"query":1,"researchGoal":"g"}]`, false, 0},
		{"Garbage", `not json`, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseSERPQueries(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Len(t, got, tt.n)
		})
	}
}

func TestStreamedQueriesConvergeOnFullParse(t *testing.T) {
	full := "```json\n" + `[
  {"query": "EV battery chemistry 2024", "researchGoal": "Compare LFP and NMC adoption"},
  {"query": "charging network growth", "researchGoal": "Quantify \"fast\" charger rollout"}
]` + "\n```"

	var want []SERPQuery
	require.NoError(t, json.Unmarshal([]byte(StripMarkdown(full)), &want))

	for _, step := range []int{1, 2, 3, 7} {
		var last []SERPQuery
		accepted := 0
		for end := step; ; end += step {
			if end > len(full) {
				end = len(full)
			}
			if q, ok := ParseSERPQueries(full[:end]); ok {
				last = q
				accepted++
			}
			if end == len(full) {
				break
			}
		}
		require.Positive(t, accepted)
		require.Equal(t, want, last, "step %d", step)
	}
}
