// Package partialjson extracts values from JSON text that may still be
// arriving from a model stream.
package partialjson

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ParseState describes how a value was obtained.
type ParseState string

const (
	UndefinedInput  ParseState = "undefined-input"
	SuccessfulParse ParseState = "successful-parse"
	RepairedParse   ParseState = "repaired-parse"
	FailedParse     ParseState = "failed-parse"
)

// Result is the outcome of Parse.
type Result struct {
	Value any
	State ParseState
}

// Accepted reports whether the value is usable.
func (r Result) Accepted() bool {
	return r.State == SuccessfulParse || r.State == RepairedParse
}

// Parse decodes text as JSON, falling back to a repaired version of an
// incomplete document.
func Parse(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{State: UndefinedInput}
	}

	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return Result{Value: v, State: SuccessfulParse}
	}

	fixed, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return Result{State: FailedParse}
	}
	if err := json.Unmarshal([]byte(fixed), &v); err != nil {
		return Result{State: FailedParse}
	}
	return Result{Value: v, State: RepairedParse}
}

// StripMarkdown removes a ```json fence (or a bare json prefix) around a
// model answer.
func StripMarkdown(text string) string {
	text = strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(text, "```json"):
		text = text[len("```json"):]
	case strings.HasPrefix(text, "json"):
		text = text[len("json"):]
	case strings.HasPrefix(text, "```"):
		text = text[len("```"):]
	}
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// SERPQuery is one generated search query.
type SERPQuery struct {
	Query        string `json:"query"`
	ResearchGoal string `json:"researchGoal"`
}

// ParseSERPQueries extracts a query list from a (partial) model answer. ok
// is false unless the text parses and every element carries a non-empty
// query and a researchGoal string.
func ParseSERPQueries(text string) ([]SERPQuery, bool) {
	res := Parse(StripMarkdown(text))
	if !res.Accepted() {
		return nil, false
	}
	items, isList := res.Value.([]any)
	if !isList {
		return nil, false
	}

	queries := make([]SERPQuery, 0, len(items))
	for _, item := range items {
		obj, isObj := item.(map[string]any)
		if !isObj {
			return nil, false
		}
		query, qok := obj["query"].(string)
		goal, gok := obj["researchGoal"].(string)
		if !qok || !gok || strings.TrimSpace(query) == "" {
			return nil, false
		}
		queries = append(queries, SERPQuery{Query: query, ResearchGoal: goal})
	}
	return queries, true
}
