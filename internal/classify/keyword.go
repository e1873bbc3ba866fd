// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classify

import (
	"context"
	"sort"
	"strings"
)

// KeywordClassifier resolves intents from weighted keyword matches.
//
// # Description
//
// Each intent carries a table of keywords with weights. The query is
// lowercased and tokenized on whitespace/punctuation; each matched keyword
// adds its weight to the intent's score. The winning intent's confidence is
// its share of the total matched weight, so a query matching only "code"
// keywords scores 1.0 while a query split between intents scores lower.
//
// Queries matching nothing resolve to IntentGeneral with a floor confidence,
// which is deliberately above typical minimum-confidence thresholds: the
// keyword classifier is the fallback of last resort and must always produce
// a usable answer.
//
// # Thread Safety
//
// KeywordClassifier is immutable after construction and safe for concurrent
// use.
type KeywordClassifier struct {
	keywords map[string]map[string]float64 // intent -> keyword -> weight
}

// DefaultKeywordTable returns the built-in intent keyword table.
func DefaultKeywordTable() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"code": {
			"code": 1.0, "function": 1.0, "implement": 1.0, "refactor": 1.2,
			"class": 0.8, "compile": 1.0, "golang": 1.0, "python": 1.0,
			"script": 0.8, "api": 0.6, "write": 0.4,
		},
		"debug": {
			"debug": 1.2, "error": 1.0, "bug": 1.2, "crash": 1.0,
			"stacktrace": 1.2, "traceback": 1.2, "panic": 1.0, "fix": 0.8,
			"broken": 0.8, "fails": 0.8, "failing": 0.8, "exception": 1.0,
		},
		"research": {
			"research": 1.2, "explain": 0.8, "compare": 0.8, "summarize": 1.0,
			"history": 0.6, "why": 0.4, "what": 0.3, "how": 0.3,
			"difference": 0.8, "paper": 0.8,
		},
		"creative": {
			"story": 1.0, "poem": 1.2, "creative": 1.2, "write": 0.4,
			"imagine": 1.0, "fiction": 1.2, "brainstorm": 1.0,
		},
	}
}

// NewKeywordClassifier creates a classifier over the given table.
// A nil table uses DefaultKeywordTable.
func NewKeywordClassifier(keywords map[string]map[string]float64) *KeywordClassifier {
	if keywords == nil {
		keywords = DefaultKeywordTable()
	}
	return &KeywordClassifier{keywords: keywords}
}

// Classify implements IntentClassifier. It never returns an error.
func (c *KeywordClassifier) Classify(_ context.Context, text string) (Result, error) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return Result{Intent: IntentGeneral, Confidence: 0.6}, nil
	}

	scores := make(map[string]float64)
	var total float64
	for _, tok := range tokens {
		for intent, table := range c.keywords {
			if w, ok := table[tok]; ok {
				scores[intent] += w
				total += w
			}
		}
	}
	if total == 0 {
		return Result{Intent: IntentGeneral, Confidence: 0.6}, nil
	}

	// Deterministic winner: highest score, ties broken alphabetically.
	intents := make([]string, 0, len(scores))
	for intent := range scores {
		intents = append(intents, intent)
	}
	sort.Strings(intents)

	best := intents[0]
	for _, intent := range intents[1:] {
		if scores[intent] > scores[best] {
			best = intent
		}
	}
	return Result{Intent: best, Confidence: scores[best] / total}, nil
}

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		default:
			return true
		}
	})
}
