// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classify maps a user query to a coarse intent label used to pick
// a specialist model.
//
// The router treats classifiers as opaque collaborators: any implementation
// of IntentClassifier can serve, including model-backed ones. This package
// ships the keyword classifier used as the low-confidence fallback.
package classify

import "context"

// IntentGeneral is the catch-all intent used when nothing else resolves.
const IntentGeneral = "general"

// Result is a classification outcome.
type Result struct {
	// Intent is the resolved label (e.g. "code", "debug", "research").
	Intent string

	// Confidence is the classifier's confidence in [0, 1].
	Confidence float64
}

// IntentClassifier maps query text to an intent with a confidence score.
//
// Implementations must be safe for concurrent use and must respect context
// cancellation if they perform I/O.
type IntentClassifier interface {
	Classify(ctx context.Context, text string) (Result, error)
}
