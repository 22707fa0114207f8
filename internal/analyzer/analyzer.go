// Package analyzer defines the code-analysis collaborator the repository
// processor calls for each eligible file.
package analyzer

import "context"

// Analysis is the outcome of analyzing one file's source text.
type Analysis struct {
	OptimizedCode    string
	Score            float64
	Metrics          map[string]any
	IntegrationNotes []string
}

// Analyzer produces an optimized version of a piece of source code together
// with an impact assessment. Implementations may be slow and may fail; the
// caller treats every call as an independent attempt.
type Analyzer interface {
	Analyze(ctx context.Context, sourceCode string) (*Analysis, error)
}
