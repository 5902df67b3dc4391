// Package stage holds the narrow adapters to the pipeline's external
// collaborators: text extraction, the retrieval backend, and the language
// model. Each adapter returns a result or an error; nothing escapes a stage
// boundary uncaught.
package stage

import (
	"context"

	"github.com/doclens/backend/internal/session"
)

// Document is one retrieval result.
type Document struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Analysis is the structured output of the language model.
type Analysis struct {
	Sections map[string]string
	RawText  string
	Usage    session.Usage
}

type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
}

type Retriever interface {
	// IndexDocument adds text to the retrieval corpus and returns the
	// document id. Indexing is advisory: callers treat failure as non-fatal.
	IndexDocument(ctx context.Context, text string, metadata map[string]any) (string, error)

	// ProbeAvailable reports whether the retrieval backend is reachable.
	// It is bounded by the adapter's probe timeout and never errors.
	ProbeAvailable(ctx context.Context) bool

	Query(ctx context.Context, text string, k int, hybrid bool) ([]Document, error)
}

type Analyzer interface {
	AnalyzeDirect(ctx context.Context, text string) (*Analysis, error)
	AnalyzeWithContext(ctx context.Context, text string, docs []Document) (*Analysis, error)
}
