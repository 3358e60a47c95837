// Package extract turns source report documents into streams of raw
// transactions. Both supported formats are walked with the same tree
// traversal; format differences live in small node adapters.
package extract

import (
	"context"
	"errors"
	"io"

	"github.com/dvloznov/finance-analyst/internal/domain"
)

// Source system tags.
const (
	SourceQuickBooks = "quickbooks"
	SourceRootfi     = "rootfi"
)

// ErrUnsupportedShape is returned when a document does not have the
// top-level shape an extractor expects. It is fatal for the source run.
var ErrUnsupportedShape = errors.New("unsupported document shape")

// EmitFunc receives each extracted record. Returning an error stops extraction
// and the error is returned from Extract unchanged.
type EmitFunc func(domain.RawTransaction) error

// Stats counts what happened to the nodes of one document.
type Stats struct {
	// Emitted records were handed to the EmitFunc.
	Emitted int
	// Skipped cells or nodes had no value to emit.
	Skipped int
	// Failed nodes were malformed and were logged and dropped.
	Failed int
}

// Extractor streams one document format. Extract reads r once; calling it
// again with a fresh reader restarts from scratch.
type Extractor interface {
	Source() string
	Extract(ctx context.Context, r io.Reader, emit EmitFunc) (Stats, error)
}

// ForSource returns the extractor registered for a source system tag.
func ForSource(source string) (Extractor, bool) {
	switch source {
	case SourceQuickBooks:
		return NewQuickBooks(), true
	case SourceRootfi:
		return NewRootfi(), true
	}
	return nil, false
}
