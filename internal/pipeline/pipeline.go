// Package pipeline imports expense spreadsheets into a user's data.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dvloznov/finance-sync/internal/logger"
)

// ErrRejected is returned when an import is refused as a whole and nothing
// was committed.
var ErrRejected = errors.New("import rejected")

// Options configures an import run.
type Options struct {
	Year  int
	Payer string

	// AllowPartial commits the valid rows of a file that also has invalid
	// ones. By default any invalid row rejects the whole file.
	AllowPartial bool
}

// Import runs the standard pipeline over r. The returned state is never nil
// and carries the row failures and a user-facing message even on error.
func Import(ctx context.Context, name string, r io.Reader, sink Sink, opts Options) (*PipelineState, error) {
	state := &PipelineState{Name: name, Source: r}

	log := logger.FromContext(ctx).With().Str("file", name).Logger()
	ctx = logger.WithContext(ctx, log)

	if err := NewImportPipeline(sink, opts).Execute(ctx, state); err != nil {
		log.Warn().Err(err).Msg("import failed")
		return state, err
	}
	return state, nil
}

// ImportFile opens path and imports it.
func ImportFile(ctx context.Context, path string, sink Sink, opts Options) (*PipelineState, error) {
	f, err := os.Open(path)
	if err != nil {
		return &PipelineState{
			Name:    filepath.Base(path),
			Message: fmt.Sprintf("Error reading file: %v", err),
		}, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	return Import(ctx, filepath.Base(path), f, sink, opts)
}
