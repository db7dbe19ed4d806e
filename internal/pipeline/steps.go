package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dvloznov/finance-sync/internal/csvimport"
	"github.com/dvloznov/finance-sync/internal/logger"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// PipelineStep represents a single step in the import pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	// Name is the file name; its extension selects the reader.
	Name   string
	Source io.Reader

	Text   string
	Parsed *csvimport.Parsed
	Result csvimport.Result
	Commit CommitResult

	// Message is the user-facing outcome of the run.
	Message string
}

// Step 1: ReadStep decodes the source into delimited text.
type ReadStep struct{}

func (s *ReadStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Source == nil {
		return fmt.Errorf("read %s: no source", state.Name)
	}

	if strings.EqualFold(filepath.Ext(state.Name), ".xlsx") {
		text, err := csvimport.ReadWorkbook(state.Source)
		if err != nil {
			state.Message = fmt.Sprintf("Error reading file: %v", err)
			return err
		}
		state.Text = text
		return nil
	}

	// Spreadsheet exports are often UTF-16 or carry a UTF-8 BOM.
	r := transform.NewReader(state.Source, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	data, err := io.ReadAll(r)
	if err != nil {
		state.Message = fmt.Sprintf("Error reading file: %v", err)
		return fmt.Errorf("read %s: %w", state.Name, err)
	}
	state.Text = string(data)
	return nil
}

// Step 2: ParseStep locates the header and extracts data rows.
type ParseStep struct{}

func (s *ParseStep) Execute(ctx context.Context, state *PipelineState) error {
	parsed, err := csvimport.Parse(state.Text)
	if err != nil {
		state.Message = fmt.Sprintf("Error reading file: %v", err)
		return fmt.Errorf("parse %s: %w", state.Name, err)
	}
	state.Parsed = parsed

	log := logger.FromContext(ctx)
	if len(parsed.Missing) > 0 {
		log.Warn().
			Str("file", state.Name).
			Strs("columns", parsed.Columns).
			Strs("missing", parsed.Missing).
			Msg("required columns not found")
	}
	log.Debug().
		Str("file", state.Name).
		Int("header_line", parsed.HeaderLine).
		Int("count", len(parsed.Rows)).
		Msg("parsed import file")
	return nil
}

// Step 3: ProcessStep validates rows and applies the partial-import policy.
type ProcessStep struct {
	Options Options
}

func (s *ProcessStep) Execute(ctx context.Context, state *PipelineState) error {
	var rows []csvimport.Row
	if state.Parsed != nil {
		rows = state.Parsed.Rows
	}
	state.Result = csvimport.Process(rows, csvimport.Options{
		Year:  s.Options.Year,
		Payer: s.Options.Payer,
	})
	state.Message = state.Result.Message

	log := logger.FromContext(ctx)
	for _, f := range state.Result.Failures {
		log.Warn().Int("row", f.Row).Str("reason", f.Reason).Msg("rejected import row")
	}

	if len(state.Result.Records) == 0 {
		return fmt.Errorf("%w: %s", ErrRejected, state.Result.Message)
	}
	if !state.Result.Success && !s.Options.AllowPartial {
		return fmt.Errorf("%w: %d of %d rows invalid",
			ErrRejected, len(state.Result.Failures), len(rows))
	}
	return nil
}

// Step 4: CommitStep merges the accepted records into the sink.
type CommitStep struct {
	Sink Sink
}

func (s *CommitStep) Execute(ctx context.Context, state *PipelineState) error {
	res, err := s.Sink.Commit(state.Result.Records, state.Result.Categories)
	if err != nil {
		state.Message = fmt.Sprintf("Error saving data: %v", err)
		return fmt.Errorf("commit %s: %w", state.Name, err)
	}
	state.Commit = res

	state.Message = fmt.Sprintf("Successfully uploaded %d expenses. Total expenses now: %d",
		res.Expenses, res.TotalExpenses)
	if len(state.Result.Failures) > 0 {
		state.Message += fmt.Sprintf(" (%d rows skipped)\n%s", len(state.Result.Failures), state.Result.Message)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("file", state.Name).
		Int("count", res.Expenses).
		Int("categories", res.Categories).
		Int("total", res.TotalExpenses).
		Msg("import committed")
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// NewImportPipeline creates the standard four-step import pipeline.
func NewImportPipeline(sink Sink, opts Options) *Pipeline {
	return NewPipeline(
		&ReadStep{},
		&ParseStep{},
		&ProcessStep{Options: opts},
		&CommitStep{Sink: sink},
	)
}
