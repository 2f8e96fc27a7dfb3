// Package pipeline orchestrates a question end to end: schema
// selection, bounded row retrieval, and grounded answer generation,
// with per-stage latency accounting.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/schemarag/schemarag/internal/answer"
	"github.com/schemarag/schemarag/internal/observability"
	"github.com/schemarag/schemarag/internal/schemaindex"
	"github.com/schemarag/schemarag/internal/store"
)

// Stage names used in errors, metrics, and logs.
const (
	StageSelectSchema = "select_schema"
	StageRetrieve     = "retrieve"
	StageGenerate     = "generate"
)

// StageError wraps a stage failure so callers can tell which part of
// the pipeline broke without parsing error text.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Result is a completed answer plus the measurements of the run that
// produced it.
type Result struct {
	Answer   string        `json:"answer"`
	Model    string        `json:"model"`
	Columns  []string      `json:"columns"`
	Metrics  MetricsRecord `json:"metrics"`
	Answered bool          `json:"answered"`
}

// Config bounds the pipeline's two width knobs.
type Config struct {
	Table    string
	TopK     int
	RowLimit int
}

// Pipeline wires the semantic index, the tabular store, and the answer
// generator. It is safe for concurrent use.
type Pipeline struct {
	index     *schemaindex.Index
	store     store.TabularStore
	generator answer.Generator
	sessions  *SessionStore
	logger    *slog.Logger

	table    string
	topK     int
	rowLimit int
}

func New(cfg Config, index *schemaindex.Index, tabular store.TabularStore, generator answer.Generator, sessions *SessionStore, logger *slog.Logger) (*Pipeline, error) {
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, fmt.Errorf("table is required")
	}
	if index == nil {
		return nil, fmt.Errorf("schema index is required")
	}
	if tabular == nil {
		return nil, fmt.Errorf("tabular store is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("answer generator is required")
	}
	if sessions == nil {
		sessions = NewSessionStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = schemaindex.DefaultTopK
	}
	rowLimit := cfg.RowLimit
	if rowLimit <= 0 {
		rowLimit = 200
	}
	return &Pipeline{
		index:     index,
		store:     tabular,
		generator: generator,
		sessions:  sessions,
		logger:    logger,
		table:     cfg.Table,
		topK:      topK,
		rowLimit:  rowLimit,
	}, nil
}

// Sessions exposes the per-session metrics log.
func (p *Pipeline) Sessions() *SessionStore { return p.sessions }

// Table returns the configured source table name.
func (p *Pipeline) Table() string { return p.table }

// Columns returns the columns the index was built from, in build order.
// Nil until Init has run.
func (p *Pipeline) Columns() []string { return p.index.Columns() }

// Init builds the semantic index from the live table schema. It runs
// before the pipeline accepts questions, so Ask can never observe an
// uninitialized index.
func (p *Pipeline) Init(ctx context.Context) error {
	columns, err := p.store.ListColumns(ctx, p.table)
	if err != nil {
		return fmt.Errorf("list columns of %q: %w", p.table, err)
	}
	if err := p.index.Build(ctx, columns); err != nil {
		return fmt.Errorf("build schema index: %w", err)
	}
	p.logger.InfoContext(ctx, "schema index ready", "table", p.table, "columns", len(columns))
	return nil
}

// Rebuild refreshes the index from the live schema. This is the
// recovery path after the table schema changes underneath a running
// service.
func (p *Pipeline) Rebuild(ctx context.Context) error {
	columns, err := p.store.ListColumns(ctx, p.table)
	if err != nil {
		return fmt.Errorf("list columns of %q: %w", p.table, err)
	}
	if err := p.index.Rebuild(ctx, columns); err != nil {
		return fmt.Errorf("rebuild schema index: %w", err)
	}
	p.logger.InfoContext(ctx, "schema index rebuilt", "table", p.table, "columns", len(columns))
	return nil
}

// Ask answers a question. A blank question is a no-op: it returns a
// zero Result with Answered false, records nothing, and is not an
// error. On success the run's metrics are appended to the session's
// log; failed runs leave the log untouched.
func (p *Pipeline) Ask(ctx context.Context, session, question, model string) (Result, error) {
	if strings.TrimSpace(question) == "" {
		return Result{}, nil
	}

	schemaStart := time.Now()
	columns, err := p.index.Select(ctx, question, p.topK)
	schemaElapsed := time.Since(schemaStart)
	if err != nil {
		return Result{}, p.fail(ctx, session, StageSelectSchema, err)
	}

	sqlStart := time.Now()
	rows, err := p.store.Retrieve(ctx, p.table, columns, p.rowLimit)
	sqlElapsed := time.Since(sqlStart)
	if err != nil {
		return Result{}, p.fail(ctx, session, StageRetrieve, err)
	}

	llmStart := time.Now()
	generated, err := p.generator.Generate(ctx, answer.Request{
		Question: question,
		Model:    model,
		Rows:     rows,
	})
	llmElapsed := time.Since(llmStart)
	if err != nil {
		return Result{}, p.fail(ctx, session, StageGenerate, err)
	}

	record := MetricsRecord{
		SchemaMs: millis(schemaElapsed),
		SQLMs:    millis(sqlElapsed),
		LLMMs:    millis(llmElapsed),
		Rows:     len(rows.Rows),
	}
	p.sessions.Append(session, record)
	observability.ObserveQuestion(schemaElapsed, sqlElapsed, llmElapsed, len(rows.Rows))
	p.logger.InfoContext(ctx, "question answered",
		"session", session,
		"model", generated.Model,
		"columns", len(columns),
		"rows", record.Rows,
		"schema_ms", record.SchemaMs,
		"sql_ms", record.SQLMs,
		"llm_ms", record.LLMMs,
	)

	return Result{
		Answer:   generated.Answer,
		Model:    generated.Model,
		Columns:  columns,
		Metrics:  record,
		Answered: true,
	}, nil
}

// millis converts a duration to fractional milliseconds. Stages often
// finish well under a millisecond; truncating would record them as 0.
func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func (p *Pipeline) fail(ctx context.Context, session, stage string, err error) error {
	observability.ObservePipelineFailure(stage)
	p.logger.ErrorContext(ctx, "pipeline stage failed",
		"session", session,
		"stage", stage,
		"error", err,
	)
	return &StageError{Stage: stage, Err: err}
}
