package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/schemarag/schemarag/internal/answer"
	"github.com/schemarag/schemarag/internal/schemaindex"
	"github.com/schemarag/schemarag/internal/store"
)

// stubEmbedder returns fixed axis-aligned vectors per text so schema
// selection is deterministic without a network call.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vector, ok := s.vectors[text]
		if !ok {
			return nil, fmt.Errorf("no stub vector for %q", text)
		}
		out[i] = vector
	}
	return out, nil
}

func (s *stubEmbedder) Model() string { return "stub" }

type identityDescriber struct{}

func (identityDescriber) Describe(column string) (string, error) { return column, nil }

type stubStore struct {
	columns     []string
	rows        store.RowSet
	retrieveErr error
	listErr     error
}

func (s *stubStore) ListColumns(context.Context, string) ([]string, error) {
	return s.columns, s.listErr
}

func (s *stubStore) Retrieve(_ context.Context, _ string, columns []string, _ int) (store.RowSet, error) {
	if s.retrieveErr != nil {
		return store.RowSet{}, s.retrieveErr
	}
	rows := s.rows
	rows.Columns = columns
	return rows, nil
}

func (s *stubStore) HealthCheck(context.Context) error { return nil }
func (s *stubStore) Close() error                      { return nil }

type stubGenerator struct {
	result answer.Result
	err    error
	last   answer.Request
}

func (s *stubGenerator) Generate(_ context.Context, req answer.Request) (answer.Result, error) {
	s.last = req
	if s.err != nil {
		return answer.Result{}, s.err
	}
	return s.result, nil
}

func testIndex() *schemaindex.Index {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"Country":   {1, 0, 0},
		"Quantity":  {0, 1, 0},
		"UnitPrice": {0, 0, 1},
		"which country had the most orders": {1, 0, 0},
	}}
	return schemaindex.New(embedder, identityDescriber{})
}

func testPipeline(t *testing.T, tabular store.TabularStore, generator answer.Generator) *Pipeline {
	t.Helper()
	p, err := New(Config{Table: "transactions", TopK: 2, RowLimit: 200}, testIndex(), tabular, generator, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestPipelineAsk(t *testing.T) {
	tabular := &stubStore{
		columns: []string{"Country", "Quantity", "UnitPrice"},
		rows:    store.RowSet{Rows: [][]any{{"United Kingdom", int64(6)}, {"France", int64(8)}}},
	}
	generator := &stubGenerator{result: answer.Result{Answer: "France ordered the most.", Model: "llama-3.3-70b-versatile"}}
	p := testPipeline(t, tabular, generator)

	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	result, err := p.Ask(context.Background(), "session-1", "which country had the most orders", "")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !result.Answered {
		t.Fatal("Ask() answered = false, want true")
	}
	if result.Answer != "France ordered the most." {
		t.Fatalf("Ask() answer = %q", result.Answer)
	}
	if len(result.Columns) != 2 || result.Columns[0] != "Country" {
		t.Fatalf("Ask() columns = %v, want Country first", result.Columns)
	}
	if result.Metrics.Rows != 2 {
		t.Fatalf("Ask() metrics rows = %d, want 2", result.Metrics.Rows)
	}
	if generator.last.Question != "which country had the most orders" {
		t.Fatalf("generator saw question %q", generator.last.Question)
	}

	records := p.Sessions().Records("session-1")
	if len(records) != 1 {
		t.Fatalf("session records = %d, want 1", len(records))
	}
	if records[0].Rows != 2 {
		t.Fatalf("recorded rows = %d, want 2", records[0].Rows)
	}
}

func TestPipelineAskBlankQuestion(t *testing.T) {
	tabular := &stubStore{columns: []string{"Country"}}
	generator := &stubGenerator{}
	p := testPipeline(t, tabular, generator)
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	result, err := p.Ask(context.Background(), "session-1", "   ", "")
	if err != nil {
		t.Fatalf("Ask() error = %v, want nil for blank question", err)
	}
	if result.Answered {
		t.Fatal("Ask() answered = true, want false for blank question")
	}
	if got := p.Sessions().Records("session-1"); len(got) != 0 {
		t.Fatalf("session records = %d, want 0", len(got))
	}
}

func TestPipelineAskBeforeInit(t *testing.T) {
	tabular := &stubStore{columns: []string{"Country"}}
	p := testPipeline(t, tabular, &stubGenerator{})

	_, err := p.Ask(context.Background(), "s", "which country had the most orders", "")
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("Ask() error = %v, want StageError", err)
	}
	if stageErr.Stage != StageSelectSchema {
		t.Fatalf("stage = %q, want %q", stageErr.Stage, StageSelectSchema)
	}
	if !errors.Is(err, schemaindex.ErrNotInitialized) {
		t.Fatalf("Ask() error = %v, want ErrNotInitialized", err)
	}
}

func TestPipelineAskRetrieveFailure(t *testing.T) {
	tabular := &stubStore{
		columns:     []string{"Country"},
		retrieveErr: fmt.Errorf("%w: Country", store.ErrUnknownColumn),
	}
	p := testPipeline(t, tabular, &stubGenerator{})
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	_, err := p.Ask(context.Background(), "s", "which country had the most orders", "")
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("Ask() error = %v, want StageError", err)
	}
	if stageErr.Stage != StageRetrieve {
		t.Fatalf("stage = %q, want %q", stageErr.Stage, StageRetrieve)
	}
	if !errors.Is(err, store.ErrUnknownColumn) {
		t.Fatalf("Ask() error = %v, want ErrUnknownColumn", err)
	}
	if got := p.Sessions().Records("s"); len(got) != 0 {
		t.Fatalf("session records = %d, want 0 after failure", len(got))
	}
}

func TestPipelineAskGenerateFailure(t *testing.T) {
	tabular := &stubStore{columns: []string{"Country"}}
	generator := &stubGenerator{err: errors.New("model unavailable")}
	p := testPipeline(t, tabular, generator)
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	_, err := p.Ask(context.Background(), "s", "which country had the most orders", "")
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("Ask() error = %v, want StageError", err)
	}
	if stageErr.Stage != StageGenerate {
		t.Fatalf("stage = %q, want %q", stageErr.Stage, StageGenerate)
	}
	if got := p.Sessions().Records("s"); len(got) != 0 {
		t.Fatalf("session records = %d, want 0 after failure", len(got))
	}
}

func TestPipelineInitEmptySchema(t *testing.T) {
	tabular := &stubStore{columns: nil}
	p := testPipeline(t, tabular, &stubGenerator{})
	if err := p.Init(context.Background()); !errors.Is(err, schemaindex.ErrSchemaEmpty) {
		t.Fatalf("Init() error = %v, want ErrSchemaEmpty", err)
	}
}

func TestPipelineRebuildPicksUpNewColumns(t *testing.T) {
	tabular := &stubStore{columns: []string{"Country"}}
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"Country":  {1, 0},
		"Quantity": {0, 1},
	}}
	index := schemaindex.New(embedder, identityDescriber{})
	p, err := New(Config{Table: "transactions"}, index, tabular, &stubGenerator{}, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	tabular.columns = []string{"Country", "Quantity"}
	if err := p.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if got := index.Columns(); len(got) != 2 {
		t.Fatalf("index columns after rebuild = %v, want 2", got)
	}
}

func TestMillisKeepsSubMillisecondFractions(t *testing.T) {
	cases := []struct {
		elapsed time.Duration
		want    float64
	}{
		{250 * time.Microsecond, 0.25},
		{1500 * time.Microsecond, 1.5},
		{2 * time.Millisecond, 2},
	}
	for _, tc := range cases {
		if got := millis(tc.elapsed); got != tc.want {
			t.Errorf("millis(%v) = %v, want %v", tc.elapsed, got, tc.want)
		}
	}
}

func TestPipelineAskRecordsSubMillisecondStages(t *testing.T) {
	tabular := &stubStore{columns: []string{"Country"}}
	generator := &slowGenerator{delay: 200 * time.Microsecond}
	p := testPipeline(t, tabular, generator)
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	result, err := p.Ask(context.Background(), "s", "which country had the most orders", "")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if result.Metrics.LLMMs <= 0 {
		t.Fatalf("llm_ms = %v, want > 0 for a stage that did work", result.Metrics.LLMMs)
	}
	if result.Metrics.SchemaMs < 0 || result.Metrics.SQLMs < 0 {
		t.Fatalf("metrics = %+v, want non-negative stage latencies", result.Metrics)
	}
}

type slowGenerator struct {
	delay time.Duration
}

func (s *slowGenerator) Generate(context.Context, answer.Request) (answer.Result, error) {
	time.Sleep(s.delay)
	return answer.Result{Answer: "ok", Model: "llama-3.3-70b-versatile"}, nil
}

func TestSessionStoreAppendOrder(t *testing.T) {
	sessions := NewSessionStore()
	sessions.Append("s", MetricsRecord{Rows: 1})
	sessions.Append("s", MetricsRecord{Rows: 2})
	records := sessions.Records("s")
	if len(records) != 2 || records[0].Rows != 1 || records[1].Rows != 2 {
		t.Fatalf("Records() = %v, want append order preserved", records)
	}
	if got := sessions.Records("missing"); len(got) != 0 {
		t.Fatalf("Records(missing) = %v, want empty", got)
	}
}
