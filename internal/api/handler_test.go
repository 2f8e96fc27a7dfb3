package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/schemarag/schemarag/internal/auth"
	"github.com/schemarag/schemarag/internal/config"
	"github.com/schemarag/schemarag/internal/pipeline"
)

type stubPipeline struct {
	result   pipeline.Result
	askErr   error
	rebErr   error
	columns  []string
	sessions *pipeline.SessionStore

	lastSession  string
	lastQuestion string
	lastModel    string
	rebuilds     int
}

func newStubPipeline() *stubPipeline {
	return &stubPipeline{
		result: pipeline.Result{
			Answer:   "United Kingdom ordered the most.",
			Model:    "llama-3.3-70b-versatile",
			Columns:  []string{"Country", "Quantity"},
			Metrics:  pipeline.MetricsRecord{SchemaMs: 3, SQLMs: 5, LLMMs: 250, Rows: 200},
			Answered: true,
		},
		columns:  []string{"InvoiceNo", "Quantity", "UnitPrice", "Country"},
		sessions: pipeline.NewSessionStore(),
	}
}

func (s *stubPipeline) Ask(_ context.Context, session, question, model string) (pipeline.Result, error) {
	s.lastSession = session
	s.lastQuestion = question
	s.lastModel = model
	if s.askErr != nil {
		return pipeline.Result{}, s.askErr
	}
	return s.result, nil
}

func (s *stubPipeline) Rebuild(context.Context) error {
	s.rebuilds++
	return s.rebErr
}

func (s *stubPipeline) Table() string                    { return "transactions" }
func (s *stubPipeline) Columns() []string                { return s.columns }
func (s *stubPipeline) Sessions() *pipeline.SessionStore { return s.sessions }

func testConfig() config.Config {
	cfg, err := config.Load("schemarag-api", func(string) (string, bool) { return "", false })
	if err != nil {
		panic(err)
	}
	return cfg
}

func TestHealthEndpoint(t *testing.T) {
	handler := NewHandler(testConfig(), Dependencies{Pipeline: newStubPipeline()})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", recorder.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("health body = %v", body)
	}
}

func TestReadyEndpoint(t *testing.T) {
	failing := func(context.Context) error { return errors.New("store is down") }

	handler := NewHandler(testConfig(), Dependencies{
		Pipeline:  newStubPipeline(),
		Readiness: failing,
	})
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready status = %d, want 503", recorder.Code)
	}

	handler = NewHandler(testConfig(), Dependencies{
		Pipeline:  newStubPipeline(),
		Readiness: CombineReadinessChecks(nil, func(context.Context) error { return nil }),
	})
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("ready status = %d, want 200", recorder.Code)
	}
}

func TestCheckIndexBuilt(t *testing.T) {
	built := false
	check := CheckIndexBuilt(func() bool { return built })
	if err := check(context.Background()); err == nil {
		t.Fatal("CheckIndexBuilt() error = nil, want failure before build")
	}
	built = true
	if err := check(context.Background()); err != nil {
		t.Fatalf("CheckIndexBuilt() error = %v", err)
	}
}

func TestMetricsEndpointIsOpen(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Required = true

	validator, err := auth.NewStaticAPIKeyValidator("k1:svc:reader")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	handler := NewHandler(cfg, Dependencies{
		Pipeline:       newStubPipeline(),
		AuthMiddleware: auth.Middleware(nil, validator),
	})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/metrics", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200 without credentials", recorder.Code)
	}
}

func TestProtectedEndpointRequiresKey(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Required = true

	validator, err := auth.NewStaticAPIKeyValidator("k1:svc:reader")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	handler := NewHandler(cfg, Dependencies{
		Pipeline:       newStubPipeline(),
		Generation:     cfg.Generation,
		AuthMiddleware: auth.Middleware(nil, validator),
	})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"q"}`))
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("ask without key status = %d, want 401", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"q"}`))
	request.Header.Set("X-API-Key", "k1")
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("ask with key status = %d, want 200", recorder.Code)
	}
}

func TestAuthRequiredWithoutMiddleware(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Required = true

	handler := NewHandler(cfg, Dependencies{Pipeline: newStubPipeline(), Generation: cfg.Generation})
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"q"}`))
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 when middleware is missing", recorder.Code)
	}
}
