package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/schemarag/schemarag/internal/auth"
	"github.com/schemarag/schemarag/internal/pipeline"
	"github.com/schemarag/schemarag/internal/schemaindex"
	"github.com/schemarag/schemarag/internal/store"
)

type askRequest struct {
	Session  string `json:"session"`
	Question string `json:"question"`
	Model    string `json:"model"`
}

type askResponse struct {
	Answer  string                 `json:"answer"`
	Model   string                 `json:"model"`
	Columns []string               `json:"columns"`
	Metrics pipeline.MetricsRecord `json:"metrics"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "pipeline is not configured", false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}

	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	model := strings.TrimSpace(request.Model)
	if model != "" && !deps.Generation.AllowsModel(model) {
		writeError(r.Context(), w, http.StatusBadRequest, "MODEL_NOT_ALLOWED", "model is not in the configured allowlist", false, map[string]any{
			"model":   model,
			"allowed": deps.Generation.Models,
		})
		return
	}
	session := strings.TrimSpace(request.Session)
	if session == "" {
		session = "default"
	}

	result, err := deps.Pipeline.Ask(r.Context(), session, request.Question, model)
	if err != nil {
		writeAskError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Answer:  result.Answer,
		Model:   result.Model,
		Columns: result.Columns,
		Metrics: result.Metrics,
	})
}

func writeAskError(w http.ResponseWriter, r *http.Request, err error) {
	var stageErr *pipeline.StageError
	stage := ""
	if errors.As(err, &stageErr) {
		stage = stageErr.Stage
	}

	switch {
	case errors.Is(err, schemaindex.ErrNotInitialized):
		writeError(r.Context(), w, http.StatusServiceUnavailable, "INDEX_NOT_READY", "schema index is not built yet", true, nil)
	case errors.Is(err, store.ErrUnknownColumn):
		writeError(r.Context(), w, http.StatusConflict, "SCHEMA_DRIFT", "table schema changed underneath the index; rebuild it", false, map[string]any{"stage": stage})
	case stage == pipeline.StageGenerate:
		writeError(r.Context(), w, http.StatusBadGateway, "GENERATION_FAILED", "answer generation failed", true, map[string]any{"details": err.Error()})
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "PIPELINE_FAILED", "pipeline execution failed", true, map[string]any{
			"stage":   stage,
			"details": err.Error(),
		})
	}
}

type schemaResponse struct {
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "pipeline is not configured", false, nil)
		return
	}
	columns := deps.Pipeline.Columns()
	if columns == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "INDEX_NOT_READY", "schema index is not built yet", true, nil)
		return
	}
	writeJSON(w, http.StatusOK, schemaResponse{
		Table:   deps.Pipeline.Table(),
		Columns: columns,
	})
}

type modelsResponse struct {
	Models  []string `json:"models"`
	Default string   `json:"default"`
}

func handleModels(deps Dependencies, w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, modelsResponse{
		Models:  deps.Generation.Models,
		Default: deps.Generation.DefaultModel(),
	})
}

type sessionMetricsResponse struct {
	Session string                   `json:"session"`
	Records []pipeline.MetricsRecord `json:"records"`
}

func handleSessionMetrics(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "pipeline is not configured", false, nil)
		return
	}
	session := r.PathValue("session")
	if strings.TrimSpace(session) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SESSION_REQUIRED", "session is required", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionMetricsResponse{
		Session: session,
		Records: deps.Pipeline.Sessions().Records(session),
	})
}

func handleIndexRebuild(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "pipeline is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	if err := deps.Pipeline.Rebuild(r.Context()); err != nil {
		if errors.Is(err, schemaindex.ErrSchemaEmpty) {
			writeError(r.Context(), w, http.StatusConflict, "SCHEMA_EMPTY", "table has no columns to index", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "REBUILD_FAILED", "index rebuild failed", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "rebuilt",
		"columns": len(deps.Pipeline.Columns()),
	})
}

// requireRole enforces a role only when an identity is present; with
// auth disabled there is no identity and every caller passes.
func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}
