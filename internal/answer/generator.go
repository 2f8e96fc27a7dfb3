// Package answer turns a question plus retrieved rows into a grounded
// natural-language answer via an OpenAI-compatible chat completion API.
package answer

import (
	"context"

	"github.com/schemarag/schemarag/internal/store"
)

// Request carries everything the model is allowed to see: the question
// and the rows retrieved for it. The model must not answer from
// anything else.
type Request struct {
	Question string       `json:"question"`
	Model    string       `json:"model"`
	Rows     store.RowSet `json:"rows"`
}

type Result struct {
	Answer   string `json:"answer"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}
