// Package schemaindex maps free-text questions to the table columns most
// likely relevant to them, using embedding similarity over enriched
// column descriptions.
package schemaindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/schemarag/schemarag/internal/embeddings"
	"github.com/schemarag/schemarag/internal/enrich"
	"github.com/schemarag/schemarag/internal/observability"
)

var (
	// ErrSchemaEmpty is returned when Build is called with no columns.
	ErrSchemaEmpty = errors.New("schemaindex: schema has no columns")
	// ErrNotInitialized is returned when Select runs before any Build.
	ErrNotInitialized = errors.New("schemaindex: index is not initialized")
)

// DefaultTopK matches the selection width the pipeline uses when the
// caller does not override it.
const DefaultTopK = 6

// snapshot is the immutable state served to Select. Columns and vectors
// are index-aligned and only ever replaced wholesale.
type snapshot struct {
	columns []string
	vectors [][]float32
}

// Index is the semantic schema index. Reads are lock-free against an
// atomically swapped snapshot; builds serialize on a mutex so that
// concurrent first callers produce exactly one build.
type Index struct {
	embedder  embeddings.Embedder
	describer enrich.Describer

	buildMu sync.Mutex
	state   atomic.Pointer[snapshot]
}

func New(embedder embeddings.Embedder, describer enrich.Describer) *Index {
	return &Index{embedder: embedder, describer: describer}
}

// Built reports whether a snapshot is available.
func (i *Index) Built() bool {
	return i.state.Load() != nil
}

// Columns returns the build-time column order of the current snapshot.
func (i *Index) Columns() []string {
	state := i.state.Load()
	if state == nil {
		return nil
	}
	out := make([]string, len(state.columns))
	copy(out, state.columns)
	return out
}

// Build initializes the index from the given column list. Once a
// snapshot exists the call is a no-op, even if the column list differs;
// callers owning schema migrations must use Rebuild instead.
func (i *Index) Build(ctx context.Context, columns []string) error {
	i.buildMu.Lock()
	defer i.buildMu.Unlock()

	if i.state.Load() != nil {
		return nil
	}
	return i.buildLocked(ctx, columns)
}

// Rebuild replaces the snapshot unconditionally. Readers observe either
// the previous complete snapshot or the new one, never a mix.
func (i *Index) Rebuild(ctx context.Context, columns []string) error {
	i.buildMu.Lock()
	defer i.buildMu.Unlock()
	return i.buildLocked(ctx, columns)
}

func (i *Index) buildLocked(ctx context.Context, columns []string) error {
	if len(columns) == 0 {
		return ErrSchemaEmpty
	}

	texts := make([]string, len(columns))
	for pos, column := range columns {
		description, err := i.describer.Describe(column)
		if err != nil {
			return fmt.Errorf("enrich column %q: %w", column, err)
		}
		texts[pos] = description
	}

	vectors, err := i.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed column descriptions: %w", err)
	}
	if len(vectors) != len(columns) {
		return fmt.Errorf("embedder returned %d vectors for %d columns", len(vectors), len(columns))
	}

	stored := make([]string, len(columns))
	copy(stored, columns)
	normalized := make([][]float32, len(vectors))
	for pos, vector := range vectors {
		normalized[pos] = embeddings.NormalizeL2(vector)
	}

	i.state.Store(&snapshot{columns: stored, vectors: normalized})
	observability.ObserveIndexBuild()
	return nil
}

// Select returns the names of the topK columns most similar to the
// query, ordered by descending similarity. Ties rank the column that
// appeared earlier in the build-time column list first. topK larger
// than the column count is clamped, never padded.
func (i *Index) Select(ctx context.Context, query string, topK int) ([]string, error) {
	state := i.state.Load()
	if state == nil {
		return nil, ErrNotInitialized
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if topK < 1 {
		return nil, fmt.Errorf("top-k must be >= 1, got %d", topK)
	}
	if topK > len(state.columns) {
		topK = len(state.columns)
	}

	vectors, err := i.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}
	queryVector := embeddings.NormalizeL2(vectors[0])

	type scored struct {
		position int
		score    float64
	}
	scores := make([]scored, len(state.vectors))
	for pos, vector := range state.vectors {
		score, err := embeddings.Dot(queryVector, vector)
		if err != nil {
			return nil, fmt.Errorf("score column %q: %w", state.columns[pos], err)
		}
		scores[pos] = scored{position: pos, score: score}
	}

	sort.SliceStable(scores, func(a, b int) bool {
		if scores[a].score != scores[b].score {
			return scores[a].score > scores[b].score
		}
		return scores[a].position < scores[b].position
	})

	selected := make([]string, topK)
	for rank := 0; rank < topK; rank++ {
		selected[rank] = state.columns[scores[rank].position]
	}
	return selected, nil
}
