package pipeline

import "sync"

// MetricsRecord is one completed run's measurements, in the shape the
// session metrics endpoint serves.
type MetricsRecord struct {
	SchemaMs float64 `json:"schema_ms"`
	SQLMs    float64 `json:"sql_ms"`
	LLMMs    float64 `json:"llm_ms"`
	Rows     int     `json:"rows"`
}

// SessionStore holds an append-only metrics log per session, in memory.
// Records survive for the lifetime of the process only.
type SessionStore struct {
	mu      sync.Mutex
	records map[string][]MetricsRecord
}

func NewSessionStore() *SessionStore {
	return &SessionStore{records: make(map[string][]MetricsRecord)}
}

func (s *SessionStore) Append(session string, record MetricsRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[session] = append(s.records[session], record)
}

// Records returns the session's log in append order. An unknown session
// yields an empty slice, not an error.
func (s *SessionStore) Records(session string) []MetricsRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MetricsRecord, len(s.records[session]))
	copy(out, s.records[session])
	return out
}
