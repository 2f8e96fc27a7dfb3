package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schemarag_questions_total",
			Help: "Total number of questions answered end to end.",
		},
	)
	pipelineFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schemarag_pipeline_failures_total",
			Help: "Total number of pipeline failures by stage.",
		},
		[]string{"stage"},
	)
	stageLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schemarag_stage_latency_ms",
			Help:    "Pipeline stage latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"stage"},
	)
	rowsUsed = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "schemarag_rows_used",
			Help:    "Rows handed to the generation model per question.",
			Buckets: []float64{0, 10, 25, 50, 100, 200, 500},
		},
	)
	indexBuildsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schemarag_index_builds_total",
			Help: "Total number of semantic schema index builds.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		pipelineFailuresTotal,
		stageLatencyMs,
		rowsUsed,
		indexBuildsTotal,
	)
}

// ObserveQuestion records a completed pipeline run. Latencies are
// observed as fractional milliseconds so sub-millisecond stages keep
// their magnitude instead of collapsing to 0.
func ObserveQuestion(schemaElapsed, sqlElapsed, llmElapsed time.Duration, rows int) {
	questionsTotal.Inc()
	stageLatencyMs.WithLabelValues("select_schema").Observe(durationMillis(schemaElapsed))
	stageLatencyMs.WithLabelValues("retrieve").Observe(durationMillis(sqlElapsed))
	stageLatencyMs.WithLabelValues("generate").Observe(durationMillis(llmElapsed))
	if rows >= 0 {
		rowsUsed.Observe(float64(rows))
	}
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func ObservePipelineFailure(stage string) {
	pipelineFailuresTotal.WithLabelValues(stage).Inc()
}

func ObserveIndexBuild() {
	indexBuildsTotal.Inc()
}
