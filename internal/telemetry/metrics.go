package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trivia"

var (
	AnswersScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "answers_scored_total",
		Help:      "Submissions scored, by question type and correctness.",
	}, []string{"type", "correct"})

	MalformedPayloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "malformed_payloads_total",
		Help:      "Multi-answer submissions that could not be parsed and were scored as incorrect.",
	}, []string{"type"})

	Reveals = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reveals_total",
		Help:      "Questions whose correct answer was revealed.",
	})

	Advances = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "advances_total",
		Help:      "Question advancements, by the type of the next question or \"end\".",
	}, []string{"next"})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_connections",
		Help:      "Client connections currently attached to this instance.",
	})

	EventsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_handled_total",
		Help:      "Event bus handler invocations, by event name and result.",
	}, []string{"event", "result"})
)
