package prometheus

import (
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pulse"

var factory = promauto.With(Registry)

var (
	// ClicksIngested counts click events by outcome.
	ClicksIngested = factory.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "clicks_ingested_total",
		Help:      "Click events processed by the ingest pipeline (created, duplicate, rejected, failed).",
	}, []string{"outcome"})

	// IngestStepFailures counts absorbed failures of post-persist ingestion steps.
	IngestStepFailures = factory.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_step_failures_total",
		Help:      "Ingestion side-effect failures that were logged and skipped.",
	}, []string{"step"})

	// DimensionLookups counts dimension resolution by cache result.
	DimensionLookups = factory.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "dimension_lookups_total",
		Help:      "Location/device resolutions by dimension and result.",
	}, []string{"dimension", "result"})

	// OwnershipChecks counts ownership verifications by result.
	OwnershipChecks = factory.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "ownership_checks_total",
		Help:      "Ownership verifications by result (cached, granted, denied, unavailable).",
	}, []string{"result"})

	// BatchForwards counts batch-update publications to the analytics stream.
	BatchForwards = factory.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "batch_forwards_total",
		Help:      "Per-click batch updates handed to the analytics stream.",
	}, []string{"outcome"})

	// RealtimeConnections tracks open socket connections.
	RealtimeConnections = factory.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "realtime_connections",
		Help:      "Open realtime socket connections.",
	})

	// RealtimeDropped counts frames dropped because a client's buffer was full.
	RealtimeDropped = factory.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "realtime_dropped_frames_total",
		Help:      "Frames dropped for slow realtime clients.",
	})

	// IngestLatency observes CreateClick duration.
	IngestLatency = factory.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "click_ingest_seconds",
		Help:      "Latency of click ingestion.",
		Buckets:   prom.DefBuckets,
	})
)
