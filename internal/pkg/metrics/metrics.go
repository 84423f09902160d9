package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hookgate_alerts_total",
		Help: "The total number of inbound alerts evaluated",
	}, []string{"decision"})

	GuardrailRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hookgate_guardrail_rejects_total",
		Help: "Total guardrail rejections",
	}, []string{"reason"})

	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hookgate_deliveries_total",
		Help: "The total number of webhook delivery attempts",
	}, []string{"status"})

	DeliveryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hookgate_delivery_latency_seconds",
		Help:    "Outbound webhook delivery latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"webhook_id"})

	DispatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hookgate_dispatch_queue_depth",
		Help: "Delivery tasks waiting for a dispatch worker",
	})

	AuditWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hookgate_audit_write_failures_total",
		Help: "Guardrail audit records that failed to persist",
	})

	AuditDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hookgate_audit_dropped_total",
		Help: "Guardrail audit records dropped due to a full buffer",
	})

	LedgerWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hookgate_ledger_write_failures_total",
		Help: "Delivery ledger rows that failed to persist",
	})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hookgate_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
