// Package metrics declares the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_requests_total",
		Help: "Chat sends by outcome.",
	}, []string{"outcome"})

	EntitlementDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entitlement_denials_total",
		Help: "Chat sends refused by the entitlement gate, by reason.",
	}, []string{"reason"})

	PipelineLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_latency_seconds",
		Help:    "Latency of answer pipeline calls.",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
	}, []string{"result"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_webhook_events_total",
		Help: "Billing webhook events by type and result.",
	}, []string{"type", "result"})
)
