// Package metrics exposes the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LiveConnections tracks open push connections per channel family.
	LiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "restocore",
		Subsystem: "hub",
		Name:      "live_connections",
		Help:      "Open live push connections by channel kind.",
	}, []string{"channel"})

	// FramesDropped counts connections evicted after a failed write.
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "restocore",
		Subsystem: "hub",
		Name:      "frames_dropped_total",
		Help:      "Connections evicted after a failed frame write.",
	})

	// EventsPublished counts domain events by type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "restocore",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Domain events published on the in-process bus.",
	}, []string{"type"})

	// TicketsCreated counts kitchen tickets produced by the dispatcher.
	TicketsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "restocore",
		Subsystem: "tickets",
		Name:      "created_total",
		Help:      "Kitchen tickets created.",
	})

	// PaymentsCompleted counts completed payments by method.
	PaymentsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "restocore",
		Subsystem: "payments",
		Name:      "completed_total",
		Help:      "Payments completed by tender method.",
	}, []string{"method"})

	// WebhookDuplicates counts provider notifications dropped as duplicates.
	WebhookDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "restocore",
		Subsystem: "webhooks",
		Name:      "duplicates_total",
		Help:      "Provider webhook deliveries deduplicated by reference.",
	})

	// DraftsExpired counts drafts transitioned to expired by the sweeper.
	DraftsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "restocore",
		Subsystem: "drafts",
		Name:      "expired_total",
		Help:      "Pending drafts expired by the TTL sweeper.",
	})

	// LocksReleased counts stale draft locks released by the sweeper.
	LocksReleased = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "restocore",
		Subsystem: "drafts",
		Name:      "locks_released_total",
		Help:      "Stale draft locks released by the TTL sweeper.",
	})

	// HTTPRequests counts API requests by method and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "restocore",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method and status.",
	}, []string{"method", "status"})
)
