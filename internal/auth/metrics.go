// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Session event labels.
const (
	EventIssued         = "issued"
	EventRotated        = "rotated"
	EventRotationLost   = "rotation_lost"
	EventRotationFailed = "rotation_failed"
	EventInvalidated    = "invalidated"
	EventExpired        = "expired"
	EventSwept          = "swept"
)

// Auth attempt status labels.
const (
	StatusSuccess   = "success"
	StatusInvalid   = "invalid"
	StatusDuplicate = "duplicate"
	StatusNotFound  = "not_found"
	StatusMismatch  = "mismatch"
	StatusError     = "error"
)

// SessionEvents counts session lifecycle transitions.
// Use RegisterMetrics to register this with a Prometheus registry.
var SessionEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeep_session_events_total",
		Help: "Total number of session lifecycle events",
	},
	[]string{"event"},
)

// AuthAttempts counts sign-up and login attempts by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var AuthAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeep_auth_attempts_total",
		Help: "Total number of authentication attempts by operation and status",
	},
	[]string{"operation", "status"},
)

// PasswordHashDuration observes time spent in the password hasher.
// Use RegisterMetrics to register this with a Prometheus registry.
var PasswordHashDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "gatekeep_password_hash_seconds",
		Help:    "Password hash and verify duration in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	},
	[]string{"operation"},
)

// RegisterMetrics registers auth package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(SessionEvents)
	reg.MustRegister(AuthAttempts)
	reg.MustRegister(PasswordHashDuration)
}

func recordSessionEvent(event string) {
	SessionEvents.WithLabelValues(event).Inc()
}

func recordSessionEvents(event string, n int64) {
	SessionEvents.WithLabelValues(event).Add(float64(n))
}

func recordAuthAttempt(operation, status string) {
	AuthAttempts.WithLabelValues(operation, status).Inc()
}

func recordHashDuration(operation string, d time.Duration) {
	PasswordHashDuration.WithLabelValues(operation).Observe(d.Seconds())
}
