// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// connectionStateGauge holds the numeric ConnectionState per endpoint.
	connectionStateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snapcast_connection_state",
			Help: "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 degraded, 4 reconnecting, 5 failed)",
		},
		[]string{"endpoint"},
	)

	reconnectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapcast_reconnect_attempts_total",
			Help: "Total number of failed connection attempts",
		},
		[]string{"endpoint"},
	)

	connectionHealthyGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snapcast_connection_healthy",
			Help: "Whether the connection has received traffic within the healthy threshold (1) or not (0)",
		},
		[]string{"endpoint"},
	)

	messagesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapcast_messages_received_total",
			Help: "Total number of framed messages read from the server",
		},
		[]string{"endpoint"},
	)

	messageQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snapcast_message_queue_depth",
			Help: "Number of framed messages waiting for dispatch",
		},
		[]string{"endpoint"},
	)

	breakerStateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snapcast_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"breaker"},
	)

	breakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapcast_circuit_breaker_rejections_total",
			Help: "Total number of operations rejected by an open circuit",
		},
		[]string{"breaker"},
	)

	rpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapcast_rpc_requests_total",
			Help: "Total number of RPC requests by method and outcome",
		},
		[]string{"method", "status"},
	)

	rpcRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapcast_rpc_request_duration_seconds",
			Help:    "Time from sending a request to resolving it, in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 10},
		},
		[]string{"method"},
	)

	rpcPendingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapcast_rpc_pending_requests",
			Help: "Number of requests waiting for a response",
		},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapcast_notifications_total",
			Help: "Total number of server notifications received by method",
		},
		[]string{"method"},
	)
)

// Request outcomes recorded in snapcast_rpc_requests_total.
const (
	statusOK        = "ok"
	statusRPCError  = "rpc_error"
	statusSendError = "send_error"
	statusTimeout   = "timeout"
	statusCancelled = "cancelled"
	statusClosed    = "closed"
)

func recordConnectionState(endpoint string, state ConnectionState) {
	connectionStateGauge.WithLabelValues(endpoint).Set(float64(state))
}

func recordReconnectAttempt(endpoint string) {
	reconnectAttemptsTotal.WithLabelValues(endpoint).Inc()
}

func recordHealth(endpoint string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	connectionHealthyGauge.WithLabelValues(endpoint).Set(v)
}

func recordRequest(method, status string, elapsed time.Duration) {
	rpcRequestsTotal.WithLabelValues(method, status).Inc()
	if status == statusOK || status == statusRPCError {
		rpcRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	}
}
