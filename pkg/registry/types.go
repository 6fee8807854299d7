// Copyright (c) The SecureFlow Authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import "time"

// HealthStatus is the liveness state of an endpoint.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// Strategy selects how the load balancer picks among healthy endpoints of a service.
type Strategy string

const (
	StrategyRoundRobin       Strategy = "round_robin"
	StrategyLeastConnections Strategy = "least_connections"
	StrategyLatencyBased     Strategy = "latency_based"
	StrategyOptimizedScore   Strategy = "optimized_score"

	// StrategyDefault is used when a service does not name a strategy.
	StrategyDefault = StrategyRoundRobin
)

// EndpointMetrics is a snapshot of the live metrics of a single endpoint.
// All values are derived from actual call outcomes reported by the orchestrator.
type EndpointMetrics struct {
	// RequestsPerSecond is the observed request rate over the current window.
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	// AvgResponseTime is the running average response time, in milliseconds.
	AvgResponseTime float64 `json:"avgResponseTime"`
	// ErrorRate is the fraction of completed calls that failed, in [0, 1].
	ErrorRate float64 `json:"errorRate"`
	// OpenConnections is the number of calls currently in flight.
	OpenConnections int `json:"openConnections"`
	// BytesTransferred is the total number of bytes served.
	BytesTransferred int64 `json:"bytesTransferred"`
}

// MetricsDelta describes a single metrics update for an endpoint.
type MetricsDelta struct {
	// Completed marks the delta as reporting a finished call.
	Completed bool
	// Failed marks a completed call as failed.
	Failed bool
	// Latency of a completed call.
	Latency time.Duration
	// ConnectionDelta adjusts the open-connection count.
	ConnectionDelta int
	// Bytes transferred by the call.
	Bytes int64
}

// Endpoint identifies one network-addressable instance of a service.
type Endpoint struct {
	ID       string `json:"id"`
	Address  string `json:"address"`
	Port     uint16 `json:"port"`
	Protocol string `json:"protocol"`
	// SecureChannelCapable marks endpoints eligible for requests that
	// mandate a secure channel.
	SecureChannelCapable bool            `json:"secureChannelCapable"`
	Status               HealthStatus    `json:"status"`
	Capabilities         []string        `json:"capabilities,omitempty"`
	Metrics              EndpointMetrics `json:"metrics"`

	// unexported request-rate window state, maintained by the registry
	completedCalls int
	failedCalls    int
	windowStart    time.Time
	windowCount    int
}

// HealthCheckConfig configures the periodic reachability probes for the
// endpoints of a single service.
type HealthCheckConfig struct {
	// Path is the HTTP path probed on each endpoint. Empty disables probing.
	Path string `json:"path,omitempty"`
	// Interval between consecutive probes of the same endpoint.
	Interval time.Duration `json:"interval"`
	// Timeout of a single probe.
	Timeout time.Duration `json:"timeout"`
	// HealthyThreshold is the number of consecutive successful probes
	// required to mark an endpoint healthy.
	HealthyThreshold int `json:"healthyThreshold"`
	// UnhealthyThreshold is the number of consecutive failed probes
	// required to mark an endpoint unhealthy.
	UnhealthyThreshold int `json:"unhealthyThreshold"`
}

// ServiceEndpointSet maps a service name to its candidate endpoints,
// load-balancing strategy and health-check configuration.
type ServiceEndpointSet struct {
	Service     string            `json:"service"`
	Strategy    Strategy          `json:"strategy"`
	HealthCheck HealthCheckConfig `json:"healthCheck"`
	Endpoints   []*Endpoint       `json:"endpoints"`
}
