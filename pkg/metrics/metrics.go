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

// Package metrics aggregates per-request records emitted by the orchestrator
// and exposes them for external collection.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/sirupsen/logrus"
)

// Record describes the outcome of a single routed request.
type Record struct {
	Service       string        `json:"service"`
	EndpointID    string        `json:"endpointID"`
	Latency       time.Duration `json:"latency"`
	Success       bool          `json:"success"`
	SecureChannel bool          `json:"secureChannel"`
	Timestamp     time.Time     `json:"timestamp"`
}

// ServiceStats is the aggregate view of all records of one service.
type ServiceStats struct {
	Requests       int64         `json:"requests"`
	Failures       int64         `json:"failures"`
	SecureRequests int64         `json:"secureRequests"`
	AvgLatency     time.Duration `json:"avgLatency"`
	LastSeen       time.Time     `json:"lastSeen"`
}

// Manager aggregates request records per service.
type Manager struct {
	lock     sync.RWMutex
	services map[string]*ServiceStats

	logger *logrus.Entry
}

// NewManager returns a new empty metrics manager.
func NewManager() *Manager {
	return &Manager{
		services: make(map[string]*ServiceStats),
		logger:   logrus.WithField("component", "metrics"),
	}
}

// Record aggregates one request outcome.
func (m *Manager) Record(rec Record) {
	m.lock.Lock()
	defer m.lock.Unlock()

	stats, ok := m.services[rec.Service]
	if !ok {
		stats = &ServiceStats{}
		m.services[rec.Service] = stats
	}

	stats.Requests++
	if !rec.Success {
		stats.Failures++
	}
	if rec.SecureChannel {
		stats.SecureRequests++
	}
	stats.AvgLatency += (rec.Latency - stats.AvgLatency) / time.Duration(stats.Requests)
	stats.LastSeen = rec.Timestamp
}

// Snapshot returns a copy of the aggregated per-service stats.
func (m *Manager) Snapshot() map[string]ServiceStats {
	m.lock.RLock()
	defer m.lock.RUnlock()

	snapshot := make(map[string]ServiceStats, len(m.services))
	for service, stats := range m.services {
		snapshot[service] = *stats
	}
	return snapshot
}

// RegisterHandlers mounts the metrics inspection routes on the given router.
func (m *Manager) RegisterHandlers(router chi.Router) {
	router.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if err := json.NewEncoder(w).Encode(m.Snapshot()); err != nil {
			m.logger.Errorf("Cannot encode metrics: %v.", err)
		}
	})
}
