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

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// rateWindow is the sliding window over which requests-per-second is computed.
const rateWindow = 10 * time.Second

// serviceEntry holds the state of a single service. Each entry carries its
// own lock, so updates to one service never block requests to another.
type serviceEntry struct {
	lock sync.RWMutex
	set  ServiceEndpointSet
}

// Registry holds the candidate endpoints of every known service, together
// with their live health and metrics state.
type Registry struct {
	lock      sync.RWMutex
	services  map[string]*serviceEntry
	endpoints map[string]string // endpoint ID -> owning service

	logger *logrus.Entry
}

// NewRegistry returns a new empty endpoint registry.
func NewRegistry() *Registry {
	return &Registry{
		services:  make(map[string]*serviceEntry),
		endpoints: make(map[string]string),
		logger:    logrus.WithField("component", "registry"),
	}
}

// RegisterService creates or updates the endpoint set configuration of a
// service. Existing endpoints are kept when the service is already known.
func (r *Registry) RegisterService(set ServiceEndpointSet) error {
	if set.Service == "" {
		return fmt.Errorf("service name must not be empty")
	}
	if set.Strategy == "" {
		set.Strategy = StrategyDefault
	}

	r.lock.Lock()
	entry, exists := r.services[set.Service]
	if !exists {
		entry = &serviceEntry{set: ServiceEndpointSet{
			Service:     set.Service,
			Strategy:    set.Strategy,
			HealthCheck: set.HealthCheck,
		}}
		r.services[set.Service] = entry
	}
	r.lock.Unlock()

	if exists {
		entry.lock.Lock()
		entry.set.Strategy = set.Strategy
		entry.set.HealthCheck = set.HealthCheck
		entry.lock.Unlock()
		r.logger.Infof("Updated service '%s' (strategy: %s).", set.Service, set.Strategy)
	} else {
		r.logger.Infof("Registered service '%s' (strategy: %s).", set.Service, set.Strategy)
	}

	// endpoints delivered with the set are registered individually
	for _, ep := range set.Endpoints {
		if err := r.Register(set.Service, ep); err != nil {
			return err
		}
	}
	return nil
}

// RemoveService removes a service and all of its endpoints.
func (r *Registry) RemoveService(service string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	entry, ok := r.services[service]
	if !ok {
		return fmt.Errorf("unknown service '%s'", service)
	}

	entry.lock.RLock()
	for _, ep := range entry.set.Endpoints {
		delete(r.endpoints, ep.ID)
	}
	entry.lock.RUnlock()

	delete(r.services, service)
	r.logger.Infof("Removed service '%s'.", service)
	return nil
}

// Register adds an endpoint to a service. The service is implicitly created
// with default configuration when not yet known. An endpoint with no ID is
// assigned a generated one; an endpoint with no status starts as unknown.
func (r *Registry) Register(service string, ep *Endpoint) error {
	if ep == nil {
		return fmt.Errorf("endpoint must not be nil")
	}
	if ep.ID == "" {
		ep.ID = uuid.New().String()
	}
	if ep.Status == "" {
		ep.Status = HealthStatusUnknown
	}

	r.lock.Lock()
	if owner, ok := r.endpoints[ep.ID]; ok {
		r.lock.Unlock()
		return fmt.Errorf("endpoint '%s' is already registered to service '%s'", ep.ID, owner)
	}

	entry, ok := r.services[service]
	if !ok {
		entry = &serviceEntry{set: ServiceEndpointSet{
			Service:  service,
			Strategy: StrategyDefault,
		}}
		r.services[service] = entry
	}
	r.endpoints[ep.ID] = service
	r.lock.Unlock()

	entry.lock.Lock()
	entry.set.Endpoints = append(entry.set.Endpoints, ep)
	entry.lock.Unlock()

	r.logger.Infof("Registered endpoint '%s' (%s:%d) for service '%s'.",
		ep.ID, ep.Address, ep.Port, service)
	return nil
}

// Deregister removes an endpoint from a service.
func (r *Registry) Deregister(service, endpointID string) error {
	r.lock.Lock()
	entry, ok := r.services[service]
	if !ok {
		r.lock.Unlock()
		return fmt.Errorf("unknown service '%s'", service)
	}
	if owner, ok := r.endpoints[endpointID]; !ok || owner != service {
		r.lock.Unlock()
		return fmt.Errorf("unknown endpoint '%s' for service '%s'", endpointID, service)
	}
	delete(r.endpoints, endpointID)
	r.lock.Unlock()

	entry.lock.Lock()
	defer entry.lock.Unlock()

	for i, ep := range entry.set.Endpoints {
		if ep.ID == endpointID {
			entry.set.Endpoints = append(entry.set.Endpoints[:i], entry.set.Endpoints[i+1:]...)
			r.logger.Infof("Deregistered endpoint '%s' from service '%s'.", endpointID, service)
			return nil
		}
	}
	return fmt.Errorf("unknown endpoint '%s' for service '%s'", endpointID, service)
}

// entryOf locates the service entry owning the given endpoint.
func (r *Registry) entryOf(endpointID string) (*serviceEntry, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	service, ok := r.endpoints[endpointID]
	if !ok {
		return nil, fmt.Errorf("unknown endpoint '%s'", endpointID)
	}
	entry, ok := r.services[service]
	if !ok {
		return nil, fmt.Errorf("unknown service '%s'", service)
	}
	return entry, nil
}

// UpdateHealth sets the health status of an endpoint.
func (r *Registry) UpdateHealth(endpointID string, status HealthStatus) error {
	entry, err := r.entryOf(endpointID)
	if err != nil {
		return err
	}

	entry.lock.Lock()
	defer entry.lock.Unlock()

	for _, ep := range entry.set.Endpoints {
		if ep.ID == endpointID {
			if ep.Status != status {
				r.logger.Infof("Endpoint '%s' of service '%s': %s -> %s.",
					endpointID, entry.set.Service, ep.Status, status)
			}
			ep.Status = status
			return nil
		}
	}
	return fmt.Errorf("unknown endpoint '%s'", endpointID)
}

// UpdateMetrics applies a metrics delta to an endpoint.
func (r *Registry) UpdateMetrics(endpointID string, delta MetricsDelta) error {
	entry, err := r.entryOf(endpointID)
	if err != nil {
		return err
	}

	entry.lock.Lock()
	defer entry.lock.Unlock()

	for _, ep := range entry.set.Endpoints {
		if ep.ID != endpointID {
			continue
		}

		ep.Metrics.OpenConnections += delta.ConnectionDelta
		if ep.Metrics.OpenConnections < 0 {
			ep.Metrics.OpenConnections = 0
		}
		ep.Metrics.BytesTransferred += delta.Bytes

		if delta.Completed {
			ep.completedCalls++
			if delta.Failed {
				ep.failedCalls++
			}
			ep.Metrics.ErrorRate = float64(ep.failedCalls) / float64(ep.completedCalls)

			latencyMillis := float64(delta.Latency) / float64(time.Millisecond)
			ep.Metrics.AvgResponseTime += (latencyMillis - ep.Metrics.AvgResponseTime) /
				float64(ep.completedCalls)

			r.observeRate(ep)
		}
		return nil
	}
	return fmt.Errorf("unknown endpoint '%s'", endpointID)
}

// observeRate accounts one completed call into the endpoint rate window.
func (r *Registry) observeRate(ep *Endpoint) {
	now := time.Now()
	if ep.windowStart.IsZero() || now.Sub(ep.windowStart) > rateWindow {
		ep.windowStart = now
		ep.windowCount = 0
	}
	ep.windowCount++

	elapsed := now.Sub(ep.windowStart).Seconds()
	if elapsed < 1 {
		elapsed = 1
	}
	ep.Metrics.RequestsPerSecond = float64(ep.windowCount) / elapsed
}

// Snapshot returns copies of the healthy endpoints of a service.
// An empty result (not an error) is returned when none are healthy, so
// callers can tell "no capacity" apart from a bad request.
func (r *Registry) Snapshot(service string) []Endpoint {
	r.lock.RLock()
	entry, ok := r.services[service]
	r.lock.RUnlock()
	if !ok {
		return nil
	}

	entry.lock.RLock()
	defer entry.lock.RUnlock()

	healthy := make([]Endpoint, 0, len(entry.set.Endpoints))
	for _, ep := range entry.set.Endpoints {
		if ep.Status == HealthStatusHealthy {
			healthy = append(healthy, *ep)
		}
	}
	return healthy
}

// Endpoints returns copies of all endpoints of a service, regardless of health.
func (r *Registry) Endpoints(service string) []Endpoint {
	r.lock.RLock()
	entry, ok := r.services[service]
	r.lock.RUnlock()
	if !ok {
		return nil
	}

	entry.lock.RLock()
	defer entry.lock.RUnlock()

	endpoints := make([]Endpoint, 0, len(entry.set.Endpoints))
	for _, ep := range entry.set.Endpoints {
		endpoints = append(endpoints, *ep)
	}
	return endpoints
}

// Lookup returns a copy of the endpoint with the given ID, together with
// the name of its owning service.
func (r *Registry) Lookup(endpointID string) (Endpoint, string, bool) {
	r.lock.RLock()
	service, ok := r.endpoints[endpointID]
	r.lock.RUnlock()
	if !ok {
		return Endpoint{}, "", false
	}

	for _, ep := range r.Endpoints(service) {
		if ep.ID == endpointID {
			return ep, service, true
		}
	}
	return Endpoint{}, "", false
}

// Service returns a copy of the endpoint set of a service.
func (r *Registry) Service(service string) (ServiceEndpointSet, bool) {
	r.lock.RLock()
	entry, ok := r.services[service]
	r.lock.RUnlock()
	if !ok {
		return ServiceEndpointSet{}, false
	}

	entry.lock.RLock()
	defer entry.lock.RUnlock()

	set := ServiceEndpointSet{
		Service:     entry.set.Service,
		Strategy:    entry.set.Strategy,
		HealthCheck: entry.set.HealthCheck,
		Endpoints:   make([]*Endpoint, 0, len(entry.set.Endpoints)),
	}
	for _, ep := range entry.set.Endpoints {
		cp := *ep
		set.Endpoints = append(set.Endpoints, &cp)
	}
	return set, true
}

// Services returns the names of all registered services.
func (r *Registry) Services() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}

// ServiceRate returns the aggregate requests-per-second over all endpoints
// of a service. Used by the traffic rule engine for rate-threshold conditions.
func (r *Registry) ServiceRate(service string) float64 {
	var total float64
	for _, ep := range r.Endpoints(service) {
		total += ep.Metrics.RequestsPerSecond
	}
	return total
}

// Strategy returns the configured load-balancing strategy of a service.
func (r *Registry) Strategy(service string) Strategy {
	r.lock.RLock()
	entry, ok := r.services[service]
	r.lock.RUnlock()
	if !ok {
		return StrategyDefault
	}

	entry.lock.RLock()
	defer entry.lock.RUnlock()
	return entry.set.Strategy
}
