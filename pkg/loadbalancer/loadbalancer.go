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

// Package loadbalancer selects one healthy endpoint of a service per request,
// based on the strategy configured for the service in the endpoint registry.
package loadbalancer

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/api"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/registry"
)

// ErrNoHealthyEndpoint is returned when no eligible endpoint exists for a
// service. This is the only error condition of Select.
var ErrNoHealthyEndpoint = errors.New("no healthy endpoint")

const (
	// capabilityWeight is the score bonus per matched request capability.
	capabilityWeight = 10.0
	// utilizationKnee is the open-connection utilization above which the
	// composite score starts penalizing an endpoint.
	utilizationKnee = 0.7
	// utilizationScale normalizes the open-connection count to a utilization.
	utilizationScale = 100.0
)

// cursor is the round-robin position of a single service.
type cursor struct {
	lock sync.Mutex
	next int
}

// LoadBalancer picks endpoints out of registry snapshots.
type LoadBalancer struct {
	registry *registry.Registry

	lock    sync.RWMutex
	cursors map[string]*cursor

	logger *logrus.Entry
}

// NewLoadBalancer returns a new load balancer over the given registry.
func NewLoadBalancer(reg *registry.Registry) *LoadBalancer {
	return &LoadBalancer{
		registry: reg,
		cursors:  make(map[string]*cursor),
		logger:   logrus.WithField("component", "loadbalancer"),
	}
}

// Select picks one healthy endpoint of a service for the given request.
// When requireSecureChannel is set, endpoints lacking the secure-channel
// capability are filtered out before the strategy is applied.
func (lb *LoadBalancer) Select(
	service string,
	req *api.Request,
	requireSecureChannel bool,
) (*registry.Endpoint, error) {
	candidates := lb.registry.Snapshot(service)

	if requireSecureChannel {
		filtered := candidates[:0]
		for i := range candidates {
			if candidates[i].SecureChannelCapable {
				filtered = append(filtered, candidates[i])
			}
		}
		candidates = filtered
	}

	if len(candidates) == 0 {
		return nil, ErrNoHealthyEndpoint
	}

	strategy := lb.registry.Strategy(service)

	var selected *registry.Endpoint
	switch strategy {
	case registry.StrategyLeastConnections:
		selected = selectLeastConnections(candidates)
	case registry.StrategyLatencyBased:
		selected = selectLatencyBased(candidates)
	case registry.StrategyOptimizedScore:
		selected = selectOptimizedScore(candidates, req)
	case registry.StrategyRoundRobin:
		selected = lb.selectRoundRobin(service, candidates)
	default:
		selected = lb.selectRoundRobin(service, candidates)
	}

	lb.logger.Debugf("Selected endpoint '%s' for service '%s' (strategy: %s).",
		selected.ID, service, strategy)
	return selected, nil
}

// cursorOf returns the round-robin cursor of a service, creating it if needed.
func (lb *LoadBalancer) cursorOf(service string) *cursor {
	lb.lock.RLock()
	c := lb.cursors[service]
	lb.lock.RUnlock()
	if c != nil {
		return c
	}

	lb.lock.Lock()
	defer lb.lock.Unlock()
	if c = lb.cursors[service]; c == nil {
		c = &cursor{}
		lb.cursors[service] = c
	}
	return c
}

// selectRoundRobin rotates deterministically over the candidate list using a
// per-service cursor. Wall-clock based indexing is deliberately not used, as
// it is not request-count fair under bursty traffic.
func (lb *LoadBalancer) selectRoundRobin(service string, candidates []registry.Endpoint) *registry.Endpoint {
	c := lb.cursorOf(service)

	c.lock.Lock()
	index := c.next % len(candidates)
	c.next = (c.next + 1) % len(candidates)
	c.lock.Unlock()

	return &candidates[index]
}

// selectLeastConnections picks the candidate with the fewest open
// connections; ties are broken by list order.
func selectLeastConnections(candidates []registry.Endpoint) *registry.Endpoint {
	best := &candidates[0]
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Metrics.OpenConnections < best.Metrics.OpenConnections {
			best = &candidates[i]
		}
	}
	return best
}

// selectLatencyBased picks the candidate with the lowest average response time.
func selectLatencyBased(candidates []registry.Endpoint) *registry.Endpoint {
	best := &candidates[0]
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Metrics.AvgResponseTime < best.Metrics.AvgResponseTime {
			best = &candidates[i]
		}
	}
	return best
}

// selectOptimizedScore picks the candidate with the highest composite score.
// The connection-load term rewards utilization below the knee and penalizes
// above it, so a cold node does not absorb all traffic and a hot node still
// sheds load.
func selectOptimizedScore(candidates []registry.Endpoint, req *api.Request) *registry.Endpoint {
	best := &candidates[0]
	bestScore := score(best, req)
	for i := 1; i < len(candidates); i++ {
		if s := score(&candidates[i], req); s > bestScore {
			best = &candidates[i]
			bestScore = s
		}
	}
	return best
}

func score(ep *registry.Endpoint, req *api.Request) float64 {
	var total float64

	if req != nil {
		for _, required := range req.Capabilities {
			for _, capability := range ep.Capabilities {
				if capability == required {
					total += capabilityWeight
					break
				}
			}
		}
	}

	if latencyTerm := 100.0 - ep.Metrics.AvgResponseTime; latencyTerm > 0 {
		total += latencyTerm
	}

	total -= ep.Metrics.ErrorRate * 100.0

	utilization := float64(ep.Metrics.OpenConnections) / utilizationScale
	if utilization <= utilizationKnee {
		total += (utilizationKnee - utilization) * 50.0
	} else {
		total -= (utilization - utilizationKnee) * 200.0
	}

	return total
}
