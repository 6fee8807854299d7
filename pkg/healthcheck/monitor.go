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

// Package healthcheck periodically probes registered endpoints and feeds the
// results back into the endpoint registry. Every service runs its own probe
// loop, so a slow probe for one service never delays another.
package healthcheck

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/registry"
)

const (
	// refreshInterval is how often the monitor syncs its probe loops with
	// the set of registered services.
	refreshInterval = 5 * time.Second

	defaultProbeInterval      = 10 * time.Second
	defaultProbeTimeout       = 2 * time.Second
	defaultHealthyThreshold   = 2
	defaultUnhealthyThreshold = 3
)

// probeState tracks consecutive probe outcomes for one endpoint.
type probeState struct {
	successes int
	failures  int
}

// prober runs the probe loop for a single service.
type prober struct {
	service string
	config  registry.HealthCheckConfig

	monitor *Monitor
	states  map[string]*probeState
	stopCh  chan struct{}

	logger *logrus.Entry
}

// Monitor drives the per-service probe loops.
type Monitor struct {
	registry *registry.Registry
	client   *http.Client

	lock    sync.Mutex
	probers map[string]*prober
	stopCh  chan struct{}
	wg      sync.WaitGroup

	logger *logrus.Entry
}

// NewMonitor returns a new health-check monitor over the given registry.
func NewMonitor(reg *registry.Registry) *Monitor {
	return &Monitor{
		registry: reg,
		client:   &http.Client{},
		probers:  make(map[string]*prober),
		stopCh:   make(chan struct{}),
		logger:   logrus.WithField("component", "healthcheck.monitor"),
	}
}

// Name of the monitor (runnable instance).
func (m *Monitor) Name() string {
	return "healthcheck-monitor"
}

// Start the monitor. Blocks until Stop is called.
func (m *Monitor) Start() error {
	m.refresh()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.refresh()
		case <-m.stopCh:
			m.lock.Lock()
			for _, p := range m.probers {
				close(p.stopCh)
			}
			m.probers = make(map[string]*prober)
			m.lock.Unlock()

			m.wg.Wait()
			return nil
		}
	}
}

// Stop the monitor and all probe loops.
func (m *Monitor) Stop() error {
	close(m.stopCh)
	return nil
}

// GracefulStop stops the monitor.
func (m *Monitor) GracefulStop() error {
	return m.Stop()
}

// refresh aligns the running probe loops with the registered services.
func (m *Monitor) refresh() {
	services := make(map[string]registry.HealthCheckConfig)
	for _, name := range m.registry.Services() {
		set, ok := m.registry.Service(name)
		if !ok || set.HealthCheck.Path == "" {
			continue
		}
		services[name] = withDefaults(set.HealthCheck)
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	// stop probe loops of removed or reconfigured services
	for name, p := range m.probers {
		cfg, ok := services[name]
		if ok && cfg == p.config {
			continue
		}
		close(p.stopCh)
		delete(m.probers, name)
	}

	// start probe loops for new services
	for name, cfg := range services {
		if _, ok := m.probers[name]; ok {
			continue
		}

		p := &prober{
			service: name,
			config:  cfg,
			monitor: m,
			states:  make(map[string]*probeState),
			stopCh:  make(chan struct{}),
			logger: logrus.WithFields(logrus.Fields{
				"component": "healthcheck.prober",
				"service":   name,
			}),
		}
		m.probers[name] = p

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			p.run()
		}()
	}
}

func withDefaults(cfg registry.HealthCheckConfig) registry.HealthCheckConfig {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultProbeInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProbeTimeout
	}
	if cfg.HealthyThreshold <= 0 {
		cfg.HealthyThreshold = defaultHealthyThreshold
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = defaultUnhealthyThreshold
	}
	return cfg
}

// run is the probe loop of a single service.
func (p *prober) run() {
	p.logger.Infof("Starting probe loop (interval: %v).", p.config.Interval)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.probeAll()
		case <-p.stopCh:
			p.logger.Info("Probe loop stopped.")
			return
		}
	}
}

// probeAll probes every endpoint of the service once.
func (p *prober) probeAll() {
	endpoints := p.monitor.registry.Endpoints(p.service)

	seen := make(map[string]struct{}, len(endpoints))
	for i := range endpoints {
		ep := &endpoints[i]
		seen[ep.ID] = struct{}{}
		p.observe(ep, p.probe(ep) == nil)
	}

	// drop state of endpoints that were deregistered
	for id := range p.states {
		if _, ok := seen[id]; !ok {
			delete(p.states, id)
		}
	}
}

// probe performs a single reachability check against an endpoint.
func (p *prober) probe(ep *registry.Endpoint) error {
	scheme := ep.Protocol
	if scheme == "" {
		scheme = "http"
	}
	url := fmt.Sprintf("%s://%s:%d%s", scheme, ep.Address, ep.Port, p.config.Path)

	ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := p.monitor.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}

// observe feeds one probe outcome into the consecutive counters, flipping
// the endpoint health status when a threshold is crossed.
func (p *prober) observe(ep *registry.Endpoint, success bool) {
	state, ok := p.states[ep.ID]
	if !ok {
		state = &probeState{}
		p.states[ep.ID] = state
	}

	if success {
		state.successes++
		state.failures = 0
		if ep.Status != registry.HealthStatusHealthy &&
			state.successes >= p.config.HealthyThreshold {
			if err := p.monitor.registry.UpdateHealth(ep.ID, registry.HealthStatusHealthy); err != nil {
				p.logger.Warnf("Cannot update health of endpoint '%s': %v.", ep.ID, err)
			}
		}
		return
	}

	state.failures++
	state.successes = 0
	if ep.Status != registry.HealthStatusUnhealthy &&
		state.failures >= p.config.UnhealthyThreshold {
		if err := p.monitor.registry.UpdateHealth(ep.ID, registry.HealthStatusUnhealthy); err != nil {
			p.logger.Warnf("Cannot update health of endpoint '%s': %v.", ep.ID, err)
		}
	}
}
