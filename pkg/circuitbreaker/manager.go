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

// Package circuitbreaker implements a per-service failure-detection state
// machine consulted before every dispatched call.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State of a circuit breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// FailureKind classifies a recorded failure. Kinds are tallied for
// observability only and never drive state transitions.
type FailureKind string

const (
	FailureKindTimeout    FailureKind = "timeout"
	FailureKindCancelled  FailureKind = "cancelled"
	FailureKindConnection FailureKind = "connection"
	FailureKindUpstream   FailureKind = "upstream_error"
	FailureKindNoEndpoint FailureKind = "no_healthy_endpoint"
)

const (
	defaultFailureThreshold       = 5
	defaultSecureFailureThreshold = 3
	defaultOpenTimeout            = 30 * time.Second
)

// Config holds the thresholds of a single breaker.
type Config struct {
	// FailureThreshold is the failure count at which the breaker opens.
	FailureThreshold int `json:"failureThreshold"`
	// SecureFailureThreshold is the secure-channel failure count at which
	// the breaker opens for secure-channel flagged requests.
	SecureFailureThreshold int `json:"secureFailureThreshold"`
	// OpenTimeout is how long an open breaker denies calls before probing.
	OpenTimeout time.Duration `json:"openTimeout"`
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.SecureFailureThreshold <= 0 {
		c.SecureFailureThreshold = defaultSecureFailureThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = defaultOpenTimeout
	}
	return c
}

// Status is an observability snapshot of a single breaker.
type Status struct {
	Service        string              `json:"service"`
	State          State               `json:"state"`
	Failures       int                 `json:"failures"`
	SecureFailures int                 `json:"secureFailures"`
	FailureKinds   map[FailureKind]int `json:"failureKinds,omitempty"`
	LastFailure    time.Time           `json:"lastFailure"`
	LastTransition time.Time           `json:"lastTransition"`
}

type breaker struct {
	lock   sync.Mutex
	config Config

	state          State
	failures       int
	secureFailures int
	failureKinds   map[FailureKind]int
	lastFailure    time.Time
	lastTransition time.Time
}

// transitionTo moves the breaker to a new state. Failure counters reset
// only on a transition into closed. Callers must hold the breaker lock.
func (b *breaker) transitionTo(state State) {
	b.state = state
	b.lastTransition = time.Now()
	if state == StateClosed {
		b.failures = 0
		b.secureFailures = 0
	}
}

// Manager holds one breaker per service.
type Manager struct {
	lock     sync.RWMutex
	breakers map[string]*breaker

	logger *logrus.Entry
}

// NewManager returns a new empty circuit breaker manager.
func NewManager() *Manager {
	return &Manager{
		breakers: make(map[string]*breaker),
		logger:   logrus.WithField("component", "circuitbreaker"),
	}
}

// Configure creates (or reconfigures) the breaker of a service.
// A freshly created breaker starts closed.
func (m *Manager) Configure(service string, config Config) {
	config = config.withDefaults()

	m.lock.Lock()
	defer m.lock.Unlock()

	if b, ok := m.breakers[service]; ok {
		b.lock.Lock()
		b.config = config
		b.lock.Unlock()
		m.logger.Infof("Reconfigured breaker for service '%s': %+v.", service, config)
		return
	}

	m.breakers[service] = &breaker{
		config:         config,
		state:          StateClosed,
		failureKinds:   make(map[FailureKind]int),
		lastTransition: time.Now(),
	}
	m.logger.Infof("Created breaker for service '%s': %+v.", service, config)
}

// Remove deletes the breaker of a service.
func (m *Manager) Remove(service string) {
	m.lock.Lock()
	delete(m.breakers, service)
	m.lock.Unlock()
}

func (m *Manager) breaker(service string) *breaker {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.breakers[service]
}

// Admit reports whether a call to the service may be attempted.
// A service with no breaker is always admitted, so services can be added
// without pre-provisioning breakers. An open breaker whose timeout has
// elapsed transitions to half-open and admits the probing call; counters
// are never touched here.
func (m *Manager) Admit(service string, secureChannel bool) bool {
	b := m.breaker(service)
	if b == nil {
		return true
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	if b.state == StateOpen {
		if time.Since(b.lastTransition) < b.config.OpenTimeout {
			return false
		}
		b.transitionTo(StateHalfOpen)
		m.logger.Infof("Breaker for service '%s' is now half-open.", service)
	}
	return true
}

// RecordSuccess records a successful call. While half-open, each success
// works off one recorded failure; the breaker closes when none remain.
func (m *Manager) RecordSuccess(service string, secureChannel bool) {
	b := m.breaker(service)
	if b == nil {
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	if b.state != StateHalfOpen {
		return
	}

	if b.failures > 0 {
		b.failures--
	}
	if secureChannel && b.secureFailures > 0 {
		b.secureFailures--
	}
	if b.failures == 0 {
		b.transitionTo(StateClosed)
		m.logger.Infof("Breaker for service '%s' closed.", service)
	}
}

// RecordFailure records a failed call. The general counter is always
// incremented; the secure-channel counter only for secure-channel flagged
// requests. The failure kind feeds the observability breakdown only.
func (m *Manager) RecordFailure(service string, secureChannel bool, kind FailureKind) {
	b := m.breaker(service)
	if b == nil {
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	b.failures++
	if secureChannel {
		b.secureFailures++
	}
	b.failureKinds[kind]++
	b.lastFailure = time.Now()

	switch b.state {
	case StateHalfOpen:
		// the probing call failed
		b.transitionTo(StateOpen)
		m.logger.Warnf("Breaker for service '%s' re-opened (kind: %s).", service, kind)
	case StateClosed:
		if b.failures >= b.config.FailureThreshold ||
			(secureChannel && b.secureFailures >= b.config.SecureFailureThreshold) {
			b.transitionTo(StateOpen)
			m.logger.Warnf("Breaker for service '%s' opened after %d failures (kind: %s).",
				service, b.failures, kind)
		}
	case StateOpen:
	}
}

// Services returns the names of all services with a configured breaker.
func (m *Manager) Services() []string {
	m.lock.RLock()
	defer m.lock.RUnlock()

	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}
	return names
}

// State returns the current state of the breaker of a service.
func (m *Manager) State(service string) (State, bool) {
	b := m.breaker(service)
	if b == nil {
		return "", false
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	return b.state, true
}

// Snapshot returns an observability snapshot of the breaker of a service.
func (m *Manager) Snapshot(service string) (Status, bool) {
	b := m.breaker(service)
	if b == nil {
		return Status{}, false
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	kinds := make(map[FailureKind]int, len(b.failureKinds))
	for k, v := range b.failureKinds {
		kinds[k] = v
	}
	return Status{
		Service:        service,
		State:          b.state,
		Failures:       b.failures,
		SecureFailures: b.secureFailures,
		FailureKinds:   kinds,
		LastFailure:    b.lastFailure,
		LastTransition: b.lastTransition,
	}, true
}
