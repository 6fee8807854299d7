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

package server

import (
	"encoding/json"
	"fmt"

	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/circuitbreaker"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/store"
)

type breakerHandler struct {
	manager *Manager
}

// CreateBreaker configures a circuit breaker for a service.
func (m *Manager) CreateBreaker(spec *BreakerSpec) error {
	m.logger.Infof("Creating breaker for service '%s'.", spec.Service)

	if _, ok := m.breakers.State(spec.Service); ok {
		return &store.ObjectExistsError{}
	}

	m.breakers.Configure(spec.Service, spec.Config)
	return m.specs.Store(spec.Service, spec)
}

// UpdateBreaker reconfigures the breaker of a service.
func (m *Manager) UpdateBreaker(spec *BreakerSpec) error {
	m.logger.Infof("Updating breaker for service '%s'.", spec.Service)

	if _, ok := m.breakers.State(spec.Service); !ok {
		return &store.ObjectNotFoundError{}
	}

	m.breakers.Configure(spec.Service, spec.Config)
	return m.specs.Store(spec.Service, spec)
}

// GetBreakerStatus returns the live status of the breaker of a service.
func (m *Manager) GetBreakerStatus(service string) *circuitbreaker.Status {
	status, ok := m.breakers.Snapshot(service)
	if !ok {
		return nil
	}
	return &status
}

// DeleteBreaker removes the breaker of a service.
func (m *Manager) DeleteBreaker(service string) (*circuitbreaker.Status, error) {
	m.logger.Infof("Deleting breaker for service '%s'.", service)

	status, ok := m.breakers.Snapshot(service)
	if !ok {
		return nil, nil
	}

	m.breakers.Remove(service)
	if err := m.specs.Delete(service); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetAllBreakers returns the live status of all configured breakers.
func (m *Manager) GetAllBreakers() []*circuitbreaker.Status {
	services := m.breakers.Services()
	statuses := make([]*circuitbreaker.Status, 0, len(services))
	for _, service := range services {
		if status, ok := m.breakers.Snapshot(service); ok {
			statuses = append(statuses, &status)
		}
	}
	return statuses
}

func (h *breakerHandler) Decode(data []byte) (any, error) {
	var spec BreakerSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("cannot decode breaker: %w", err)
	}

	if spec.Service == "" {
		return nil, fmt.Errorf("empty service name")
	}
	return &spec, nil
}

func (h *breakerHandler) Create(object any) error {
	return h.manager.CreateBreaker(object.(*BreakerSpec))
}

func (h *breakerHandler) Update(object any) error {
	return h.manager.UpdateBreaker(object.(*BreakerSpec))
}

func (h *breakerHandler) Get(name string) (any, error) {
	return h.manager.GetBreakerStatus(name), nil
}

func (h *breakerHandler) Delete(name string) (any, error) {
	return h.manager.DeleteBreaker(name)
}

func (h *breakerHandler) List() (any, error) {
	return h.manager.GetAllBreakers(), nil
}
