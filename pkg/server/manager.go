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
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/circuitbreaker"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/orchestrator"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/registry"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/store"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/store/kv"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/trafficpolicy"
)

// BreakerSpec binds a circuit breaker configuration to a service.
type BreakerSpec struct {
	Service string                `json:"service"`
	Config  circuitbreaker.Config `json:"config"`
}

// Manager mediates between the administration API and the control plane
// components, persisting administered objects so they survive a restart.
type Manager struct {
	registry     *registry.Registry
	engine       *trafficpolicy.Engine
	breakers     *circuitbreaker.Manager
	orchestrator *orchestrator.Orchestrator

	services store.ObjectStore
	rules    store.ObjectStore
	specs    store.ObjectStore

	logger *logrus.Entry
}

// NewManager returns a new administration manager, restoring all persisted
// objects into the control plane components.
func NewManager(
	storeManager *kv.Manager,
	reg *registry.Registry,
	engine *trafficpolicy.Engine,
	breakers *circuitbreaker.Manager,
	orch *orchestrator.Orchestrator,
) (*Manager, error) {
	m := &Manager{
		registry:     reg,
		engine:       engine,
		breakers:     breakers,
		orchestrator: orch,
		services:     storeManager.GetObjectStore("service", registry.ServiceEndpointSet{}),
		rules:        storeManager.GetObjectStore("rule", trafficpolicy.TrafficRule{}),
		specs:        storeManager.GetObjectStore("breaker", BreakerSpec{}),
		logger:       logrus.WithField("component", "server.manager"),
	}

	if err := m.restore(); err != nil {
		return nil, err
	}
	return m, nil
}

// restore loads persisted objects back into the live components.
func (m *Manager) restore() error {
	services, err := m.services.GetAll()
	if err != nil {
		return fmt.Errorf("cannot load persisted services: %w", err)
	}
	for _, object := range services {
		set := object.(*registry.ServiceEndpointSet)
		if err := m.registry.RegisterService(*set); err != nil {
			return fmt.Errorf("cannot restore service '%s': %w", set.Service, err)
		}
	}

	rules, err := m.rules.GetAll()
	if err != nil {
		return fmt.Errorf("cannot load persisted rules: %w", err)
	}
	restored := make([]*trafficpolicy.TrafficRule, len(rules))
	for i, object := range rules {
		restored[i] = object.(*trafficpolicy.TrafficRule)
	}
	if len(restored) > 0 {
		if err := m.engine.ReplaceAll(restored); err != nil {
			return fmt.Errorf("cannot restore rules: %w", err)
		}
	}

	specs, err := m.specs.GetAll()
	if err != nil {
		return fmt.Errorf("cannot load persisted breakers: %w", err)
	}
	for _, object := range specs {
		spec := object.(*BreakerSpec)
		m.breakers.Configure(spec.Service, spec.Config)
	}

	m.logger.Infof("Restored %d services, %d rules, %d breakers.",
		len(services), len(rules), len(specs))
	return nil
}

// persistService stores the current endpoint set of a service.
func (m *Manager) persistService(service string) error {
	set, ok := m.registry.Service(service)
	if !ok {
		return m.services.Delete(service)
	}
	return m.services.Store(service, &set)
}
