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

	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/registry"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/store"
)

// EndpointSpec binds an endpoint to its owning service.
type EndpointSpec struct {
	Service  string             `json:"service"`
	Endpoint *registry.Endpoint `json:"endpoint"`
}

type endpointHandler struct {
	manager *Manager
}

// CreateEndpoint registers an endpoint to a service.
func (m *Manager) CreateEndpoint(spec *EndpointSpec) error {
	m.logger.Infof("Creating endpoint '%s' for service '%s'.", spec.Endpoint.ID, spec.Service)

	if spec.Endpoint.ID != "" {
		if _, _, ok := m.registry.Lookup(spec.Endpoint.ID); ok {
			return &store.ObjectExistsError{}
		}
	}

	if err := m.registry.Register(spec.Service, spec.Endpoint); err != nil {
		return err
	}
	return m.persistService(spec.Service)
}

// UpdateEndpoint replaces an existing endpoint, keeping its ID.
func (m *Manager) UpdateEndpoint(spec *EndpointSpec) error {
	m.logger.Infof("Updating endpoint '%s' of service '%s'.", spec.Endpoint.ID, spec.Service)

	_, owner, ok := m.registry.Lookup(spec.Endpoint.ID)
	if !ok {
		return &store.ObjectNotFoundError{}
	}

	if err := m.registry.Deregister(owner, spec.Endpoint.ID); err != nil {
		return err
	}
	if err := m.registry.Register(spec.Service, spec.Endpoint); err != nil {
		return err
	}

	if owner != spec.Service {
		if err := m.persistService(owner); err != nil {
			return err
		}
	}
	return m.persistService(spec.Service)
}

// GetEndpoint returns an endpoint by ID.
func (m *Manager) GetEndpoint(id string) *EndpointSpec {
	ep, owner, ok := m.registry.Lookup(id)
	if !ok {
		return nil
	}
	return &EndpointSpec{Service: owner, Endpoint: &ep}
}

// DeleteEndpoint removes an endpoint by ID.
func (m *Manager) DeleteEndpoint(id string) (*EndpointSpec, error) {
	m.logger.Infof("Deleting endpoint '%s'.", id)

	ep, owner, ok := m.registry.Lookup(id)
	if !ok {
		return nil, nil
	}

	if err := m.registry.Deregister(owner, id); err != nil {
		return nil, err
	}
	if err := m.persistService(owner); err != nil {
		return nil, err
	}
	return &EndpointSpec{Service: owner, Endpoint: &ep}, nil
}

// GetAllEndpoints returns all endpoints of all services.
func (m *Manager) GetAllEndpoints() []*EndpointSpec {
	var specs []*EndpointSpec
	for _, service := range m.registry.Services() {
		for _, ep := range m.registry.Endpoints(service) {
			cp := ep
			specs = append(specs, &EndpointSpec{Service: service, Endpoint: &cp})
		}
	}
	return specs
}

func (h *endpointHandler) Decode(data []byte) (any, error) {
	var spec EndpointSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("cannot decode endpoint: %w", err)
	}

	if spec.Service == "" {
		return nil, fmt.Errorf("empty service name")
	}
	if spec.Endpoint == nil {
		return nil, fmt.Errorf("missing endpoint")
	}
	if spec.Endpoint.Address == "" {
		return nil, fmt.Errorf("empty endpoint address")
	}
	if spec.Endpoint.Port == 0 {
		return nil, fmt.Errorf("missing endpoint port")
	}
	return &spec, nil
}

func (h *endpointHandler) Create(object any) error {
	return h.manager.CreateEndpoint(object.(*EndpointSpec))
}

func (h *endpointHandler) Update(object any) error {
	return h.manager.UpdateEndpoint(object.(*EndpointSpec))
}

func (h *endpointHandler) Get(name string) (any, error) {
	return h.manager.GetEndpoint(name), nil
}

func (h *endpointHandler) Delete(name string) (any, error) {
	return h.manager.DeleteEndpoint(name)
}

func (h *endpointHandler) List() (any, error) {
	return h.manager.GetAllEndpoints(), nil
}
