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

type serviceHandler struct {
	manager *Manager
}

// CreateService registers a new service endpoint set.
func (m *Manager) CreateService(set *registry.ServiceEndpointSet) error {
	m.logger.Infof("Creating service '%s'.", set.Service)

	if _, ok := m.registry.Service(set.Service); ok {
		return &store.ObjectExistsError{}
	}

	if err := m.registry.RegisterService(*set); err != nil {
		return err
	}
	return m.persistService(set.Service)
}

// UpdateService updates the configuration of an existing service.
func (m *Manager) UpdateService(set *registry.ServiceEndpointSet) error {
	m.logger.Infof("Updating service '%s'.", set.Service)

	if _, ok := m.registry.Service(set.Service); !ok {
		return &store.ObjectNotFoundError{}
	}

	if err := m.registry.RegisterService(*set); err != nil {
		return err
	}
	return m.persistService(set.Service)
}

// GetService returns the endpoint set of a service.
func (m *Manager) GetService(name string) *registry.ServiceEndpointSet {
	set, ok := m.registry.Service(name)
	if !ok {
		return nil
	}
	return &set
}

// DeleteService removes a service and all of its endpoints.
func (m *Manager) DeleteService(name string) (*registry.ServiceEndpointSet, error) {
	m.logger.Infof("Deleting service '%s'.", name)

	set, ok := m.registry.Service(name)
	if !ok {
		return nil, nil
	}

	if err := m.registry.RemoveService(name); err != nil {
		return nil, err
	}
	if err := m.services.Delete(name); err != nil {
		return nil, err
	}
	return &set, nil
}

// GetAllServices returns the endpoint sets of all registered services.
func (m *Manager) GetAllServices() []*registry.ServiceEndpointSet {
	names := m.registry.Services()
	sets := make([]*registry.ServiceEndpointSet, 0, len(names))
	for _, name := range names {
		if set, ok := m.registry.Service(name); ok {
			sets = append(sets, &set)
		}
	}
	return sets
}

func (h *serviceHandler) Decode(data []byte) (any, error) {
	var set registry.ServiceEndpointSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("cannot decode service: %w", err)
	}

	if set.Service == "" {
		return nil, fmt.Errorf("empty service name")
	}
	return &set, nil
}

func (h *serviceHandler) Create(object any) error {
	return h.manager.CreateService(object.(*registry.ServiceEndpointSet))
}

func (h *serviceHandler) Update(object any) error {
	return h.manager.UpdateService(object.(*registry.ServiceEndpointSet))
}

func (h *serviceHandler) Get(name string) (any, error) {
	return h.manager.GetService(name), nil
}

func (h *serviceHandler) Delete(name string) (any, error) {
	return h.manager.DeleteService(name)
}

func (h *serviceHandler) List() (any, error) {
	return h.manager.GetAllServices(), nil
}
