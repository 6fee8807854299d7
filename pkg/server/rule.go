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

	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/store"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/trafficpolicy"
)

type ruleHandler struct {
	manager *Manager
}

// CreateRule adds a traffic rule.
func (m *Manager) CreateRule(rule *trafficpolicy.TrafficRule) error {
	m.logger.Infof("Creating rule '%s'.", rule.Name)

	if rule.ID != "" {
		if _, ok := m.engine.Rule(rule.ID); ok {
			return &store.ObjectExistsError{}
		}
	}

	if err := m.engine.AddRule(rule); err != nil {
		return err
	}
	return m.rules.Store(rule.ID, rule)
}

// UpdateRule replaces an existing traffic rule.
func (m *Manager) UpdateRule(rule *trafficpolicy.TrafficRule) error {
	m.logger.Infof("Updating rule '%s'.", rule.Name)

	if _, ok := m.engine.Rule(rule.ID); !ok {
		return &store.ObjectNotFoundError{}
	}

	if err := m.engine.AddRule(rule); err != nil {
		return err
	}
	return m.rules.Store(rule.ID, rule)
}

// GetRule returns a traffic rule by ID.
func (m *Manager) GetRule(id string) *trafficpolicy.TrafficRule {
	rule, ok := m.engine.Rule(id)
	if !ok {
		return nil
	}
	return rule
}

// DeleteRule removes a traffic rule by ID.
func (m *Manager) DeleteRule(id string) (*trafficpolicy.TrafficRule, error) {
	m.logger.Infof("Deleting rule '%s'.", id)

	rule, ok := m.engine.Rule(id)
	if !ok {
		return nil, nil
	}

	if err := m.engine.RemoveRule(id); err != nil {
		return nil, err
	}
	if err := m.rules.Delete(id); err != nil {
		return nil, err
	}
	return rule, nil
}

func (h *ruleHandler) Decode(data []byte) (any, error) {
	var rule trafficpolicy.TrafficRule
	if err := json.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("cannot decode rule: %w", err)
	}

	if rule.Name == "" {
		return nil, fmt.Errorf("empty rule name")
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return &rule, nil
}

func (h *ruleHandler) Create(object any) error {
	return h.manager.CreateRule(object.(*trafficpolicy.TrafficRule))
}

func (h *ruleHandler) Update(object any) error {
	return h.manager.UpdateRule(object.(*trafficpolicy.TrafficRule))
}

func (h *ruleHandler) Get(name string) (any, error) {
	return h.manager.GetRule(name), nil
}

func (h *ruleHandler) Delete(name string) (any, error) {
	return h.manager.DeleteRule(name)
}

func (h *ruleHandler) List() (any, error) {
	return h.manager.engine.Rules(), nil
}
