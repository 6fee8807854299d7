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

// Package trafficpolicy maintains an ordered set of routing and access rules
// and evaluates requests against them before dispatch.
package trafficpolicy

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/api"
)

// MetricsReader provides read-only access to live service metrics for
// rate-threshold conditions.
type MetricsReader interface {
	// ServiceRate returns the current aggregate requests-per-second of a service.
	ServiceRate(service string) float64
}

// Verdict is the action produced by the first fully matching rule.
type Verdict struct {
	Action   Action            `json:"action"`
	Target   string            `json:"target,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
	RuleID   string            `json:"ruleID"`
	RuleName string            `json:"ruleName"`
}

// ruleIndex maps a destination service to its rules, sorted by descending
// priority (insertion order for equal priorities).
type ruleIndex map[string][]*TrafficRule

// Engine holds the traffic rules. Rule mutation is administrative and
// low-frequency; the destination index is copy-on-write so evaluation
// never blocks on concurrent AddRule/RemoveRule.
type Engine struct {
	lock  sync.Mutex // serializes mutation
	rules map[string]*TrafficRule
	seq   int
	index atomic.Pointer[ruleIndex]

	reader MetricsReader

	logger *logrus.Entry
}

// NewEngine returns a new empty rule engine. The metrics reader may be nil,
// in which case rate-threshold conditions always pass.
func NewEngine(reader MetricsReader) *Engine {
	e := &Engine{
		rules:  make(map[string]*TrafficRule),
		reader: reader,
		logger: logrus.WithField("component", "trafficpolicy.engine"),
	}
	e.index.Store(&ruleIndex{})
	return e
}

// AddRule inserts a rule, replacing any existing rule with the same ID.
// A rule with no ID is assigned a generated one.
func (e *Engine) AddRule(rule *TrafficRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule '%s': %w", rule.Name, err)
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	rule.initRuntime()

	e.lock.Lock()
	defer e.lock.Unlock()

	if existing, ok := e.rules[rule.ID]; ok {
		rule.seq = existing.seq // replacement keeps its position among equals
	} else {
		e.seq++
		rule.seq = e.seq
	}
	e.rules[rule.ID] = rule
	e.rebuild()

	e.logger.Infof("Added rule '%s' (priority: %d, action: %s, destinations: %v).",
		rule.Name, rule.Priority, rule.Action, rule.Destinations)
	return nil
}

// RemoveRule deletes a rule by ID.
func (e *Engine) RemoveRule(id string) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	rule, ok := e.rules[id]
	if !ok {
		return fmt.Errorf("unknown rule '%s'", id)
	}
	delete(e.rules, id)
	e.rebuild()

	e.logger.Infof("Removed rule '%s'.", rule.Name)
	return nil
}

// SetEnabled flips the enabled flag of a rule. The rule identity and all
// other fields are immutable.
func (e *Engine) SetEnabled(id string, enabled bool) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	rule, ok := e.rules[id]
	if !ok {
		return fmt.Errorf("unknown rule '%s'", id)
	}
	if rule.Enabled == enabled {
		return nil
	}

	// copy-on-write: evaluation may be reading the old rule concurrently
	updated := &TrafficRule{
		ID:           rule.ID,
		Name:         rule.Name,
		Priority:     rule.Priority,
		Enabled:      enabled,
		Source:       rule.Source,
		Destinations: rule.Destinations,
		Action:       rule.Action,
		Target:       rule.Target,
		Params:       rule.Params,
		Conditions:   rule.Conditions,
		CreatedAt:    rule.CreatedAt,
		seq:          rule.seq,
	}
	updated.initRuntime()
	updated.lastApplied.Store(rule.lastApplied.Load())

	e.rules[id] = updated
	e.rebuild()
	return nil
}

// ReplaceAll atomically swaps the entire rule set (e.g. on rule-file reload).
func (e *Engine) ReplaceAll(rules []*TrafficRule) error {
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("invalid rule '%s': %w", rule.Name, err)
		}
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	e.rules = make(map[string]*TrafficRule, len(rules))
	e.seq = 0
	for _, rule := range rules {
		if rule.ID == "" {
			rule.ID = uuid.New().String()
		}
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = time.Now()
		}
		rule.initRuntime()
		e.seq++
		rule.seq = e.seq
		e.rules[rule.ID] = rule
	}
	e.rebuild()

	e.logger.Infof("Replaced rule set (%d rules).", len(rules))
	return nil
}

// rebuild recomputes the destination index. Callers must hold the lock.
func (e *Engine) rebuild() {
	ordered := make([]*TrafficRule, 0, len(e.rules))
	for _, rule := range e.rules {
		ordered = append(ordered, rule)
	}
	// insertion order first, so the later stable sort keeps first-added-wins
	// for rules of equal priority
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].seq < ordered[j].seq
	})
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	index := ruleIndex{}
	for _, rule := range ordered {
		for _, dst := range rule.Destinations {
			index[dst] = append(index[dst], rule)
		}
	}
	e.index.Store(&index)
}

// Evaluate walks the rules indexed for the request destination in priority
// order and returns the verdict of the first fully matching enabled rule,
// or nil if no rule has an opinion. Only the matching rule has its
// last-applied timestamp updated.
func (e *Engine) Evaluate(req *api.Request) *Verdict {
	rules := (*e.index.Load())[req.DstService]
	now := time.Now()

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if !rule.Source.Matches(req) {
			continue
		}

		conditionsMet := true
		for i := range rule.Conditions {
			if !rule.evaluateCondition(i, req, e.reader, now) {
				conditionsMet = false
				break
			}
		}
		if !conditionsMet {
			continue
		}

		rule.markApplied(now)
		e.logger.Debugf("Rule '%s' matched request %s/%s -> %s (action: %s).",
			rule.Name, req.SrcNamespace, req.SrcService, req.DstService, rule.Action)
		return &Verdict{
			Action:   rule.Action,
			Target:   rule.Target,
			Params:   rule.Params,
			RuleID:   rule.ID,
			RuleName: rule.Name,
		}
	}
	return nil
}

// Rule returns the rule with the given ID.
func (e *Engine) Rule(id string) (*TrafficRule, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()
	rule, ok := e.rules[id]
	return rule, ok
}

// Rules returns all rules, sorted by descending priority (insertion order
// for equal priorities).
func (e *Engine) Rules() []*TrafficRule {
	e.lock.Lock()
	defer e.lock.Unlock()

	ordered := make([]*TrafficRule, 0, len(e.rules))
	for _, rule := range e.rules {
		ordered = append(ordered, rule)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].seq < ordered[j].seq
	})
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})
	return ordered
}
