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

package trafficpolicy

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/api"
)

// Action is what a matching traffic rule does to a request.
type Action string

const (
	ActionAllow       Action = "allow"
	ActionDeny        Action = "deny"
	ActionRedirect    Action = "redirect"
	ActionMirror      Action = "mirror"
	ActionForcedRoute Action = "forced_route"
)

// ConditionType names a rule condition.
type ConditionType string

const (
	// ConditionTimeOfDay matches requests inside a daily time window.
	ConditionTimeOfDay ConditionType = "time_of_day"
	// ConditionRateThreshold matches while the destination service request
	// rate is below a threshold, read from live registry metrics.
	ConditionRateThreshold ConditionType = "rate_threshold"
	// ConditionSecurityLevel matches requests at or above a security level.
	ConditionSecurityLevel ConditionType = "security_level"
	// ConditionRateLimit matches while a per-rule token bucket admits requests.
	ConditionRateLimit ConditionType = "rate_limit"
)

const timeOfDayLayout = "15:04"

// Condition is a single ordered predicate of a traffic rule.
type Condition struct {
	Type ConditionType `json:"type"`

	// Start and End bound a time_of_day window ("15:04"). A window where
	// End precedes Start wraps over midnight.
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`

	// MaxRate is the rate_threshold bound, in requests per second.
	MaxRate float64 `json:"maxRate,omitempty"`

	// MinSecurityLevel is the security_level bound.
	MinSecurityLevel int `json:"minSecurityLevel,omitempty"`

	// RatePerSecond and Burst configure a rate_limit token bucket.
	RatePerSecond float64 `json:"ratePerSecond,omitempty"`
	Burst         int     `json:"burst,omitempty"`
}

// SourceSelector matches the source workload of a request. Every configured
// field must match; an empty field matches all.
type SourceSelector struct {
	Service      string            `json:"service,omitempty"`
	Namespace    string            `json:"namespace,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
}

// Matches reports whether the selector matches the source of a request.
func (s *SourceSelector) Matches(req *api.Request) bool {
	if s.Service != "" && s.Service != req.SrcService {
		return false
	}
	if s.Namespace != "" && s.Namespace != req.SrcNamespace {
		return false
	}
	for key, value := range s.Labels {
		if req.Labels[key] != value {
			return false
		}
	}
	for _, required := range s.Capabilities {
		if !containsString(req.Capabilities, required) {
			return false
		}
	}
	return true
}

func containsString(list []string, entry string) bool {
	for _, e := range list {
		if e == entry {
			return true
		}
	}
	return false
}

// TrafficRule is a named, prioritized policy entry. Identity is immutable;
// only Enabled and the last-applied timestamp change after creation.
type TrafficRule struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`

	Source       SourceSelector `json:"source"`
	Destinations []string       `json:"destinations"`

	Action Action            `json:"action"`
	Target string            `json:"target,omitempty"`
	Params map[string]string `json:"params,omitempty"`

	Conditions []Condition `json:"conditions,omitempty"`

	CreatedAt time.Time `json:"createdAt"`

	// runtime state, owned by the engine
	lastApplied atomic.Int64
	limiters    []*rate.Limiter
	seq         int
}

// LastApplied returns the time the rule last matched a request.
func (r *TrafficRule) LastApplied() time.Time {
	nanos := r.lastApplied.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func (r *TrafficRule) markApplied(now time.Time) {
	r.lastApplied.Store(now.UnixNano())
}

// Validate returns an error if the rule is malformed.
func (r *TrafficRule) Validate() error {
	switch r.Action {
	case ActionAllow, ActionDeny:
	case ActionRedirect, ActionMirror, ActionForcedRoute:
		if r.Target == "" {
			return fmt.Errorf("action '%s' requires a target", r.Action)
		}
	default:
		return fmt.Errorf("unsupported action '%s'", r.Action)
	}

	if len(r.Destinations) == 0 {
		return fmt.Errorf("rule must name at least one destination service")
	}

	for i := range r.Conditions {
		if err := r.Conditions[i].validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}

func (c *Condition) validate() error {
	switch c.Type {
	case ConditionTimeOfDay:
		if _, err := time.Parse(timeOfDayLayout, c.Start); err != nil {
			return fmt.Errorf("invalid start time '%s': %w", c.Start, err)
		}
		if _, err := time.Parse(timeOfDayLayout, c.End); err != nil {
			return fmt.Errorf("invalid end time '%s': %w", c.End, err)
		}
	case ConditionRateThreshold:
		if c.MaxRate <= 0 {
			return fmt.Errorf("rate threshold must be positive")
		}
	case ConditionSecurityLevel:
	case ConditionRateLimit:
		if c.RatePerSecond <= 0 {
			return fmt.Errorf("rate limit must be positive")
		}
	default:
		return fmt.Errorf("unsupported condition type '%s'", c.Type)
	}
	return nil
}

// initRuntime prepares the per-rule runtime state (token buckets).
func (r *TrafficRule) initRuntime() {
	r.limiters = make([]*rate.Limiter, len(r.Conditions))
	for i := range r.Conditions {
		if r.Conditions[i].Type != ConditionRateLimit {
			continue
		}
		burst := r.Conditions[i].Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiters[i] = rate.NewLimiter(rate.Limit(r.Conditions[i].RatePerSecond), burst)
	}
}

// evaluateCondition evaluates one condition in the context of a request.
func (r *TrafficRule) evaluateCondition(
	i int,
	req *api.Request,
	reader MetricsReader,
	now time.Time,
) bool {
	c := &r.Conditions[i]
	switch c.Type {
	case ConditionTimeOfDay:
		return inTimeWindow(c.Start, c.End, now)
	case ConditionRateThreshold:
		if reader == nil {
			return true
		}
		return reader.ServiceRate(req.DstService) < c.MaxRate
	case ConditionSecurityLevel:
		return req.SecurityLevel >= c.MinSecurityLevel
	case ConditionRateLimit:
		if r.limiters[i] == nil {
			return true
		}
		return r.limiters[i].Allow()
	}
	return false
}

func inTimeWindow(start, end string, now time.Time) bool {
	startTime, err := time.Parse(timeOfDayLayout, start)
	if err != nil {
		return false
	}
	endTime, err := time.Parse(timeOfDayLayout, end)
	if err != nil {
		return false
	}

	minutes := now.Hour()*60 + now.Minute()
	startMinutes := startTime.Hour()*60 + startTime.Minute()
	endMinutes := endTime.Hour()*60 + endTime.Minute()

	if startMinutes <= endMinutes {
		return minutes >= startMinutes && minutes <= endMinutes
	}
	// window wraps over midnight
	return minutes >= startMinutes || minutes <= endMinutes
}

// MarshalJSON includes the last-applied timestamp in the serialized rule.
func (r *TrafficRule) MarshalJSON() ([]byte, error) {
	type alias TrafficRule
	return json.Marshal(&struct {
		*alias
		LastApplied time.Time `json:"lastApplied,omitempty"`
	}{
		alias:       (*alias)(r),
		LastApplied: r.LastApplied(),
	})
}

// UnmarshalJSON decodes a rule, ignoring any serialized runtime state.
func (r *TrafficRule) UnmarshalJSON(data []byte) error {
	type alias TrafficRule
	return json.Unmarshal(data, (*alias)(r))
}
