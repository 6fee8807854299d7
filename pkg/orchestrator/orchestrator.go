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

// Package orchestrator drives a request through the full dispatch pipeline:
// circuit breaker admission, traffic rule evaluation, endpoint selection,
// the outbound call, and outcome accounting.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/api"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/circuitbreaker"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/loadbalancer"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/metrics"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/registry"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/trafficpolicy"
)

const (
	// defaultCallTimeout bounds a call whose context carries no deadline.
	defaultCallTimeout = 10 * time.Second
	// mirrorTimeout bounds the shadow copy of a mirrored request.
	mirrorTimeout = 5 * time.Second
)

// MetricsSink receives one record per dispatched request.
type MetricsSink interface {
	Record(rec metrics.Record)
}

// Orchestrator coordinates the components of the dispatch pipeline.
type Orchestrator struct {
	registry *registry.Registry
	balancer *loadbalancer.LoadBalancer
	breakers *circuitbreaker.Manager
	engine   *trafficpolicy.Engine
	executor Executor
	sink     MetricsSink

	logger *logrus.Entry
}

// NewOrchestrator returns a new orchestrator. The sink may be nil, in which
// case no per-request records are emitted.
func NewOrchestrator(
	reg *registry.Registry,
	balancer *loadbalancer.LoadBalancer,
	breakers *circuitbreaker.Manager,
	engine *trafficpolicy.Engine,
	executor Executor,
	sink MetricsSink,
) *Orchestrator {
	return &Orchestrator{
		registry: reg,
		balancer: balancer,
		breakers: breakers,
		engine:   engine,
		executor: executor,
		sink:     sink,
		logger:   logrus.WithField("component", "orchestrator"),
	}
}

// Handle dispatches a request to one endpoint of its destination service.
// Traffic rules may deny the request or substitute the destination before
// an endpoint is picked. Breaker and metrics outcomes are recorded against
// the service that was actually called.
func (o *Orchestrator) Handle(ctx context.Context, req *api.Request) (*api.Response, error) {
	secure := req.RequireSecureChannel

	if !o.breakers.Admit(req.DstService, secure) {
		o.logger.Infof("Rejected request to '%s': breaker open.", req.DstService)
		return nil, fmt.Errorf("service '%s': %w", req.DstService, ErrCircuitOpen)
	}

	target := req.DstService
	verdict := o.engine.Evaluate(req)
	if verdict == nil {
		if !o.defaultAllow(req) {
			o.logger.Infof("Rejected request %s/%s -> %s/%s: no rule, namespaces differ.",
				req.SrcNamespace, req.SrcService, req.DstNamespace, req.DstService)
			return nil, ErrPolicyDenied
		}
	} else {
		switch verdict.Action {
		case trafficpolicy.ActionDeny:
			o.logger.Infof("Rejected request to '%s' by rule '%s'.", req.DstService, verdict.RuleName)
			return nil, fmt.Errorf("rule '%s': %w", verdict.RuleName, ErrPolicyDenied)
		case trafficpolicy.ActionRedirect, trafficpolicy.ActionForcedRoute:
			target = verdict.Target
			o.logger.Infof("Rule '%s' routes request for '%s' to '%s'.",
				verdict.RuleName, req.DstService, target)
		case trafficpolicy.ActionMirror:
			o.mirror(verdict.Target, req)
		case trafficpolicy.ActionAllow:
		}
	}

	// a substituted target has its own breaker
	if target != req.DstService && !o.breakers.Admit(target, secure) {
		o.logger.Infof("Rejected request to '%s': breaker open.", target)
		return nil, fmt.Errorf("service '%s': %w", target, ErrCircuitOpen)
	}

	ep, err := o.balancer.Select(target, req, secure)
	if err != nil {
		// selection failure counts against the breaker but touches no
		// endpoint metrics, as no endpoint was involved
		o.breakers.RecordFailure(target, secure, circuitbreaker.FailureKindNoEndpoint)
		o.emit(target, "", 0, false, secure)
		return nil, fmt.Errorf("service '%s': %w", target, err)
	}

	resp, latency, err := o.execute(ctx, ep, req)

	if err != nil {
		kind := classifyFailure(err)
		o.breakers.RecordFailure(target, secure, kind)
		o.emit(target, ep.ID, latency, false, secure)
		return nil, &CallFailureError{Kind: kind, Err: err}
	}

	o.breakers.RecordSuccess(target, secure)
	o.emit(target, ep.ID, latency, true, secure)

	resp.Service = target
	resp.EndpointID = ep.ID
	resp.Latency = latency
	return resp, nil
}

// defaultAllow is the policy applied when no rule has an opinion: requests
// stay within their namespace. A request with no namespaces set is allowed.
func (o *Orchestrator) defaultAllow(req *api.Request) bool {
	if req.SrcNamespace == "" || req.DstNamespace == "" {
		return true
	}
	return req.SrcNamespace == req.DstNamespace
}

// execute performs the call against the endpoint, accounting the open
// connection and the outcome into the registry.
func (o *Orchestrator) execute(
	ctx context.Context,
	ep *registry.Endpoint,
	req *api.Request,
) (*api.Response, time.Duration, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCallTimeout)
		defer cancel()
	}

	if err := o.registry.UpdateMetrics(ep.ID, registry.MetricsDelta{ConnectionDelta: 1}); err != nil {
		o.logger.Warnf("Cannot account connection for endpoint '%s': %v.", ep.ID, err)
	}

	start := time.Now()
	resp, err := o.executor.Execute(ctx, ep, req)
	latency := time.Since(start)

	delta := registry.MetricsDelta{
		Completed:       true,
		Failed:          err != nil,
		Latency:         latency,
		ConnectionDelta: -1,
	}
	if resp != nil {
		delta.Bytes = int64(len(resp.Body))
	}
	if updateErr := o.registry.UpdateMetrics(ep.ID, delta); updateErr != nil {
		o.logger.Warnf("Cannot update metrics of endpoint '%s': %v.", ep.ID, updateErr)
	}

	return resp, latency, err
}

// mirror dispatches a shadow copy of the request to the mirror target.
// The copy runs asynchronously on its own deadline; its outcome feeds
// endpoint metrics only, never the breaker or the request record stream.
func (o *Orchestrator) mirror(target string, req *api.Request) {
	ep, err := o.balancer.Select(target, req, req.RequireSecureChannel)
	if err != nil {
		o.logger.Debugf("No endpoint to mirror to on '%s': %v.", target, err)
		return
	}

	shadow := *req
	shadow.DstService = target

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()

		if _, _, err := o.execute(ctx, ep, &shadow); err != nil {
			o.logger.Debugf("Mirrored request to '%s' failed: %v.", target, err)
		}
	}()
}

func (o *Orchestrator) emit(service, endpointID string, latency time.Duration, success, secure bool) {
	if o.sink == nil {
		return
	}
	o.sink.Record(metrics.Record{
		Service:       service,
		EndpointID:    endpointID,
		Latency:       latency,
		Success:       success,
		SecureChannel: secure,
		Timestamp:     time.Now(),
	})
}

// classifyFailure maps a call error to a breaker failure kind.
func classifyFailure(err error) circuitbreaker.FailureKind {
	var statusErr *UpstreamStatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return circuitbreaker.FailureKindTimeout
	case errors.Is(err, context.Canceled):
		return circuitbreaker.FailureKindCancelled
	case errors.As(err, &statusErr):
		return circuitbreaker.FailureKindUpstream
	default:
		return circuitbreaker.FailureKindConnection
	}
}
