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

package orchestrator

import (
	"errors"
	"fmt"

	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/circuitbreaker"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker denies the call.
	// Retryable by the caller after the breaker timeout.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrPolicyDenied is returned when a traffic rule denies the request.
	// Not retryable; a terminal rejection.
	ErrPolicyDenied = errors.New("request denied by traffic policy")
)

// CallFailureError wraps a downstream call failure with its classified kind.
type CallFailureError struct {
	Kind circuitbreaker.FailureKind
	Err  error
}

func (e *CallFailureError) Error() string {
	return fmt.Sprintf("call failed (%s): %v", e.Kind, e.Err)
}

func (e *CallFailureError) Unwrap() error {
	return e.Err
}

// UpstreamStatusError reports a downstream call that completed with a
// server-error status.
type UpstreamStatusError struct {
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}
