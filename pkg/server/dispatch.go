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
	"errors"
	"net/http"

	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/api"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/loadbalancer"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/orchestrator"
)

// dispatch routes one request through the orchestrator pipeline.
func (s *Server) dispatch(manager *Manager, w http.ResponseWriter, r *http.Request) {
	var req api.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.DstService == "" {
		http.Error(w, "empty destination service", http.StatusBadRequest)
		return
	}

	resp, err := manager.orchestrator.Handle(r.Context(), &req)
	if err != nil {
		http.Error(w, err.Error(), dispatchStatus(err))
		return
	}

	s.writeJSON(w, resp)
}

// dispatchStatus maps a pipeline error to an HTTP status code.
func dispatchStatus(err error) int {
	var callErr *orchestrator.CallFailureError
	switch {
	case errors.Is(err, orchestrator.ErrPolicyDenied):
		return http.StatusForbidden
	case errors.Is(err, orchestrator.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, loadbalancer.ErrNoHealthyEndpoint):
		return http.StatusServiceUnavailable
	case errors.As(err, &callErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
