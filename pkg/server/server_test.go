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

package server_test

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/api"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/circuitbreaker"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/loadbalancer"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/metrics"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/orchestrator"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/registry"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/server"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/store/kv"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/store/kv/bolt"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/trafficpolicy"
)

type testServer struct {
	url      string
	client   *http.Client
	registry *registry.Registry
	engine   *trafficpolicy.Engine
	breakers *circuitbreaker.Manager
}

func startServer(t *testing.T, storePath string) *testServer {
	t.Helper()

	kvStore, err := bolt.Open(storePath)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, kvStore.Close())
	})

	reg := registry.NewRegistry()
	engine := trafficpolicy.NewEngine(reg)
	breakers := circuitbreaker.NewManager()
	sink := metrics.NewManager()
	orch := orchestrator.NewOrchestrator(
		reg, loadbalancer.NewLoadBalancer(reg), breakers, engine,
		orchestrator.NewHTTPExecutor(), sink)

	manager, err := server.NewManager(kv.NewManager(kvStore), reg, engine, breakers, orch)
	require.NoError(t, err)

	srv := server.NewServer("test", nil)
	srv.RegisterHandlers(manager)
	sink.RegisterHandlers(srv.Router())

	httpServer := httptest.NewServer(srv.Router())
	t.Cleanup(httpServer.Close)

	return &testServer{
		url:      httpServer.URL,
		client:   httpServer.Client(),
		registry: reg,
		engine:   engine,
		breakers: breakers,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, ts.url+path, &buf)
	require.NoError(t, err)

	resp, err := ts.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func backendSet(endpoints ...*registry.Endpoint) *registry.ServiceEndpointSet {
	return &registry.ServiceEndpointSet{
		Service:   "backend",
		Strategy:  registry.StrategyRoundRobin,
		Endpoints: endpoints,
	}
}

func TestServiceCRUD(t *testing.T) {
	ts := startServer(t, filepath.Join(t.TempDir(), "test.db"))

	resp := ts.do(t, http.MethodPost, "/services", backendSet())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/services", backendSet())
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/services/backend", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var set registry.ServiceEndpointSet
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&set))
	require.Equal(t, "backend", set.Service)

	updated := backendSet()
	updated.Strategy = registry.StrategyLatencyBased
	resp = ts.do(t, http.MethodPut, "/services", updated)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, registry.StrategyLatencyBased, ts.registry.Strategy("backend"))

	resp = ts.do(t, http.MethodDelete, "/services/backend", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/services/backend", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEndpointCRUD(t *testing.T) {
	ts := startServer(t, filepath.Join(t.TempDir(), "test.db"))

	resp := ts.do(t, http.MethodPost, "/services", backendSet())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	spec := map[string]any{
		"service": "backend",
		"endpoint": &registry.Endpoint{
			ID:      "ep1",
			Address: "10.0.0.1",
			Port:    8080,
		},
	}
	resp = ts.do(t, http.MethodPost, "/endpoints", spec)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/endpoints", spec)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/endpoints/ep1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, "/endpoints/ep1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Empty(t, ts.registry.Endpoints("backend"))
}

func TestEndpointValidation(t *testing.T) {
	ts := startServer(t, filepath.Join(t.TempDir(), "test.db"))

	resp := ts.do(t, http.MethodPost, "/endpoints", map[string]any{
		"service":  "backend",
		"endpoint": &registry.Endpoint{Address: "10.0.0.1"},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRuleCRUD(t *testing.T) {
	ts := startServer(t, filepath.Join(t.TempDir(), "test.db"))

	rule := &trafficpolicy.TrafficRule{
		ID:           "r1",
		Name:         "deny-all",
		Priority:     5,
		Enabled:      true,
		Destinations: []string{"backend"},
		Action:       trafficpolicy.ActionDeny,
	}
	resp := ts.do(t, http.MethodPost, "/rules", rule)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/rules/r1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// invalid rules are rejected before reaching the engine
	bad := &trafficpolicy.TrafficRule{
		Name:         "bad",
		Priority:     5,
		Destinations: []string{"backend"},
		Action:       trafficpolicy.ActionRedirect,
	}
	resp = ts.do(t, http.MethodPost, "/rules", bad)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, "/rules/r1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Len(t, ts.engine.Rules(), 0)
}

func TestBreakerAPI(t *testing.T) {
	ts := startServer(t, filepath.Join(t.TempDir(), "test.db"))

	resp := ts.do(t, http.MethodPost, "/breakers", map[string]any{
		"service": "backend",
		"config":  circuitbreaker.Config{FailureThreshold: 2},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/breakers/backend", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status circuitbreaker.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, circuitbreaker.StateClosed, status.State)

	resp = ts.do(t, http.MethodDelete, "/breakers/backend", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = ts.do(t, http.MethodGet, "/breakers/backend", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func registerBackend(t *testing.T, ts *testServer, backendURL string) {
	t.Helper()

	parsed, err := url.Parse(backendURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(parsed.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	set := backendSet(&registry.Endpoint{
		ID:      "ep1",
		Address: host,
		Port:    uint16(port),
		Status:  registry.HealthStatusHealthy,
	})
	resp := ts.do(t, http.MethodPost, "/services", set)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestDispatch(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))
	defer backend.Close()

	ts := startServer(t, filepath.Join(t.TempDir(), "test.db"))
	registerBackend(t, ts, backend.URL)

	resp := ts.do(t, http.MethodPost, "/dispatch", &api.Request{
		SrcService: "frontend",
		DstService: "backend",
		Path:       "/",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result api.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Equal(t, "ep1", result.EndpointID)

	// the outcome shows up in the aggregated metrics
	resp = ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats map[string]metrics.ServiceStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	require.Equal(t, int64(1), stats["backend"].Requests)
}

func TestDispatchStatusMapping(t *testing.T) {
	ts := startServer(t, filepath.Join(t.TempDir(), "test.db"))

	// no destination service
	resp := ts.do(t, http.MethodPost, "/dispatch", &api.Request{SrcService: "frontend"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// no healthy endpoint
	resp = ts.do(t, http.MethodPost, "/dispatch", &api.Request{
		SrcService: "frontend",
		DstService: "backend",
	})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// policy denial
	require.NoError(t, ts.engine.AddRule(&trafficpolicy.TrafficRule{
		Name:         "deny-all",
		Priority:     5,
		Enabled:      true,
		Destinations: []string{"backend"},
		Action:       trafficpolicy.ActionDeny,
	}))
	resp = ts.do(t, http.MethodPost, "/dispatch", &api.Request{
		SrcService: "frontend",
		DstService: "backend",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// open breaker
	ts.breakers.Configure("other", circuitbreaker.Config{FailureThreshold: 1})
	ts.breakers.RecordFailure("other", false, circuitbreaker.FailureKindConnection)
	resp = ts.do(t, http.MethodPost, "/dispatch", &api.Request{
		SrcService: "frontend",
		DstService: "other",
	})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// makeManager builds a manager over a fresh set of components.
func makeManager(t *testing.T, kvStore *bolt.Store) (*server.Manager, *registry.Registry,
	*trafficpolicy.Engine, *circuitbreaker.Manager,
) {
	t.Helper()

	reg := registry.NewRegistry()
	engine := trafficpolicy.NewEngine(reg)
	breakers := circuitbreaker.NewManager()
	orch := orchestrator.NewOrchestrator(
		reg, loadbalancer.NewLoadBalancer(reg), breakers, engine,
		orchestrator.NewHTTPExecutor(), nil)

	manager, err := server.NewManager(kv.NewManager(kvStore), reg, engine, breakers, orch)
	require.NoError(t, err)
	return manager, reg, engine, breakers
}

func TestPersistenceAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	kvStore, err := bolt.Open(path)
	require.NoError(t, err)

	manager, _, _, _ := makeManager(t, kvStore)
	require.NoError(t, manager.CreateService(backendSet(&registry.Endpoint{
		ID:      "ep1",
		Address: "10.0.0.1",
		Port:    8080,
	})))
	require.NoError(t, manager.CreateRule(&trafficpolicy.TrafficRule{
		ID:           "r1",
		Name:         "deny-all",
		Priority:     5,
		Enabled:      true,
		Destinations: []string{"backend"},
		Action:       trafficpolicy.ActionDeny,
	}))
	require.NoError(t, manager.CreateBreaker(&server.BreakerSpec{
		Service: "backend",
		Config:  circuitbreaker.Config{FailureThreshold: 2},
	}))
	require.NoError(t, kvStore.Close())

	kvStore, err = bolt.Open(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, kvStore.Close())
	}()

	_, reg, engine, breakers := makeManager(t, kvStore)

	set, ok := reg.Service("backend")
	require.True(t, ok)
	require.Len(t, set.Endpoints, 1)

	rule, ok := engine.Rule("r1")
	require.True(t, ok)
	require.Equal(t, "deny-all", rule.Name)

	state, ok := breakers.State("backend")
	require.True(t, ok)
	require.Equal(t, circuitbreaker.StateClosed, state)
}
