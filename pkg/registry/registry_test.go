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

package registry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/registry"
)

const (
	svc1 = "svc1"
	svc2 = "svc2"
)

func makeEndpoint(id string, port uint16) *registry.Endpoint {
	return &registry.Endpoint{
		ID:      id,
		Address: "10.0.0.1",
		Port:    port,
		Status:  registry.HealthStatusHealthy,
	}
}

func TestRegisterImplicitService(t *testing.T) {
	reg := registry.NewRegistry()

	require.NoError(t, reg.Register(svc1, makeEndpoint("ep1", 8080)))

	set, ok := reg.Service(svc1)
	require.True(t, ok)
	require.Equal(t, registry.StrategyDefault, set.Strategy)
	require.Len(t, set.Endpoints, 1)
}

func TestRegisterGeneratesIDAndUnknownStatus(t *testing.T) {
	reg := registry.NewRegistry()

	ep := &registry.Endpoint{Address: "10.0.0.2", Port: 9090}
	require.NoError(t, reg.Register(svc1, ep))
	require.NotEmpty(t, ep.ID)

	endpoints := reg.Endpoints(svc1)
	require.Len(t, endpoints, 1)
	require.Equal(t, registry.HealthStatusUnknown, endpoints[0].Status)

	// unknown endpoints are not dispatch candidates
	require.Empty(t, reg.Snapshot(svc1))
}

func TestRegisterDuplicateID(t *testing.T) {
	reg := registry.NewRegistry()

	require.NoError(t, reg.Register(svc1, makeEndpoint("ep1", 8080)))
	require.Error(t, reg.Register(svc1, makeEndpoint("ep1", 8081)))
	require.Error(t, reg.Register(svc2, makeEndpoint("ep1", 8082)))
}

func TestDeregister(t *testing.T) {
	reg := registry.NewRegistry()

	require.NoError(t, reg.Register(svc1, makeEndpoint("ep1", 8080)))
	require.NoError(t, reg.Register(svc1, makeEndpoint("ep2", 8081)))

	require.NoError(t, reg.Deregister(svc1, "ep1"))
	require.Len(t, reg.Endpoints(svc1), 1)
	require.Error(t, reg.Deregister(svc1, "ep1"))

	// the freed ID can be reused
	require.NoError(t, reg.Register(svc1, makeEndpoint("ep1", 8080)))
}

func TestDeregisterWrongService(t *testing.T) {
	reg := registry.NewRegistry()

	require.NoError(t, reg.Register(svc1, makeEndpoint("ep1", 8080)))
	require.NoError(t, reg.Register(svc2, makeEndpoint("ep2", 8081)))

	// deregistering through the wrong service must leave the endpoint intact
	require.Error(t, reg.Deregister(svc2, "ep1"))

	_, owner, ok := reg.Lookup("ep1")
	require.True(t, ok)
	require.Equal(t, svc1, owner)
	require.NoError(t, reg.UpdateHealth("ep1", registry.HealthStatusHealthy))
	require.Len(t, reg.Endpoints(svc1), 1)
}

func TestRemoveService(t *testing.T) {
	reg := registry.NewRegistry()

	require.NoError(t, reg.Register(svc1, makeEndpoint("ep1", 8080)))
	require.NoError(t, reg.RemoveService(svc1))
	require.Error(t, reg.RemoveService(svc1))

	_, ok := reg.Service(svc1)
	require.False(t, ok)
	_, _, ok = reg.Lookup("ep1")
	require.False(t, ok)
}

func TestSnapshotFiltersUnhealthy(t *testing.T) {
	reg := registry.NewRegistry()

	require.NoError(t, reg.Register(svc1, makeEndpoint("ep1", 8080)))
	require.NoError(t, reg.Register(svc1, makeEndpoint("ep2", 8081)))
	require.NoError(t, reg.UpdateHealth("ep2", registry.HealthStatusUnhealthy))

	healthy := reg.Snapshot(svc1)
	require.Len(t, healthy, 1)
	require.Equal(t, "ep1", healthy[0].ID)
}

func TestSnapshotReturnsCopies(t *testing.T) {
	reg := registry.NewRegistry()

	require.NoError(t, reg.Register(svc1, makeEndpoint("ep1", 8080)))

	snapshot := reg.Snapshot(svc1)
	snapshot[0].Status = registry.HealthStatusUnhealthy

	require.Equal(t, registry.HealthStatusHealthy, reg.Endpoints(svc1)[0].Status)
}

func TestUpdateMetrics(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(svc1, makeEndpoint("ep1", 8080)))

	require.NoError(t, reg.UpdateMetrics("ep1", registry.MetricsDelta{ConnectionDelta: 1}))
	require.NoError(t, reg.UpdateMetrics("ep1", registry.MetricsDelta{
		Completed:       true,
		Latency:         20 * time.Millisecond,
		ConnectionDelta: -1,
		Bytes:           100,
	}))
	require.NoError(t, reg.UpdateMetrics("ep1", registry.MetricsDelta{
		Completed: true,
		Failed:    true,
		Latency:   40 * time.Millisecond,
	}))

	ep, _, ok := reg.Lookup("ep1")
	require.True(t, ok)
	require.Equal(t, 0, ep.Metrics.OpenConnections)
	require.Equal(t, int64(100), ep.Metrics.BytesTransferred)
	require.InDelta(t, 0.5, ep.Metrics.ErrorRate, 0.001)
	require.InDelta(t, 30.0, ep.Metrics.AvgResponseTime, 0.001)
	require.Greater(t, ep.Metrics.RequestsPerSecond, 0.0)
}

func TestOpenConnectionsNeverNegative(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(svc1, makeEndpoint("ep1", 8080)))

	require.NoError(t, reg.UpdateMetrics("ep1", registry.MetricsDelta{ConnectionDelta: -5}))

	ep, _, _ := reg.Lookup("ep1")
	require.Equal(t, 0, ep.Metrics.OpenConnections)
}

func TestUpdateMetricsUnknownEndpoint(t *testing.T) {
	reg := registry.NewRegistry()
	require.Error(t, reg.UpdateMetrics("no-such", registry.MetricsDelta{Completed: true}))
	require.Error(t, reg.UpdateHealth("no-such", registry.HealthStatusHealthy))
}

func TestServiceRate(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(svc1, makeEndpoint("ep1", 8080)))
	require.NoError(t, reg.Register(svc1, makeEndpoint("ep2", 8081)))

	require.Equal(t, 0.0, reg.ServiceRate(svc1))

	for i := 0; i < 10; i++ {
		require.NoError(t, reg.UpdateMetrics("ep1", registry.MetricsDelta{Completed: true}))
		require.NoError(t, reg.UpdateMetrics("ep2", registry.MetricsDelta{Completed: true}))
	}
	require.Greater(t, reg.ServiceRate(svc1), 0.0)
}

func TestRegisterServiceUpdatesConfig(t *testing.T) {
	reg := registry.NewRegistry()

	require.NoError(t, reg.RegisterService(registry.ServiceEndpointSet{
		Service:  svc1,
		Strategy: registry.StrategyLeastConnections,
		Endpoints: []*registry.Endpoint{
			makeEndpoint("ep1", 8080),
		},
	}))
	require.Equal(t, registry.StrategyLeastConnections, reg.Strategy(svc1))

	// updating the strategy keeps existing endpoints
	require.NoError(t, reg.RegisterService(registry.ServiceEndpointSet{
		Service:  svc1,
		Strategy: registry.StrategyLatencyBased,
	}))
	require.Equal(t, registry.StrategyLatencyBased, reg.Strategy(svc1))
	require.Len(t, reg.Endpoints(svc1), 1)
}

func TestRegisterServiceEmptyName(t *testing.T) {
	reg := registry.NewRegistry()
	require.Error(t, reg.RegisterService(registry.ServiceEndpointSet{}))
}
