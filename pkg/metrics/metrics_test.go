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

package metrics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/metrics"
)

func TestRecordAggregation(t *testing.T) {
	m := metrics.NewManager()

	now := time.Now()
	m.Record(metrics.Record{
		Service:   "svc",
		Latency:   10 * time.Millisecond,
		Success:   true,
		Timestamp: now,
	})
	m.Record(metrics.Record{
		Service:       "svc",
		Latency:       30 * time.Millisecond,
		Success:       false,
		SecureChannel: true,
		Timestamp:     now.Add(time.Second),
	})

	stats := m.Snapshot()["svc"]
	require.Equal(t, int64(2), stats.Requests)
	require.Equal(t, int64(1), stats.Failures)
	require.Equal(t, int64(1), stats.SecureRequests)
	require.Equal(t, 20*time.Millisecond, stats.AvgLatency)
	require.Equal(t, now.Add(time.Second), stats.LastSeen)
}

func TestSnapshotIsACopy(t *testing.T) {
	m := metrics.NewManager()
	m.Record(metrics.Record{Service: "svc", Success: true})

	snapshot := m.Snapshot()
	entry := snapshot["svc"]
	entry.Requests = 99
	snapshot["svc"] = entry

	require.Equal(t, int64(1), m.Snapshot()["svc"].Requests)
}
