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

package runnable_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/util/runnable"
)

// fakeRunnable blocks in Start until it is stopped or fed an error.
type fakeRunnable struct {
	name string

	stopOnce sync.Once
	stopped  chan struct{}
	fail     chan error
}

func newFakeRunnable(name string) *fakeRunnable {
	return &fakeRunnable{
		name:    name,
		stopped: make(chan struct{}),
		fail:    make(chan error, 1),
	}
}

func (f *fakeRunnable) Name() string {
	return f.name
}

func (f *fakeRunnable) Start() error {
	select {
	case err := <-f.fail:
		return err
	case <-f.stopped:
		return nil
	}
}

func (f *fakeRunnable) Stop() error {
	f.stopOnce.Do(func() { close(f.stopped) })
	return nil
}

func (f *fakeRunnable) GracefulStop() error {
	return f.Stop()
}

// fakeServer is a fakeRunnable with a configurable listen error.
type fakeServer struct {
	*fakeRunnable
	listenErr error
}

func (f *fakeServer) Listen(address string) error {
	return f.listenErr
}

func (f *fakeServer) Close() error {
	return nil
}

func TestFailureStopsAllRunnables(t *testing.T) {
	manager := runnable.NewManager()
	failing := newFakeRunnable("failing")
	healthy := newFakeRunnable("healthy")
	manager.Add(failing)
	manager.Add(healthy)

	failing.fail <- errors.New("boom")

	err := manager.Run()
	require.ErrorContains(t, err, "boom")

	// the healthy runnable was asked to stop
	select {
	case <-healthy.stopped:
	default:
		t.Fatal("healthy runnable was not stopped")
	}
}

func TestBadListenerFailsFast(t *testing.T) {
	manager := runnable.NewManager()
	srv := &fakeServer{
		fakeRunnable: newFakeRunnable("server"),
		listenErr:    errors.New("address in use"),
	}
	manager.AddServer("127.0.0.1:0", srv)

	err := manager.Run()
	require.ErrorContains(t, err, "address in use")
}

func TestStopUnblocksRun(t *testing.T) {
	manager := runnable.NewManager()
	manager.Add(newFakeRunnable("one"))
	manager.Add(newFakeRunnable("two"))

	done := make(chan error, 1)
	go func() {
		done <- manager.Run()
	}()

	require.NoError(t, manager.Stop())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
