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

package runnable

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Instance represents a runnable instance.
type Instance interface {
	Name() string
	Start() error
	Stop() error
	GracefulStop() error
}

// Server represents a runnable server.
type Server interface {
	Instance
	Listen(address string) error
	Close() error
}

// Manager runs a set of runnables as a single unit. A failure of any
// runnable stops all of them, as does a termination signal.
type Manager struct {
	runnables     []Instance
	serverAddress map[Server]string

	logger *logrus.Entry
}

// AddServer adds a new server.
func (m *Manager) AddServer(listenAddress string, server Server) {
	m.Add(server)
	m.serverAddress[server] = listenAddress
}

// Add a new runnable.
func (m *Manager) Add(runnable Instance) {
	m.runnables = append(m.runnables, runnable)
}

type runResult struct {
	runnable Instance
	err      error
}

// Run starts all runnables and blocks until all have stopped. The first
// SIGINT/SIGTERM triggers a graceful stop, a second one a hard stop.
func (m *Manager) Run() error {
	defer func() {
		for server := range m.serverAddress {
			if err := server.Close(); err != nil {
				m.logger.Warnf("Error closing server '%s': %v.", server.Name(), err)
			}
		}
	}()

	// create listeners before starting anything, so a bad address fails fast
	for server, listenAddress := range m.serverAddress {
		if err := server.Listen(listenAddress); err != nil {
			return fmt.Errorf("unable to create listener for server '%s' on %s: %w",
				server.Name(), listenAddress, err)
		}
	}

	results := make(chan runResult, len(m.runnables))
	for _, runnable := range m.runnables {
		go func(runnable Instance) {
			m.logger.Infof("Starting runnable '%s'.", runnable.Name())
			err := runnable.Start()
			m.logger.Infof("Runnable '%s' stopped: %v.", runnable.Name(), err)
			results <- runResult{runnable: runnable, err: err}
		}(runnable)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	var errs []error
	stopping := false
	for done := 0; done < len(m.runnables); {
		select {
		case sig := <-signals:
			if !stopping {
				stopping = true
				m.logger.Infof("Received signal '%v', stopping gracefully.", sig)
				if err := m.GracefulStop(); err != nil {
					m.logger.Warnf("Error gracefully stopping: %v.", err)
				}
			} else {
				m.logger.Infof("Received signal '%v', stopping.", sig)
				if err := m.Stop(); err != nil {
					m.logger.Warnf("Error stopping: %v.", err)
				}
			}
		case result := <-results:
			done++
			if result.err != nil {
				errs = append(errs, fmt.Errorf(
					"error running '%s': %w", result.runnable.Name(), result.err))
			}

			// a failed runnable takes the rest down with it
			if result.err != nil && !stopping && done < len(m.runnables) {
				stopping = true
				if err := m.Stop(); err != nil {
					m.logger.Warnf("Error stopping: %v.", err)
				}
			}
		}
	}

	return errors.Join(errs...)
}

// Stop all runnables.
func (m *Manager) Stop() error {
	m.logger.Info("Stopping.")

	var errs []error
	for _, runnable := range m.runnables {
		if err := runnable.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("unable to stop '%s': %w", runnable.Name(), err))
		}
	}

	return errors.Join(errs...)
}

// GracefulStop gracefully stops all runnables.
func (m *Manager) GracefulStop() error {
	m.logger.Info("Gracefully stopping.")

	var errs []error
	for _, runnable := range m.runnables {
		if err := runnable.GracefulStop(); err != nil {
			errs = append(errs, fmt.Errorf("unable to gracefully stop '%s': %w", runnable.Name(), err))
		}
	}

	return errors.Join(errs...)
}

// NewManager returns a new empty runnable manager.
func NewManager() *Manager {
	return &Manager{
		serverAddress: make(map[Server]string),
		logger:        logrus.WithField("component", "util.runnable"),
	}
}
