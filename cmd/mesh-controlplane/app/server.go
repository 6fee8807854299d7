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

package app

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/circuitbreaker"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/healthcheck"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/loadbalancer"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/metrics"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/orchestrator"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/registry"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/server"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/store/kv"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/store/kv/bolt"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/trafficpolicy"
	logutils "github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/util/log"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/util/runnable"
)

const (
	// logLevel is the default log level.
	logLevel = "warn"

	// storeFile is the default path of the file holding the persisted state.
	storeFile = "/var/lib/mesh/controlplane.db"

	// listenAddress is the default administration server listen address.
	listenAddress = "0.0.0.0:1180"
)

// Options contains everything necessary to create and run the control plane.
type Options struct {
	// ListenAddress is the administration server listen address.
	ListenAddress string
	// StoreFile is the path of the file holding the persisted state.
	StoreFile string
	// RulesFile is the path of an optional traffic rules file to watch.
	RulesFile string
	// LogFile is the path to file where logs will be written.
	LogFile string
	// LogLevel is the log level.
	LogLevel string
}

// AddFlags adds flags to fs and binds them to options.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ListenAddress, "listen", listenAddress,
		"Listen address of the administration server.")
	fs.StringVar(&o.StoreFile, "store-file", storeFile,
		"Path of the file holding the persisted services, rules and breakers.")
	fs.StringVar(&o.RulesFile, "rules-file", "",
		"Path of a traffic rules file to load and watch. If not specified, rules are managed via the API only.")
	fs.StringVar(&o.LogFile, "log-file", "",
		"Path to a file where logs will be written. If not specified, logs will be printed to stderr.")
	fs.StringVar(&o.LogLevel, "log-level", logLevel,
		"The log level. One of fatal, error, warn, info, debug.")
}

// Run the control plane servers.
func (o *Options) Run() error {
	f, err := logutils.Set(o.LogLevel, o.LogFile)
	if err != nil {
		return err
	}
	if f != nil {
		defer func() {
			if err := f.Close(); err != nil {
				log.Errorf("Cannot close log file: %v", err)
			}
		}()
	}

	kvStore, err := bolt.Open(o.StoreFile)
	if err != nil {
		return err
	}

	defer func() {
		if err := kvStore.Close(); err != nil {
			log.Warnf("Cannot close store: %v.", err)
		}
	}()

	storeManager := kv.NewManager(kvStore)

	reg := registry.NewRegistry()
	engine := trafficpolicy.NewEngine(reg)
	breakers := circuitbreaker.NewManager()
	balancer := loadbalancer.NewLoadBalancer(reg)
	metricsManager := metrics.NewManager()

	orch := orchestrator.NewOrchestrator(
		reg, balancer, breakers, engine, orchestrator.NewHTTPExecutor(), metricsManager)

	manager, err := server.NewManager(storeManager, reg, engine, breakers, orch)
	if err != nil {
		return err
	}

	srv := server.NewServer("mesh-controlplane", nil)
	srv.RegisterHandlers(manager)
	metricsManager.RegisterHandlers(srv.Router())

	runnables := runnable.NewManager()
	runnables.AddServer(o.ListenAddress, srv)
	runnables.Add(healthcheck.NewMonitor(reg))

	if o.RulesFile != "" {
		watcher := trafficpolicy.NewRulesWatcher(o.RulesFile, engine)
		if err := watcher.Load(); err != nil {
			// the file may appear later; the watcher will pick it up
			log.Warnf("Cannot load rules file: %v.", err)
		}
		runnables.Add(watcher)
	}

	return runnables.Run()
}

// NewMeshControlplaneCommand creates a *cobra.Command object with default parameters.
func NewMeshControlplaneCommand() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:          "mesh-controlplane",
		Long:         `mesh-controlplane: traffic control plane for service-to-service request routing`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.Run()
		},
	}

	opts.AddFlags(cmd.Flags())

	return cmd
}
