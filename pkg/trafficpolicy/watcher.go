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
	"os"
	"path"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// RulesWatcher watches a JSON rules file and reloads the engine rule set
// whenever the file changes. The swap is atomic: a file that fails to parse
// or validate leaves the active rules untouched.
type RulesWatcher struct {
	rulesPath string
	engine    *Engine

	stopCh chan struct{}

	logger *logrus.Entry
}

// Name of the watcher.
func (w *RulesWatcher) Name() string {
	return "rules-watcher"
}

// Load reads the rules file and replaces the engine rule set.
func (w *RulesWatcher) Load() error {
	data, err := os.ReadFile(w.rulesPath)
	if err != nil {
		return fmt.Errorf("cannot read rules file: %w", err)
	}

	var rules []*TrafficRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return fmt.Errorf("cannot decode rules file: %w", err)
	}

	return w.engine.ReplaceAll(rules)
}

// Start the watcher. Blocks until Stop is called.
func (w *RulesWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("cannot initialize file watcher: %w", err)
	}

	defer func() {
		if err := watcher.Close(); err != nil {
			w.logger.Warnf("Cannot close watcher: %v.", err)
		}
	}()

	// watch the containing directory, so file replacement is also seen
	dir := path.Dir(w.rulesPath)
	w.logger.Infof("Watching: %s.", dir)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("cannot watch directory '%s': %w", dir, err)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	rulesModified := false
	for {
		select {
		case <-w.stopCh:
			return nil
		case event := <-watcher.Events:
			w.logger.Debugf("Event: %v.", event)
			if path.Base(event.Name) == path.Base(w.rulesPath) {
				rulesModified = true
			}
		case err := <-watcher.Errors:
			w.logger.Errorf("Watcher error: %v.", err)
			return err
		case <-ticker.C:
			if !rulesModified {
				continue
			}

			w.logger.Info("Rules file modified.")
			rulesModified = false

			if err := w.Load(); err != nil {
				// keep serving the previous rule set
				w.logger.Errorf("Cannot reload rules: %v.", err)
			}
		}
	}
}

// Stop the watcher.
func (w *RulesWatcher) Stop() error {
	close(w.stopCh)
	return nil
}

// GracefulStop does a graceful stop of the watcher.
func (w *RulesWatcher) GracefulStop() error {
	return w.Stop()
}

// NewRulesWatcher returns a new rules file watcher feeding the given engine.
func NewRulesWatcher(rulesPath string, engine *Engine) *RulesWatcher {
	return &RulesWatcher{
		rulesPath: rulesPath,
		engine:    engine,
		stopCh:    make(chan struct{}),
		logger:    logrus.WithField("component", "trafficpolicy.rules-watcher"),
	}
}
