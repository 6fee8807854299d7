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

// The mesh-controlplane binary runs the traffic control plane: an HTTP
// server for administration and request dispatch, a health monitor probing
// registered endpoints, and an optional traffic rules file watcher.
package main

import (
	"os"

	"github.com/TechTyphoon/secure-flow-automaton-sub003/cmd/mesh-controlplane/app"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/versioninfo"
)

func main() {
	command := app.NewMeshControlplaneCommand()
	command.Version = versioninfo.Short()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}
