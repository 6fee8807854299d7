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

// Package versioninfo derives executable version information from the
// build metadata embedded by the Go toolchain.
package versioninfo

import (
	"runtime/debug"
	"strings"
)

var (
	// Version is the module version, when built from a released module.
	Version = "unknown"
	// Revision is the VCS revision the executable was built from.
	Revision = ""
	// DirtyBuild marks a build from a modified working tree.
	DirtyBuild = false
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	Version = info.Main.Version
	for _, kv := range info.Settings {
		switch kv.Key {
		case "vcs.revision":
			Revision = kv.Value
		case "vcs.modified":
			DirtyBuild = kv.Value == "true"
		}
	}
}

// Short summarizes the available version information as
// <version>[-rev-<short SHA>[-dirty]].
func Short() string {
	parts := make([]string, 0, 4)
	if Version != "unknown" && Version != "(devel)" {
		parts = append(parts, Version)
	}
	if Revision != "" {
		commit := Revision
		if len(commit) > 7 {
			commit = commit[:7]
		}
		parts = append(parts, "rev", commit)
		if DirtyBuild {
			parts = append(parts, "dirty")
		}
	}

	if len(parts) == 0 {
		return "devel"
	}
	return strings.Join(parts, "-")
}
