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

// Package api holds the wire types shared between the control-plane
// components and its administrative clients.
package api

import "time"

// Request describes a single service-to-service request to be routed
// by the control plane. It is ephemeral and never persisted.
type Request struct {
	// SrcService is the name of the calling service.
	SrcService string `json:"srcService"`
	// SrcNamespace is the namespace of the calling service.
	SrcNamespace string `json:"srcNamespace"`
	// DstService is the name of the target service.
	DstService string `json:"dstService"`
	// DstNamespace is the namespace of the target service.
	DstNamespace string `json:"dstNamespace"`
	// Method is the request method (e.g. GET, POST).
	Method string `json:"method"`
	// Path is the request path.
	Path string `json:"path"`
	// Headers to be forwarded to the selected endpoint.
	Headers map[string]string `json:"headers,omitempty"`
	// Labels carry arbitrary source workload attributes.
	Labels map[string]string `json:"labels,omitempty"`
	// Capabilities required by the request.
	Capabilities []string `json:"capabilities,omitempty"`
	// SecurityLevel is a numeric security classification of the request.
	SecurityLevel int `json:"securityLevel"`
	// RequireSecureChannel mandates selection of secure-channel capable endpoints.
	RequireSecureChannel bool `json:"requireSecureChannel"`
}

// Response describes the outcome of a routed request.
type Response struct {
	// StatusCode is the downstream HTTP status code.
	StatusCode int `json:"statusCode"`
	// Body is the downstream response body.
	Body []byte `json:"body,omitempty"`
	// Headers returned by the selected endpoint.
	Headers map[string]string `json:"headers,omitempty"`
	// Service is the (possibly policy-substituted) service that served the request.
	Service string `json:"service"`
	// EndpointID identifies the endpoint that served the request.
	EndpointID string `json:"endpointID"`
	// Latency is the observed downstream latency.
	Latency time.Duration `json:"latency"`
}
