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

package orchestrator

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/api"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/registry"
)

// Executor performs the outbound call against a selected endpoint.
type Executor interface {
	Execute(ctx context.Context, ep *registry.Endpoint, req *api.Request) (*api.Response, error)
}

// HTTPExecutor executes requests over plain HTTP.
type HTTPExecutor struct {
	client *http.Client

	logger *logrus.Entry
}

// NewHTTPExecutor returns a new HTTP executor.
func NewHTTPExecutor() *HTTPExecutor {
	return &HTTPExecutor{
		client: &http.Client{},
		logger: logrus.WithField("component", "orchestrator.http-executor"),
	}
}

// Execute performs the call. A server-error status is reported as a failure,
// so it feeds the circuit breaker like any other downstream error.
func (e *HTTPExecutor) Execute(
	ctx context.Context,
	ep *registry.Endpoint,
	req *api.Request,
) (*api.Response, error) {
	scheme := ep.Protocol
	if scheme == "" {
		scheme = "http"
	}
	url := fmt.Sprintf("%s://%s:%d%s", scheme, ep.Address, ep.Port, req.Path)

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode >= http.StatusInternalServerError {
		return nil, &UpstreamStatusError{StatusCode: httpResp.StatusCode}
	}

	headers := make(map[string]string, len(httpResp.Header))
	for key := range httpResp.Header {
		headers[key] = httpResp.Header.Get(key)
	}

	return &api.Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Headers:    headers,
	}, nil
}
