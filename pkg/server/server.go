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

// Package server exposes the control plane administration API: CRUD of
// services, endpoints, traffic rules and circuit breakers, plus request
// dispatch and metrics inspection.
package server

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"

	"github.com/go-chi/chi"
	"github.com/sirupsen/logrus"

	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/store"
	utilhttp "github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/util/http"
)

// Server handles REST-JSON administration requests.
type Server struct {
	*utilhttp.Server

	logger *logrus.Entry
}

// objectHandler implements the operations of one administered object type.
type objectHandler interface {
	// Decode and validate an object.
	Decode(data []byte) (any, error)
	// Create an object.
	Create(object any) error
	// Update an object, creating it if needed.
	Update(object any) error
	// Get an object by name. A nil result means not found.
	Get(name string) (any, error)
	// Delete an object by name. A nil result means not found.
	Delete(name string) (any, error)
	// List all objects.
	List() (any, error)
}

// decodeBody reads and decodes the request body through the handler.
func (s *Server) decodeBody(h objectHandler, w http.ResponseWriter, r *http.Request) (any, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Errorf("Cannot read request body: %v.", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}

	object, err := h.Decode(body)
	if err != nil {
		s.logger.Errorf("Cannot decode object: %v.", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return object, true
}

// writeJSON encodes an object into the response.
func (s *Server) writeJSON(w http.ResponseWriter, object any) {
	encoded, err := json.Marshal(object)
	if err != nil {
		s.logger.Errorf("Cannot encode object: %v.", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if _, err := w.Write(encoded); err != nil {
		s.logger.Errorf("Cannot write http response: %v.", err)
	}
}

func (s *Server) create(h objectHandler, w http.ResponseWriter, r *http.Request) {
	object, ok := s.decodeBody(h, w, r)
	if !ok {
		return
	}

	if err := h.Create(object); err != nil {
		var existsErr *store.ObjectExistsError
		if errors.As(err, &existsErr) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		s.logger.Errorf("Cannot create object: %v.", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Location", r.URL.String())
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) update(h objectHandler, w http.ResponseWriter, r *http.Request) {
	object, ok := s.decodeBody(h, w, r)
	if !ok {
		return
	}

	if err := h.Update(object); err != nil {
		var notFoundErr *store.ObjectNotFoundError
		if errors.As(err, &notFoundErr) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.logger.Errorf("Cannot update object: %v.", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) get(h objectHandler, w http.ResponseWriter, r *http.Request) {
	result, err := h.Get(chi.URLParam(r, "name"))
	if err != nil {
		s.logger.Errorf("Cannot get object: %v.", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if isNil(result) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	s.writeJSON(w, result)
}

func (s *Server) delete(h objectHandler, w http.ResponseWriter, r *http.Request) {
	result, err := h.Delete(chi.URLParam(r, "name"))
	if err != nil {
		s.logger.Errorf("Cannot delete object: %v.", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if isNil(result) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) list(h objectHandler, w http.ResponseWriter, _ *http.Request) {
	result, err := h.List()
	if err != nil {
		s.logger.Errorf("Cannot list objects: %v.", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, result)
}

// isNil reports whether a handler result is a nil object, possibly wrapped
// in a non-nil interface.
func isNil(object any) bool {
	if object == nil {
		return true
	}
	value := reflect.ValueOf(object)
	return value.Kind() == reflect.Pointer && value.IsNil()
}

// addObjectHandlers mounts the CRUD routes of one object type.
func (s *Server) addObjectHandlers(basePath string, h objectHandler) {
	s.Router().Route(basePath, func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			s.create(h, w, r)
		})
		r.Put("/", func(w http.ResponseWriter, r *http.Request) {
			s.update(h, w, r)
		})
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			s.list(h, w, r)
		})
		r.Get("/{name}", func(w http.ResponseWriter, r *http.Request) {
			s.get(h, w, r)
		})
		r.Delete("/{name}", func(w http.ResponseWriter, r *http.Request) {
			s.delete(h, w, r)
		})
	})
}

// RegisterHandlers mounts all administration routes backed by the manager.
func (s *Server) RegisterHandlers(manager *Manager) {
	s.addObjectHandlers("/services", &serviceHandler{manager: manager})
	s.addObjectHandlers("/endpoints", &endpointHandler{manager: manager})
	s.addObjectHandlers("/rules", &ruleHandler{manager: manager})
	s.addObjectHandlers("/breakers", &breakerHandler{manager: manager})

	s.Router().Post("/dispatch", func(w http.ResponseWriter, r *http.Request) {
		s.dispatch(manager, w, r)
	})
}

// NewServer returns a new empty administration server.
func NewServer(name string, tlsConfig *tls.Config) *Server {
	return &Server{
		Server: utilhttp.NewServer(name, tlsConfig),
		logger: logrus.WithFields(logrus.Fields{
			"component": "server",
			"name":      name,
		}),
	}
}
