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

package kv

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/sirupsen/logrus"

	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/store"
)

// Store represents a key-value store.
type Store interface {
	// Put a (key, value) to the store, overwriting a previous value if exists.
	Put(key, value []byte) error
	// Delete a key (with its respective value) from the store.
	Delete(key []byte) error
	// Range calls f sequentially for each (key, value) where key starts with the given prefix.
	Range(prefix []byte, f func(key, value []byte) error) error
}

// Manager of multiple object stores that are persisted together.
type Manager struct {
	store Store
}

// GetObjectStore returns a store for a specific object type.
func (m *Manager) GetObjectStore(name string, sampleObject any) store.ObjectStore {
	return NewObjectStore(name, m.store, sampleObject)
}

// NewManager returns a new manager backed by the given KV-store.
func NewManager(s Store) *Manager {
	return &Manager{store: s}
}

// ObjectStore is a persistent store of objects, backed by a KV-store.
// Key format for an object is: <storeName>.<objectName>
type ObjectStore struct {
	store Store

	keyPrefix  string
	objectType reflect.Type

	logger *logrus.Entry
}

func (s *ObjectStore) kvKey(name string) []byte {
	return []byte(s.keyPrefix + name)
}

// Store an object.
func (s *ObjectStore) Store(name string, object any) error {
	s.logger.Debugf("Storing: '%s'.", name)

	encoded, err := json.Marshal(object)
	if err != nil {
		return fmt.Errorf("unable to serialize object: %w", err)
	}

	return s.store.Put(s.kvKey(name), encoded)
}

// Delete an object identified by the given name.
func (s *ObjectStore) Delete(name string) error {
	s.logger.Debugf("Deleting: '%s'.", name)

	return s.store.Delete(s.kvKey(name))
}

// GetAll returns all of the objects in the store.
func (s *ObjectStore) GetAll() ([]any, error) {
	s.logger.Debug("Getting all objects.")

	var objects []any
	err := s.store.Range([]byte(s.keyPrefix), func(key, value []byte) error {
		decoded := reflect.New(s.objectType).Interface()
		if err := json.Unmarshal(value, decoded); err != nil {
			return fmt.Errorf("unable to decode object for key %s: %w", key, err)
		}

		objects = append(objects, decoded)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return objects, nil
}

// NewObjectStore returns a new object store backed by a KV-store.
func NewObjectStore(name string, kvStore Store, sampleObject any) *ObjectStore {
	return &ObjectStore{
		store:      kvStore,
		keyPrefix:  name + ".",
		objectType: reflect.TypeOf(sampleObject),
		logger: logrus.WithFields(logrus.Fields{
			"component": "store.kv.object-store",
			"name":      name,
		}),
	}
}
