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

package store

// ObjectStore represents a persistent store of objects.
type ObjectStore interface {
	// Store an object, overwriting any previous object with the same name.
	Store(name string, object any) error
	// Delete an object identified by the given name.
	Delete(name string) error
	// GetAll returns all of the objects in the store.
	GetAll() ([]any, error)
}

// ObjectExistsError is returned when trying to create an object which already exists.
type ObjectExistsError struct{}

func (e *ObjectExistsError) Error() string {
	return "object already exists"
}

// ObjectNotFoundError is returned when a named object does not exist.
type ObjectNotFoundError struct{}

func (e *ObjectNotFoundError) Error() string {
	return "object not found"
}
