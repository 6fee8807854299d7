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

package bolt

import (
	"bytes"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

const bucketName = "mesh-controlplane"

// Store implements a key-value store backed by bolt.
type Store struct {
	db *bbolt.DB

	logger *logrus.Entry
}

// Put a (key, value) to the store, overwriting a previous value if exists.
func (s *Store) Put(key, value []byte) error {
	s.logger.Debugf("Putting key: %s.", key)

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put(key, value)
	})
}

// Delete a key (with its respective value) from the store.
func (s *Store) Delete(key []byte) error {
	s.logger.Debugf("Deleting key: %s.", key)

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete(key)
	})
}

// Range calls f sequentially for each key starting with the given prefix.
func (s *Store) Range(prefix []byte, f func(key, value []byte) error) error {
	s.logger.Debugf("Iterating keys with prefix: %s.", prefix)

	return s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(bucketName)).Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			if err := f(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Open a bolt-backed store residing at the given path.
func Open(path string) (*Store, error) {
	logger := logrus.WithField("component", "store.kv.bolt")
	logger.Infof("Opening bolt store: %s.", path)

	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}

	// make sure our bucket exists
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}
