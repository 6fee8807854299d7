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

package bolt_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/store/kv"
	"github.com/TechTyphoon/secure-flow-automaton-sub003/pkg/store/kv/bolt"
)

type object struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func openStore(t *testing.T, path string) *bolt.Store {
	t.Helper()
	s, err := bolt.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func TestPutRangeDelete(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "test.db"))

	require.NoError(t, s.Put([]byte("a.1"), []byte("v1")))
	require.NoError(t, s.Put([]byte("a.2"), []byte("v2")))
	require.NoError(t, s.Put([]byte("b.1"), []byte("other")))

	found := map[string]string{}
	require.NoError(t, s.Range([]byte("a."), func(key, value []byte) error {
		found[string(key)] = string(value)
		return nil
	}))
	require.Equal(t, map[string]string{"a.1": "v1", "a.2": "v2"}, found)

	require.NoError(t, s.Delete([]byte("a.1")))
	count := 0
	require.NoError(t, s.Range([]byte("a."), func(_, _ []byte) error {
		count++
		return nil
	}))
	require.Equal(t, 1, count)
}

func TestObjectStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := bolt.Open(path)
	require.NoError(t, err)

	objects := kv.NewManager(s).GetObjectStore("object", object{})
	require.NoError(t, objects.Store("one", &object{Name: "one", Value: 1}))
	require.NoError(t, objects.Store("two", &object{Name: "two", Value: 2}))
	require.NoError(t, objects.Delete("two"))
	require.NoError(t, s.Close())

	s = openStore(t, path)
	objects = kv.NewManager(s).GetObjectStore("object", object{})

	restored, err := objects.GetAll()
	require.NoError(t, err)
	require.Len(t, restored, 1)
	require.Equal(t, &object{Name: "one", Value: 1}, restored[0])
}
