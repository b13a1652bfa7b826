/*
 *
 * Copyright 2025 The ns3-platform Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package shm

import (
	"sync/atomic"
	"testing"
)

var testKeySeq int32 = 5000

// nextTestKey returns a pool key unique within this test binary.
func nextTestKey() int32 {
	return atomic.AddInt32(&testKeySeq, 1)
}

// testOptions returns file-backed options rooted in a per-test directory.
func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{Backend: BackendFile, Dir: t.TempDir()}
}

// createTestPool creates a file-backed test pool with proper cleanup.
// It automatically registers cleanup with t.Cleanup() to ensure the pool is
// always unmapped and removed even if the test fails or panics.
func createTestPool(t *testing.T, capacity uint64) (*Pool, Options) {
	t.Helper()

	opts := testOptions(t)
	key := nextTestKey()

	pool, err := CreatePool(key, capacity, opts)
	if err != nil {
		t.Fatalf("Failed to create test pool %d: %v", key, err)
	}

	t.Cleanup(func() {
		pool.Close()
		RemovePool(key, opts)
	})

	return pool, opts
}

// openTestPool maps an existing test pool a second time, the way a peer
// process would.
func openTestPool(t *testing.T, key int32, opts Options) *Pool {
	t.Helper()

	pool, err := OpenPool(key, opts)
	if err != nil {
		t.Fatalf("Failed to open test pool %d: %v", key, err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}
