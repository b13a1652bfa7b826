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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Backend selects the operating system facility that backs a pool.
type Backend string

const (
	// BackendSysV uses System V shared memory keyed by the pool key, the
	// facility the ns-3 side attaches with.
	BackendSysV Backend = "sysv"

	// BackendFile maps a file under /dev/shm (or Options.Dir).
	BackendFile Backend = "file"
)

// ParseBackend maps a name to a Backend. The empty string selects sysv.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case "", BackendSysV:
		return BackendSysV, nil
	case BackendFile:
		return BackendFile, nil
	default:
		return "", fmt.Errorf("unknown shared memory backend %q", s)
	}
}

// Options configures how a pool is located.
type Options struct {
	Backend Backend
	// Dir overrides the directory of file-backed pools.
	Dir string
}

// mapping is an attached region of shared memory.
type mapping interface {
	bytes() []byte
	// close detaches the region without destroying the segment.
	close() error
}

// PoolPath returns the file path of a file-backed pool.
func PoolPath(key int32, opts Options) string {
	name := "ranai_pool_" + strconv.Itoa(int(key))
	if opts.Dir != "" {
		return filepath.Join(opts.Dir, name)
	}
	// Try /dev/shm first (preferred for shared memory on Linux)
	if isDevShmAvailable() {
		return filepath.Join("/dev/shm", name)
	}
	// Fallback to temporary directory
	return filepath.Join(os.TempDir(), name)
}

// isDevShmAvailable checks if /dev/shm is available
func isDevShmAvailable() bool {
	info, err := os.Stat("/dev/shm")
	if err != nil {
		return false
	}
	return info.IsDir()
}
