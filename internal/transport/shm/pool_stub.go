//go:build !linux

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

// CreatePool is not supported on this platform
func CreatePool(key int32, capacity uint64, opts Options) (*Pool, error) {
	if err := ValidateCapacity(capacity); err != nil {
		return nil, err
	}
	return nil, ErrUnsupported
}

// OpenPool is not supported on this platform
func OpenPool(key int32, opts Options) (*Pool, error) {
	return nil, ErrUnsupported
}

// RemovePool is not supported on this platform
func RemovePool(key int32, opts Options) error {
	return ErrUnsupported
}

// PoolExists always reports false on this platform
func PoolExists(key int32, opts Options) bool {
	return false
}

func processAlive(pid uint32) bool {
	return true
}
