//go:build linux

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
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// CreatePool creates and initializes a new pool of the given capacity.
// It fails if a pool with the same key already exists.
func CreatePool(key int32, capacity uint64, opts Options) (*Pool, error) {
	if err := ValidateCapacity(capacity); err != nil {
		return nil, err
	}

	var (
		m   mapping
		err error
	)
	switch opts.Backend {
	case BackendFile:
		m, err = createFileMapping(PoolPath(key, opts), capacity)
	case BackendSysV, "":
		m, err = createSysvMapping(key, capacity)
	default:
		return nil, fmt.Errorf("unknown shared memory backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	p := newPool(key, backendOrDefault(opts.Backend), m)
	p.h.init(key, capacity, uint32(os.Getpid()))
	return p, nil
}

// OpenPool attaches to an existing pool and validates its header.
func OpenPool(key int32, opts Options) (*Pool, error) {
	var (
		m   mapping
		err error
	)
	switch opts.Backend {
	case BackendFile:
		m, err = openFileMapping(PoolPath(key, opts))
	case BackendSysV, "":
		m, err = openSysvMapping(key)
	default:
		return nil, fmt.Errorf("unknown shared memory backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	if len(m.bytes()) < PoolDataOffset {
		m.close()
		return nil, fmt.Errorf("pool %d too small: %d bytes: %w", key, len(m.bytes()), ErrInvalidPool)
	}

	p := newPool(key, backendOrDefault(opts.Backend), m)
	if err := ValidatePoolHeader(p.h, uint64(len(p.mem))); err != nil {
		p.Close()
		return nil, fmt.Errorf("pool %d: %w", key, err)
	}
	return p, nil
}

// RemovePool destroys a pool. Processes that still have it mapped keep
// their mapping until they close it.
func RemovePool(key int32, opts Options) error {
	switch opts.Backend {
	case BackendFile:
		return os.Remove(PoolPath(key, opts))
	case BackendSysV, "":
		id, err := unix.SysvShmGet(int(key), 0, 0)
		if err != nil {
			if errors.Is(err, unix.ENOENT) {
				return os.ErrNotExist
			}
			return fmt.Errorf("shmget %d: %w", key, err)
		}
		if _, err := unix.SysvShmCtl(id, unix.IPC_RMID, nil); err != nil {
			return fmt.Errorf("shmctl IPC_RMID %d: %w", key, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown shared memory backend %q", opts.Backend)
	}
}

// PoolExists checks if a pool with the key exists
func PoolExists(key int32, opts Options) bool {
	switch opts.Backend {
	case BackendFile:
		_, err := os.Stat(PoolPath(key, opts))
		return err == nil
	case BackendSysV, "":
		_, err := unix.SysvShmGet(int(key), 0, 0)
		return err == nil
	default:
		return false
	}
}

func backendOrDefault(b Backend) Backend {
	if b == "" {
		return BackendSysV
	}
	return b
}

// fileMapping is a pool backed by a memory-mapped file.
type fileMapping struct {
	file *os.File
	mem  []byte
	path string
}

func (f *fileMapping) bytes() []byte { return f.mem }

func (f *fileMapping) close() error {
	var firstErr error

	if f.mem != nil {
		if err := unix.Munmap(f.mem); err != nil {
			firstErr = fmt.Errorf("munmap failed: %w", err)
		}
		f.mem = nil
	}

	if f.file != nil {
		if err := f.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		f.file = nil
	}

	return firstErr
}

func createFileMapping(path string, size uint64) (*fileMapping, error) {
	// Create the file with exclusive access
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool file %s: %w", path, err)
	}

	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	if err := file.Truncate(int64(size)); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to resize pool file: %w", err)
	}

	mem, err := mmapFile(file, int(size))
	if err != nil {
		cleanup()
		return nil, err
	}

	return &fileMapping{file: file, mem: mem, path: path}, nil
}

func openFileMapping(path string) (*fileMapping, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat pool file: %w", err)
	}
	if info.Size() < PoolHeaderSize {
		file.Close()
		return nil, fmt.Errorf("pool file too small: %d bytes: %w", info.Size(), ErrInvalidPool)
	}

	mem, err := mmapFile(file, int(info.Size()))
	if err != nil {
		file.Close()
		return nil, err
	}

	return &fileMapping{file: file, mem: mem, path: path}, nil
}

// mmapFile memory maps a file
func mmapFile(file *os.File, size int) ([]byte, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return data, nil
}

// sysvMapping is a pool backed by a System V shared memory segment.
type sysvMapping struct {
	id  int
	mem []byte
}

func (s *sysvMapping) bytes() []byte { return s.mem }

func (s *sysvMapping) close() error {
	if s.mem == nil {
		return nil
	}
	err := unix.SysvShmDetach(s.mem)
	s.mem = nil
	if err != nil {
		return fmt.Errorf("shmdt failed: %w", err)
	}
	return nil
}

func createSysvMapping(key int32, size uint64) (*sysvMapping, error) {
	id, err := unix.SysvShmGet(int(key), int(size), unix.IPC_CREAT|unix.IPC_EXCL|0o600)
	if err != nil {
		return nil, fmt.Errorf("shmget %d (%d bytes): %w", key, size, err)
	}

	mem, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		unix.SysvShmCtl(id, unix.IPC_RMID, nil)
		return nil, fmt.Errorf("shmat %d: %w", key, err)
	}

	return &sysvMapping{id: id, mem: mem}, nil
}

func openSysvMapping(key int32) (*sysvMapping, error) {
	id, err := unix.SysvShmGet(int(key), 0, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shmget %d: %w", key, err)
	}

	mem, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("shmat %d: %w", key, err)
	}

	return &sysvMapping{id: id, mem: mem}, nil
}

// processAlive reports whether pid names a live process. EPERM means the
// process exists under another user.
func processAlive(pid uint32) bool {
	err := unix.Kill(int(pid), 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
