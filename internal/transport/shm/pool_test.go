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
	"os"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"
)

func TestCreatePoolInitializesHeader(t *testing.T) {
	pool, _ := createTestPool(t, 40960)

	h := pool.Header()
	if string(h.magic[:]) != PoolMagic {
		t.Errorf("magic = %q, want %q", h.magic[:], PoolMagic)
	}
	if h.Version() != PoolVersion {
		t.Errorf("version = %d, want %d", h.Version(), PoolVersion)
	}
	if h.Capacity() != 40960 {
		t.Errorf("capacity = %d, want 40960", h.Capacity())
	}
	if h.Key() != pool.Key() {
		t.Errorf("header key = %d, pool key = %d", h.Key(), pool.Key())
	}
	if h.CreatorPID() != uint32(os.Getpid()) {
		t.Errorf("creator pid = %d, want %d", h.CreatorPID(), os.Getpid())
	}
	if pool.Free() != 40960-PoolDataOffset {
		t.Errorf("free = %d, want %d", pool.Free(), 40960-PoolDataOffset)
	}
	if pool.Backend() != BackendFile {
		t.Errorf("backend = %q, want file", pool.Backend())
	}
}

func TestCreatePoolRejectsSmallCapacity(t *testing.T) {
	opts := testOptions(t)
	for _, capacity := range []uint64{0, 200, 11200, 11400, MinPoolCapacity - 1} {
		key := nextTestKey()
		pool, err := CreatePool(key, capacity, opts)
		if !errors.Is(err, ErrCapacityTooSmall) {
			if pool != nil {
				pool.Close()
			}
			t.Errorf("CreatePool(capacity=%d) error = %v, want ErrCapacityTooSmall", capacity, err)
		}
		if PoolExists(key, opts) {
			t.Errorf("rejected pool %d left a segment behind", key)
		}
	}
}

func TestCreatePoolExclusive(t *testing.T) {
	pool, opts := createTestPool(t, MinPoolCapacity)

	if _, err := CreatePool(pool.Key(), MinPoolCapacity, opts); err == nil {
		t.Fatal("second CreatePool with the same key succeeded")
	}
}

func TestOpenPoolMissing(t *testing.T) {
	opts := testOptions(t)
	if _, err := OpenPool(nextTestKey(), opts); err == nil {
		t.Fatal("OpenPool on a missing pool succeeded")
	}
}

func TestOpenPoolRejectsForeignFile(t *testing.T) {
	opts := testOptions(t)
	key := nextTestKey()
	if err := os.WriteFile(PoolPath(key, opts), make([]byte, 40960), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenPool(key, opts); !errors.Is(err, ErrInvalidPool) {
		t.Fatalf("OpenPool on a zero file error = %v, want ErrInvalidPool", err)
	}
}

func TestAllocateTakesOverLockOfDeadHolder(t *testing.T) {
	pool, _ := createTestPool(t, 40960)

	// a child that has exited and been reaped stands in for a process that
	// died while holding the allocation lock
	child := exec.Command(os.Args[0], "-test.run=^$")
	if err := child.Run(); err != nil {
		t.Fatalf("child process failed: %v", err)
	}
	dead := uint32(child.Process.Pid)
	if processAlive(dead) {
		t.Skipf("pid %d was reused", dead)
	}
	atomic.StoreUint32(&pool.Header().allocLock, dead)

	done := make(chan error, 1)
	go func() {
		_, err := pool.Allocate(3334, 64, nil)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Allocate after dead holder failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Allocate still blocked on a dead lock holder")
	}
	if got := atomic.LoadUint32(&pool.Header().allocLock); got != 0 {
		t.Errorf("lock word after Allocate = %d, want 0", got)
	}
}

func TestLockHeldByLiveProcessBlocks(t *testing.T) {
	pool, _ := createTestPool(t, 40960)
	atomic.StoreUint32(&pool.Header().allocLock, uint32(os.Getppid()))

	done := make(chan error, 1)
	go func() {
		_, err := pool.Allocate(3334, 64, nil)
		done <- err
	}()
	select {
	case <-done:
		t.Fatal("Allocate took a lock held by a live process")
	case <-time.After(100 * time.Millisecond):
	}
	pool.Header().unlock()
	if err := <-done; err != nil {
		t.Fatalf("Allocate after unlock failed: %v", err)
	}
}

func TestLookupRejectsCorruptEntry(t *testing.T) {
	tests := []struct {
		name   string
		offset uint64
		size   uint64
	}{
		{"past capacity", 40960 - 32, 64},
		{"inside header", 0, 64},
		{"wrapping size", PoolDataOffset, ^uint64(0) - 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, _ := createTestPool(t, 40960)
			if _, err := pool.Allocate(3334, 64, nil); err != nil {
				t.Fatalf("Allocate failed: %v", err)
			}
			e := pool.find(3334)
			atomic.StoreUint64(&e.offset, tt.offset)
			atomic.StoreUint64(&e.size, tt.size)

			if _, err := pool.Lookup(3334); !errors.Is(err, ErrInvalidPool) {
				t.Errorf("Lookup error = %v, want ErrInvalidPool", err)
			}
		})
	}
}

func TestAllocateAndLookup(t *testing.T) {
	pool, _ := createTestPool(t, 40960)

	b, err := pool.Allocate(3334, 1000, nil)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if b.Offset != PoolDataOffset {
		t.Errorf("first block offset = %d, want %d", b.Offset, PoolDataOffset)
	}
	if len(b.Data) != 1000 {
		t.Errorf("block data length = %d, want 1000", len(b.Data))
	}

	c, err := pool.Allocate(3335, 10, nil)
	if err != nil {
		t.Fatalf("second Allocate failed: %v", err)
	}
	if c.Offset != PoolDataOffset+1024 {
		t.Errorf("second block offset = %d, want %d", c.Offset, PoolDataOffset+1024)
	}
	if c.Offset%BlockAlignment != 0 {
		t.Errorf("second block offset %d not aligned", c.Offset)
	}

	b.Data[0] = 0xAB
	got, err := pool.Lookup(3334)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.Data[0] != 0xAB {
		t.Errorf("Lookup data[0] = %#x, want 0xAB", got.Data[0])
	}

	if _, err := pool.Lookup(9999); !errors.Is(err, ErrBlockNotFound) {
		t.Errorf("Lookup(unknown) error = %v, want ErrBlockNotFound", err)
	}
	if _, err := pool.Allocate(3334, 10, nil); !errors.Is(err, ErrBlockExists) {
		t.Errorf("duplicate Allocate error = %v, want ErrBlockExists", err)
	}

	blocks := pool.Blocks()
	if len(blocks) != 2 {
		t.Fatalf("Blocks() returned %d entries, want 2", len(blocks))
	}
	if blocks[0].Key != 3334 || blocks[1].Key != 3335 {
		t.Errorf("Blocks() keys = %d,%d", blocks[0].Key, blocks[1].Key)
	}
	if pool.Header().BlockCount() != 2 {
		t.Errorf("block count = %d, want 2", pool.Header().BlockCount())
	}
}

func TestAllocateInitRunsBeforePublish(t *testing.T) {
	pool, _ := createTestPool(t, 40960)

	var sawEntry bool
	_, err := pool.Allocate(1, 64, func(data []byte) {
		data[0] = 7
		_, lookupErr := pool.Lookup(1)
		sawEntry = lookupErr == nil
	})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if sawEntry {
		t.Error("block was visible to Lookup before init returned")
	}
	b, _ := pool.Lookup(1)
	if b.Data[0] != 7 {
		t.Errorf("init write lost: data[0] = %d", b.Data[0])
	}
}

func TestAllocatePoolFull(t *testing.T) {
	pool, _ := createTestPool(t, MinPoolCapacity)

	if _, err := pool.Allocate(1, ExchangeBlockSize, nil); err != nil {
		t.Fatalf("Allocate of exactly the free space failed: %v", err)
	}
	if pool.Free() != 0 {
		t.Errorf("free = %d, want 0", pool.Free())
	}
	if _, err := pool.Allocate(2, 1, nil); !errors.Is(err, ErrPoolFull) {
		t.Errorf("Allocate on full pool error = %v, want ErrPoolFull", err)
	}
}

func TestAllocateTooManyBlocks(t *testing.T) {
	pool, _ := createTestPool(t, 40960)

	for i := 0; i < MaxBlocks; i++ {
		if _, err := pool.Allocate(int32(i+1), 8, nil); err != nil {
			t.Fatalf("Allocate #%d failed: %v", i, err)
		}
	}
	if _, err := pool.Allocate(100, 8, nil); !errors.Is(err, ErrTooManyBlocks) {
		t.Errorf("Allocate past table size error = %v, want ErrTooManyBlocks", err)
	}
}

func TestOpenPoolSeesBlocks(t *testing.T) {
	pool, opts := createTestPool(t, 40960)

	b, err := pool.Allocate(3334, 128, nil)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	copy(b.Data, "hello from the creator")

	peer := openTestPool(t, pool.Key(), opts)
	if peer.Capacity() != pool.Capacity() {
		t.Errorf("peer capacity = %d, want %d", peer.Capacity(), pool.Capacity())
	}

	pb, err := peer.Lookup(3334)
	if err != nil {
		t.Fatalf("peer Lookup failed: %v", err)
	}
	if got := string(pb.Data[:22]); got != "hello from the creator" {
		t.Errorf("peer read %q", got)
	}

	// writes flow the other way through the shared mapping
	pb.Data[127] = 0x5A
	if b.Data[127] != 0x5A {
		t.Error("creator did not observe the peer's write")
	}
}

func TestRemovePool(t *testing.T) {
	opts := testOptions(t)
	key := nextTestKey()

	pool, err := CreatePool(key, MinPoolCapacity, opts)
	if err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}
	if !PoolExists(key, opts) {
		t.Fatal("PoolExists = false after CreatePool")
	}
	if err := pool.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := pool.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if err := RemovePool(key, opts); err != nil {
		t.Fatalf("RemovePool failed: %v", err)
	}
	if PoolExists(key, opts) {
		t.Error("PoolExists = true after RemovePool")
	}
}

func TestSysvPool(t *testing.T) {
	opts := Options{Backend: BackendSysV}
	key := int32(0x52410000) + nextTestKey()

	pool, err := CreatePool(key, 40960, opts)
	if err != nil {
		t.Skipf("System V shared memory unavailable: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		RemovePool(key, opts)
	})

	if pool.Mapped() < 40960 {
		t.Errorf("mapped %d bytes, want at least 40960", pool.Mapped())
	}

	b, err := pool.Allocate(3334, 64, nil)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	b.Data[0] = 42

	peer := openTestPool(t, key, opts)
	pb, err := peer.Lookup(3334)
	if err != nil {
		t.Fatalf("peer Lookup failed: %v", err)
	}
	if pb.Data[0] != 42 {
		t.Errorf("peer read %d, want 42", pb.Data[0])
	}
}
