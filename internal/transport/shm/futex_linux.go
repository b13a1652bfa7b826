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
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux futex operations. The shared (non-private) variants are required:
// the futex word lives in memory mapped by two different processes.
const (
	futexWaitOp = 0 // FUTEX_WAIT
	futexWakeOp = 1 // FUTEX_WAKE
)

// futexWaitTimeout waits on addr until the value changes from val or
// timeoutNs elapses. A non-positive timeout waits forever. Returns
// ErrFutexTimeout if the wait times out.
//
// Always re-check the condition after this returns due to possible
// spurious wakeups.
func futexWaitTimeout(addr *uint32, val uint32, timeoutNs int64) error {
	// Re-check before entering the syscall so a wake that raced with the
	// caller's snapshot is not lost.
	if atomic.LoadUint32(addr) != val {
		return nil
	}

	var tsp *unix.Timespec
	if timeoutNs > 0 {
		ts := unix.NsecToTimespec(timeoutNs)
		tsp = &ts
	}

	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), // uaddr
		futexWaitOp,                   // futex_op
		uintptr(val),                  // expected value
		uintptr(unsafe.Pointer(tsp)),  // timeout, NULL for infinite
		0,                             // uaddr2 - unused
		0,                             // val3 - unused
	)

	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		// woken, value already changed, or interrupted by a signal
		return nil
	case unix.ETIMEDOUT:
		return ErrFutexTimeout
	default:
		return fmt.Errorf("futex wait failed: %w", errno)
	}
}

// futexWake wakes up to n waiters on addr and returns how many woke.
func futexWake(addr *uint32, n int) (int, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWakeOp,
		uintptr(n),
		0,
		0,
		0,
	)
	if errno != 0 {
		return 0, fmt.Errorf("futex wake failed: %w", errno)
	}
	return int(r1), nil
}

// futexWakeAll wakes every waiter on addr.
func futexWakeAll(addr *uint32) {
	futexWake(addr, math.MaxInt32)
}
