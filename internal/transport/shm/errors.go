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

import "errors"

var (
	// ErrCapacityTooSmall is returned when a pool cannot hold the framing
	// plus one exchange block.
	ErrCapacityTooSmall = errors.New("pool capacity too small")

	// ErrInvalidPool is returned when a mapped region does not carry a valid
	// pool header.
	ErrInvalidPool = errors.New("invalid pool header")

	// ErrPoolFull is returned when a block does not fit in the free space.
	ErrPoolFull = errors.New("pool full")

	// ErrTooManyBlocks is returned when the block table has no free entry.
	ErrTooManyBlocks = errors.New("block table full")

	// ErrBlockExists is returned by Allocate for a key already in use.
	ErrBlockExists = errors.New("block already exists")

	// ErrBlockNotFound is returned by Lookup for an unknown key.
	ErrBlockNotFound = errors.New("block not found")

	// ErrLayoutMismatch is returned when a block's recorded sizes disagree
	// with the record layouts compiled into this process.
	ErrLayoutMismatch = errors.New("record layout mismatch")

	// ErrClosed is returned by exchange waits once either side closed the
	// block.
	ErrClosed = errors.New("exchange closed")

	// ErrOutOfTurn is returned when a side writes while the other side owns
	// the block.
	ErrOutOfTurn = errors.New("exchange out of turn")

	// ErrUnsupported is returned on platforms without shared memory support.
	ErrUnsupported = errors.New("shared memory not supported on this platform")

	// ErrFutexTimeout is returned by futexWaitTimeout when the wait times out.
	ErrFutexTimeout = errors.New("futex timeout")
)
