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

// Package shm implements the shared memory pool that connects the ns-3
// simulator with the RAN-AI controller.
//
// A pool is a single shared memory segment, identified by an integer pool
// key, that holds a fixed header, a table of keyed blocks and the block
// data. It is backed either by System V shared memory (the facility the
// simulator's memory-pool module attaches with) or by a memory-mapped file
// under /dev/shm.
//
// An exchange block carries one ObservationRecord and one ActionRecord
// behind a small header. The header's sequence counter implements the step
// handshake: the simulator publishes an observation and waits, the
// controller answers with an action and waits for the next step. Waits
// sleep on a shared futex, so neither side spins between steps.
//
// Block allocation is serialized by a spinlock in the pool header that
// holds the pid of its holder. A waiter takes the lock over once that pid
// no longer names a live process.
package shm
