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
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/qiliang336/ns3-platform/internal/record"
)

// Exchange block layout
const (
	// Exchange header size (aligned to 64 bytes)
	ExchangeHeaderSize = 64

	// Offset of the ObservationRecord inside an exchange block
	ObservationOffset = ExchangeHeaderSize

	// Offset of the ActionRecord inside an exchange block
	ActionOffset = ObservationOffset + record.ObservationRecordSize

	// ExchangeBlockSize is the block size reserved for one exchange
	ExchangeBlockSize = (ActionOffset + record.ActionRecordSize + BlockAlignment - 1) &^ (BlockAlignment - 1)

	// MinPoolCapacity is the smallest pool that holds one exchange block
	MinPoolCapacity = PoolDataOffset + ExchangeBlockSize

	// DefaultWaitSlice bounds a single futex sleep so context cancellation
	// is noticed without a deadline.
	DefaultWaitSlice = 20 * time.Millisecond
)

// ExchangeHeader precedes the two records of an exchange block.
//
// seq drives the step handshake: even means the producer owns the block,
// odd means an observation is published and the consumer owns it.
type ExchangeHeader struct {
	key         int32    // 0x00: block key
	seq         uint32   // 0x04: handshake counter (futex word)
	obsSize     uint32   // 0x08: ObservationRecord size
	actSize     uint32   // 0x0C: ActionRecord size
	producerPID uint32   // 0x10: producer process ID
	consumerPID uint32   // 0x14: consumer process ID
	closed      uint32   // 0x18: closed flag
	pad         uint32   // 0x1C: padding
	lastPublish int64    // 0x20: unix ns of the last seq change
	reserved    [24]byte // 0x28-0x3F: reserved/padding to 64B
}

// Seq returns the handshake counter
func (h *ExchangeHeader) Seq() uint32 {
	return atomic.LoadUint32(&h.seq)
}

// ProducerPID returns the producer process ID
func (h *ExchangeHeader) ProducerPID() uint32 {
	return atomic.LoadUint32(&h.producerPID)
}

// ConsumerPID returns the consumer process ID
func (h *ExchangeHeader) ConsumerPID() uint32 {
	return atomic.LoadUint32(&h.consumerPID)
}

// Closed returns the closed flag
func (h *ExchangeHeader) Closed() bool {
	return atomic.LoadUint32(&h.closed) != 0
}

// LastPublish returns the time of the last handshake step
func (h *ExchangeHeader) LastPublish() time.Time {
	ns := atomic.LoadInt64(&h.lastPublish)
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (h *ExchangeHeader) publish(seq uint32) {
	atomic.StoreInt64(&h.lastPublish, time.Now().UnixNano())
	atomic.StoreUint32(&h.seq, seq)
	futexWakeAll(&h.seq)
}

// reopen starts a new session on a block a previous run closed. seq moves
// to the producer's turn while the block still reads closed, so no waiter
// sees a half-finished step. It reports whether the block was closed.
func (h *ExchangeHeader) reopen() bool {
	if !h.Closed() {
		return false
	}
	if seq := h.Seq(); isOdd(seq) {
		atomic.CompareAndSwapUint32(&h.seq, seq, seq+1)
	}
	if !atomic.CompareAndSwapUint32(&h.closed, 1, 0) {
		return false
	}
	atomic.StoreInt64(&h.lastPublish, 0)
	futexWakeAll(&h.seq)
	return true
}

// initExchange writes a fresh exchange header into a zeroed block.
func initExchange(key int32) func(data []byte) {
	return func(data []byte) {
		h := (*ExchangeHeader)(unsafe.Pointer(&data[0]))
		atomic.StoreInt32(&h.key, key)
		atomic.StoreUint32(&h.obsSize, record.ObservationRecordSize)
		atomic.StoreUint32(&h.actSize, record.ActionRecordSize)
	}
}

// Exchange is one side's handle on an exchange block. A producer calls
// PutObservation then GetAction each step; a consumer calls GetObservation
// then PutAction. An Exchange is not safe for concurrent use.
type Exchange struct {
	block *Block
	h     *ExchangeHeader
	obs   *record.ObservationRecord
	act   *record.ActionRecord

	waitSlice time.Duration
	published uint32 // producer: seq after the last PutObservation
	received  uint32 // consumer: seq seen by the last GetObservation
}

// OpenExchange returns the exchange registered under key, allocating and
// initializing the block when neither side has yet. A block closed by an
// earlier run is reopened for a new session. A shut down pool yields
// ErrClosed.
func OpenExchange(p *Pool, key int32) (*Exchange, error) {
	if p.h.Closed() {
		return nil, fmt.Errorf("pool %d: %w", p.key, ErrClosed)
	}
	b, err := p.Lookup(key)
	if errors.Is(err, ErrBlockNotFound) {
		b, err = p.Allocate(key, ExchangeBlockSize, initExchange(key))
		if errors.Is(err, ErrBlockExists) {
			// the other side won the race
			b, err = p.Lookup(key)
		}
	}
	if err != nil {
		return nil, err
	}
	ex, err := AttachExchange(b)
	if err != nil {
		return nil, err
	}
	if !p.h.Closed() {
		ex.h.reopen()
	}
	return ex, nil
}

// Shutdown marks the pool closed and closes every exchange block in it, so
// waiters on either side return ErrClosed. It returns the number of
// exchanges closed.
func (p *Pool) Shutdown() int {
	p.h.SetClosed(true)
	n := 0
	for _, info := range p.Blocks() {
		b, err := p.Lookup(info.Key)
		if err != nil {
			continue
		}
		ex, err := AttachExchange(b)
		if err != nil {
			continue
		}
		ex.Close()
		n++
	}
	return n
}

// AttachExchange wraps an initialized exchange block after checking that
// its recorded sizes match the layouts compiled into this process.
func AttachExchange(b *Block) (*Exchange, error) {
	if b.Size < ExchangeBlockSize {
		return nil, fmt.Errorf("block %d is %d bytes, exchange needs %d: %w", b.Key, b.Size, ExchangeBlockSize, ErrLayoutMismatch)
	}
	h := (*ExchangeHeader)(b.ptr(0))
	if got := atomic.LoadUint32(&h.obsSize); got != record.ObservationRecordSize {
		return nil, fmt.Errorf("block %d observation size %d, want %d: %w", b.Key, got, record.ObservationRecordSize, ErrLayoutMismatch)
	}
	if got := atomic.LoadUint32(&h.actSize); got != record.ActionRecordSize {
		return nil, fmt.Errorf("block %d action size %d, want %d: %w", b.Key, got, record.ActionRecordSize, ErrLayoutMismatch)
	}

	seq := h.Seq()
	return &Exchange{
		block:     b,
		h:         h,
		obs:       (*record.ObservationRecord)(b.ptr(ObservationOffset)),
		act:       (*record.ActionRecord)(b.ptr(ActionOffset)),
		waitSlice: DefaultWaitSlice,
		published: seq | 1,
		received:  seq &^ 1,
	}, nil
}

// Key returns the block key
func (e *Exchange) Key() int32 {
	return e.block.Key
}

// Block returns the pool block the exchange lives in.
func (e *Exchange) Block() *Block {
	return e.block
}

// Header returns the exchange header
func (e *Exchange) Header() *ExchangeHeader {
	return e.h
}

// Seq returns the handshake counter
func (e *Exchange) Seq() uint32 {
	return e.h.Seq()
}

// StepNumber returns the number of completed observation/action exchanges.
func (e *Exchange) StepNumber() uint64 {
	return uint64(e.h.Seq() / 2)
}

// LastPublish returns the time of the last handshake step; callers compare
// it with the step duration to detect a stalled peer.
func (e *Exchange) LastPublish() time.Time {
	return e.h.LastPublish()
}

// Closed reports whether either side closed the exchange
func (e *Exchange) Closed() bool {
	return e.h.Closed()
}

// Close marks the exchange closed and wakes any waiter.
func (e *Exchange) Close() {
	atomic.StoreUint32(&e.h.closed, 1)
	futexWakeAll(&e.h.seq)
}

// SetWaitSlice bounds a single futex sleep.
func (e *Exchange) SetWaitSlice(d time.Duration) {
	if d > 0 {
		e.waitSlice = d
	}
}

// PeekObservation copies the observation currently in the block without
// taking part in the handshake.
func (e *Exchange) PeekObservation(obs *record.ObservationRecord) {
	*obs = *e.obs
}

// PeekAction copies the action currently in the block without taking part
// in the handshake.
func (e *Exchange) PeekAction(act *record.ActionRecord) {
	*act = *e.act
}

// PutObservation waits for the producer's turn, writes obs and hands the
// block to the consumer. It returns the step number of the observation.
func (e *Exchange) PutObservation(ctx context.Context, obs *record.ObservationRecord) (uint64, error) {
	seq, err := e.wait(ctx, isEven)
	if err != nil {
		return 0, err
	}
	atomic.StoreUint32(&e.h.producerPID, uint32(os.Getpid()))
	*e.obs = *obs
	e.published = seq + 1
	e.h.publish(seq + 1)
	return uint64(seq / 2), nil
}

// GetAction waits for the consumer's answer to the last PutObservation and
// copies it into act.
func (e *Exchange) GetAction(ctx context.Context, act *record.ActionRecord) error {
	want := e.published + 1
	if _, err := e.wait(ctx, func(seq uint32) bool { return seq == want }); err != nil {
		return err
	}
	*act = *e.act
	return nil
}

// Step publishes obs and waits for the matching action.
func (e *Exchange) Step(ctx context.Context, obs *record.ObservationRecord, act *record.ActionRecord) (uint64, error) {
	step, err := e.PutObservation(ctx, obs)
	if err != nil {
		return 0, err
	}
	return step, e.GetAction(ctx, act)
}

// GetObservation waits for a published observation and copies it into obs.
func (e *Exchange) GetObservation(ctx context.Context, obs *record.ObservationRecord) (uint64, error) {
	seq, err := e.wait(ctx, isOdd)
	if err != nil {
		return 0, err
	}
	atomic.StoreUint32(&e.h.consumerPID, uint32(os.Getpid()))
	*obs = *e.obs
	e.received = seq
	return uint64(seq / 2), nil
}

// PutAction writes act and hands the block back to the producer. It must
// follow the GetObservation of the same step.
func (e *Exchange) PutAction(act *record.ActionRecord) error {
	if e.h.Closed() {
		return ErrClosed
	}
	seq := e.h.Seq()
	if !isOdd(seq) || seq != e.received {
		return fmt.Errorf("put action at seq %d after observation %d: %w", seq, e.received, ErrOutOfTurn)
	}
	*e.act = *act
	e.h.publish(seq + 1)
	return nil
}

func isEven(seq uint32) bool { return seq&1 == 0 }
func isOdd(seq uint32) bool  { return seq&1 == 1 }

// wait blocks until ready(seq) holds, the exchange closes, or ctx ends.
func (e *Exchange) wait(ctx context.Context, ready func(uint32) bool) (uint32, error) {
	for {
		seq := e.h.Seq()
		if ready(seq) {
			return seq, nil
		}
		if e.h.Closed() {
			return seq, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return seq, err
		}

		timeout := e.waitSlice
		if deadline, ok := ctx.Deadline(); ok {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return seq, context.DeadlineExceeded
			}
			if remaining < timeout {
				timeout = remaining
			}
		}

		err := futexWaitTimeout(&e.h.seq, seq, timeout.Nanoseconds())
		if err != nil && !errors.Is(err, ErrFutexTimeout) {
			return seq, err
		}
	}
}
