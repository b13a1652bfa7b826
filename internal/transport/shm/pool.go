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
	"runtime"
	"sync/atomic"
	"unsafe"
)

// Memory layout constants
const (
	// Magic bytes for pool identification
	PoolMagic = "RANAIPL\x00"

	// Current pool layout version
	PoolVersion = uint32(1)

	// Pool header size (aligned to 128 bytes)
	PoolHeaderSize = 128

	// Block table entry size
	BlockEntrySize = 32

	// Number of entries in the block table
	MaxBlocks = 16

	// Offset of the first block; the block table sits between the header
	// and the data area
	PoolDataOffset = PoolHeaderSize + MaxBlocks*BlockEntrySize

	// Every block starts on a 64-byte boundary
	BlockAlignment = 64
)

// block table entry states
const (
	blockFree uint32 = iota
	blockUsed
)

// PoolHeader is the header at offset 0 of every pool.
type PoolHeader struct {
	magic      [8]byte  // 0x00: "RANAIPL\0"
	version    uint32   // 0x08: layout version
	flags      uint32   // 0x0C: reserved flags
	capacity   uint64   // 0x10: usable pool size in bytes
	poolKey    int32    // 0x18: pool key
	blockCount uint32   // 0x1C: entries in use
	nextOff    uint64   // 0x20: bump allocator cursor
	creatorPID uint32   // 0x28: creating process ID
	closed     uint32   // 0x2C: closed flag
	allocLock  uint32   // 0x30: allocation spinlock, holder pid or 0
	pad        uint32   // 0x34: padding
	reserved   [72]byte // 0x38-0x7F: reserved/padding to 128B
}

// Version returns the layout version
func (h *PoolHeader) Version() uint32 {
	return atomic.LoadUint32(&h.version)
}

// Capacity returns the usable pool size
func (h *PoolHeader) Capacity() uint64 {
	return atomic.LoadUint64(&h.capacity)
}

// Key returns the pool key
func (h *PoolHeader) Key() int32 {
	return atomic.LoadInt32(&h.poolKey)
}

// BlockCount returns the number of allocated blocks
func (h *PoolHeader) BlockCount() uint32 {
	return atomic.LoadUint32(&h.blockCount)
}

// NextOffset returns the offset the next block will be placed at
func (h *PoolHeader) NextOffset() uint64 {
	return atomic.LoadUint64(&h.nextOff)
}

// CreatorPID returns the process ID that created the pool
func (h *PoolHeader) CreatorPID() uint32 {
	return atomic.LoadUint32(&h.creatorPID)
}

// Closed returns the closed flag
func (h *PoolHeader) Closed() bool {
	return atomic.LoadUint32(&h.closed) != 0
}

// SetClosed sets the closed flag
func (h *PoolHeader) SetClosed(closed bool) {
	var val uint32
	if closed {
		val = 1
	}
	atomic.StoreUint32(&h.closed, val)
}

func (h *PoolHeader) init(key int32, capacity uint64, pid uint32) {
	copy(h.magic[:], PoolMagic)
	atomic.StoreUint32(&h.version, PoolVersion)
	atomic.StoreUint64(&h.capacity, capacity)
	atomic.StoreInt32(&h.poolKey, key)
	atomic.StoreUint32(&h.blockCount, 0)
	atomic.StoreUint64(&h.nextOff, PoolDataOffset)
	atomic.StoreUint32(&h.creatorPID, pid)
}

// lockProbeSpins is how many failed attempts pass between checks that the
// lock holder is still alive.
const lockProbeSpins = 1024

// lock spins on the allocation word, which holds the pid of the holder.
// A holder that died inside Allocate is taken over; the block entry is
// published last, so a dead holder leaves no visible partial block.
func (h *PoolHeader) lock() {
	self := uint32(os.Getpid())
	for spins := 1; ; spins++ {
		if atomic.CompareAndSwapUint32(&h.allocLock, 0, self) {
			return
		}
		if spins%lockProbeSpins == 0 {
			holder := atomic.LoadUint32(&h.allocLock)
			if holder != 0 && !processAlive(holder) && atomic.CompareAndSwapUint32(&h.allocLock, holder, self) {
				return
			}
		}
		runtime.Gosched()
	}
}

func (h *PoolHeader) unlock() {
	atomic.StoreUint32(&h.allocLock, 0)
}

// BlockEntry is one slot of the block table.
type BlockEntry struct {
	key      int32   // 0x00: block key
	state    uint32  // 0x04: free/used
	offset   uint64  // 0x08: offset of the block from the pool start
	size     uint64  // 0x10: requested block size
	reserved [8]byte // 0x18-0x1F: reserved
}

// BlockInfo is a snapshot of a block table entry.
type BlockInfo struct {
	Key    int32  `json:"key"`
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
}

// alignTo64 aligns a size to 64-byte boundary
func alignTo64(size uint64) uint64 {
	return (size + 63) &^ 63
}

// RequiredCapacity returns the pool capacity needed to hold blocks of the
// given sizes.
func RequiredCapacity(blockSizes ...uint64) uint64 {
	total := uint64(PoolDataOffset)
	for _, s := range blockSizes {
		total += alignTo64(s)
	}
	return total
}

// ValidateCapacity rejects capacities that cannot hold one exchange block.
func ValidateCapacity(capacity uint64) error {
	if capacity < MinPoolCapacity {
		return fmt.Errorf("capacity %d is below minimum %d: %w", capacity, MinPoolCapacity, ErrCapacityTooSmall)
	}
	return nil
}

// ValidatePoolHeader validates a pool header against the size of the region
// it was read from.
func ValidatePoolHeader(h *PoolHeader, mappedSize uint64) error {
	if string(h.magic[:]) != PoolMagic {
		return fmt.Errorf("bad magic %q: %w", h.magic[:], ErrInvalidPool)
	}
	if h.Version() != PoolVersion {
		return fmt.Errorf("unsupported version %d, expected %d: %w", h.Version(), PoolVersion, ErrInvalidPool)
	}
	capacity := h.Capacity()
	if capacity < PoolDataOffset {
		return fmt.Errorf("capacity %d smaller than pool framing %d: %w", capacity, PoolDataOffset, ErrInvalidPool)
	}
	if capacity > mappedSize {
		return fmt.Errorf("capacity %d exceeds mapped size %d: %w", capacity, mappedSize, ErrInvalidPool)
	}
	if n := h.BlockCount(); n > MaxBlocks {
		return fmt.Errorf("block count %d exceeds table size %d: %w", n, MaxBlocks, ErrInvalidPool)
	}
	if next := h.NextOffset(); next < PoolDataOffset || next > capacity {
		return fmt.Errorf("allocation cursor %d outside [%d, %d]: %w", next, PoolDataOffset, capacity, ErrInvalidPool)
	}
	return nil
}

// Pool is a mapped shared memory pool holding keyed blocks.
type Pool struct {
	key     int32
	backend Backend
	m       mapping
	mem     []byte
	h       *PoolHeader
}

func newPool(key int32, backend Backend, m mapping) *Pool {
	mem := m.bytes()
	return &Pool{
		key:     key,
		backend: backend,
		m:       m,
		mem:     mem,
		h:       (*PoolHeader)(unsafe.Pointer(&mem[0])),
	}
}

// Key returns the pool key
func (p *Pool) Key() int32 {
	return p.key
}

// Backend returns the backend the pool is mapped with
func (p *Pool) Backend() Backend {
	return p.backend
}

// Header returns the pool header
func (p *Pool) Header() *PoolHeader {
	return p.h
}

// Capacity returns the usable pool size
func (p *Pool) Capacity() uint64 {
	return p.h.Capacity()
}

// Free returns the bytes still available for new blocks
func (p *Pool) Free() uint64 {
	return p.h.Capacity() - p.h.NextOffset()
}

// Mapped returns the size of the mapped region, which may be larger than
// the capacity when the backend rounds up.
func (p *Pool) Mapped() int {
	return len(p.mem)
}

func (p *Pool) entry(i int) *BlockEntry {
	return (*BlockEntry)(unsafe.Pointer(&p.mem[PoolHeaderSize+i*BlockEntrySize]))
}

// find returns the entry for key, or nil. Callers that need a stable
// answer hold the allocation lock.
func (p *Pool) find(key int32) *BlockEntry {
	for i := 0; i < MaxBlocks; i++ {
		e := p.entry(i)
		if atomic.LoadUint32(&e.state) == blockUsed && atomic.LoadInt32(&e.key) == key {
			return e
		}
	}
	return nil
}

// block maps an entry to its data. Entries come from shared memory, so the
// range is checked against the capacity before slicing.
func (p *Pool) block(e *BlockEntry) (*Block, error) {
	key := atomic.LoadInt32(&e.key)
	off := atomic.LoadUint64(&e.offset)
	size := atomic.LoadUint64(&e.size)
	capacity := p.h.Capacity()
	if off < PoolDataOffset || size > capacity || off > capacity-size {
		return nil, fmt.Errorf("block %d range [%d, +%d) outside capacity %d: %w", key, off, size, capacity, ErrInvalidPool)
	}
	return &Block{
		Key:    key,
		Offset: off,
		Size:   size,
		Data:   p.mem[off : off+size : off+size],
		pool:   p,
	}, nil
}

// Allocate reserves a block of size bytes under key. init, when non-nil,
// runs on the zeroed block before the entry becomes visible to Lookup.
func (p *Pool) Allocate(key int32, size uint64, init func(data []byte)) (*Block, error) {
	if size == 0 {
		return nil, fmt.Errorf("block %d: zero size", key)
	}

	p.h.lock()
	defer p.h.unlock()

	if p.find(key) != nil {
		return nil, fmt.Errorf("block %d: %w", key, ErrBlockExists)
	}

	var slot *BlockEntry
	for i := 0; i < MaxBlocks; i++ {
		if e := p.entry(i); atomic.LoadUint32(&e.state) == blockFree {
			slot = e
			break
		}
	}
	if slot == nil {
		return nil, fmt.Errorf("block %d: %w", key, ErrTooManyBlocks)
	}

	off := p.h.NextOffset()
	aligned := alignTo64(size)
	if off+aligned > p.h.Capacity() {
		return nil, fmt.Errorf("block %d needs %d bytes, %d free: %w", key, aligned, p.h.Capacity()-off, ErrPoolFull)
	}

	atomic.StoreInt32(&slot.key, key)
	atomic.StoreUint64(&slot.offset, off)
	atomic.StoreUint64(&slot.size, size)

	data := p.mem[off : off+size : off+size]
	if init != nil {
		init(data)
	}

	atomic.StoreUint64(&p.h.nextOff, off+aligned)
	atomic.AddUint32(&p.h.blockCount, 1)
	// publish last
	atomic.StoreUint32(&slot.state, blockUsed)

	return p.block(slot)
}

// Lookup returns the block registered under key.
func (p *Pool) Lookup(key int32) (*Block, error) {
	e := p.find(key)
	if e == nil {
		return nil, fmt.Errorf("block %d: %w", key, ErrBlockNotFound)
	}
	return p.block(e)
}

// Blocks returns a snapshot of the block table.
func (p *Pool) Blocks() []BlockInfo {
	var out []BlockInfo
	for i := 0; i < MaxBlocks; i++ {
		e := p.entry(i)
		if atomic.LoadUint32(&e.state) != blockUsed {
			continue
		}
		out = append(out, BlockInfo{
			Key:    atomic.LoadInt32(&e.key),
			Offset: atomic.LoadUint64(&e.offset),
			Size:   atomic.LoadUint64(&e.size),
		})
	}
	return out
}

// Close unmaps the pool. The segment itself stays until RemovePool.
func (p *Pool) Close() error {
	if p.m == nil {
		return nil
	}
	err := p.m.close()
	p.m = nil
	p.mem = nil
	p.h = nil
	return err
}

// Block is a keyed region inside a pool. Data aliases the shared memory.
type Block struct {
	Key    int32
	Offset uint64
	Size   uint64
	Data   []byte
	pool   *Pool
}

// Pool returns the pool that owns the block.
func (b *Block) Pool() *Pool {
	return b.pool
}

func (b *Block) ptr(off uintptr) unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(&b.Data[0]), off)
}
