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

// Package record defines the two fixed-size records exchanged between the
// network simulator and the controller through shared memory.
//
// Both records are plain arrays of fixed-width scalars, so the Go layout has
// no implicit padding and matches a packed C struct of the same shape
// byte for byte. The byte layout, not the Go declaration, is the contract:
//
//	ObservationRecord  [50][28]float64  11200 bytes
//	ActionRecord       [50][2]int16       200 bytes
//
// Values are stored in the host's native byte order, the same order the
// simulator's C++ side and ctypes use when writing into the segment.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Record dimensions
const (
	// Entities is the number of per-subscriber slots in each record.
	Entities = 50

	// ObservationFields is the number of statistics per entity.
	ObservationFields = 28

	// ActionCodes is the number of action codes per entity.
	ActionCodes = 2

	// ObservationRecordSize is the packed size of an ObservationRecord.
	ObservationRecordSize = Entities * ObservationFields * 8

	// ActionRecordSize is the packed size of an ActionRecord.
	ActionRecordSize = Entities * ActionCodes * 2
)

// ErrRecordSize is returned when a buffer does not match a record size.
var ErrRecordSize = errors.New("record size mismatch")

// ObservationRecord is written by the simulator each step and read by the
// controller. IMSIStats holds per-subscriber measurements.
type ObservationRecord struct {
	IMSIStats [Entities][ObservationFields]float64 `json:"imsiStats"`
}

// ActionRecord is written by the controller and read back by the simulator.
type ActionRecord struct {
	Actions [Entities][ActionCodes]int16 `json:"actions"`
}

// Reset zeroes every statistic.
func (o *ObservationRecord) Reset() {
	*o = ObservationRecord{}
}

// Entity returns the statistics of entity i. The slice aliases the record.
func (o *ObservationRecord) Entity(i int) []float64 {
	return o.IMSIStats[i][:]
}

// MarshalBinary encodes the record in native byte order.
func (o *ObservationRecord) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ObservationRecordSize)
	o.put(buf)
	return buf, nil
}

// UnmarshalBinary decodes a native byte order buffer of exactly
// ObservationRecordSize bytes.
func (o *ObservationRecord) UnmarshalBinary(data []byte) error {
	if len(data) != ObservationRecordSize {
		return fmt.Errorf("observation record: got %d bytes, want %d: %w", len(data), ObservationRecordSize, ErrRecordSize)
	}
	off := 0
	for i := range o.IMSIStats {
		for j := range o.IMSIStats[i] {
			o.IMSIStats[i][j] = math.Float64frombits(binary.NativeEndian.Uint64(data[off:]))
			off += 8
		}
	}
	return nil
}

func (o *ObservationRecord) put(buf []byte) {
	off := 0
	for i := range o.IMSIStats {
		for j := range o.IMSIStats[i] {
			binary.NativeEndian.PutUint64(buf[off:], math.Float64bits(o.IMSIStats[i][j]))
			off += 8
		}
	}
}

// Reset zeroes every action code.
func (a *ActionRecord) Reset() {
	*a = ActionRecord{}
}

// Set assigns the action pair of entity i.
func (a *ActionRecord) Set(i int, first, second int16) {
	a.Actions[i] = [ActionCodes]int16{first, second}
}

// Fill assigns the same action pair to every entity.
func (a *ActionRecord) Fill(first, second int16) {
	for i := range a.Actions {
		a.Set(i, first, second)
	}
}

// MarshalBinary encodes the record in native byte order.
func (a *ActionRecord) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ActionRecordSize)
	off := 0
	for i := range a.Actions {
		for j := range a.Actions[i] {
			binary.NativeEndian.PutUint16(buf[off:], uint16(a.Actions[i][j]))
			off += 2
		}
	}
	return buf, nil
}

// UnmarshalBinary decodes a native byte order buffer of exactly
// ActionRecordSize bytes.
func (a *ActionRecord) UnmarshalBinary(data []byte) error {
	if len(data) != ActionRecordSize {
		return fmt.Errorf("action record: got %d bytes, want %d: %w", len(data), ActionRecordSize, ErrRecordSize)
	}
	off := 0
	for i := range a.Actions {
		for j := range a.Actions[i] {
			a.Actions[i][j] = int16(binary.NativeEndian.Uint16(data[off:]))
			off += 2
		}
	}
	return nil
}
