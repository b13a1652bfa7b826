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

package record

import (
	"fmt"
	"unsafe"
)

// Compile-time size guards. Either line fails to compile if the Go layout
// drifts from the packed layout.
var (
	_ [ObservationRecordSize - unsafe.Sizeof(ObservationRecord{})]struct{}
	_ [unsafe.Sizeof(ObservationRecord{}) - ObservationRecordSize]struct{}
	_ [ActionRecordSize - unsafe.Sizeof(ActionRecord{})]struct{}
	_ [unsafe.Sizeof(ActionRecord{}) - ActionRecordSize]struct{}
)

// Layout describes one record as the other side of the segment sees it:
// a single field that is a row-major array of fixed-width scalars.
type Layout struct {
	Name      string `json:"name"`
	Field     string `json:"field"`
	Kind      string `json:"kind"`  // C scalar type
	Width     int    `json:"width"` // bytes per element
	Rows      int    `json:"rows"`
	Cols      int    `json:"cols"`
	Size      int    `json:"size"`
	Alignment int    `json:"alignment"`
}

// ObservationLayout is the byte contract of ObservationRecord.
var ObservationLayout = Layout{
	Name:      "ObservationRecord",
	Field:     "imsiStatsMap",
	Kind:      "double",
	Width:     8,
	Rows:      Entities,
	Cols:      ObservationFields,
	Size:      ObservationRecordSize,
	Alignment: 1,
}

// ActionLayout is the byte contract of ActionRecord.
var ActionLayout = Layout{
	Name:      "ActionRecord",
	Field:     "actions",
	Kind:      "int16_t",
	Width:     2,
	Rows:      Entities,
	Cols:      ActionCodes,
	Size:      ActionRecordSize,
	Alignment: 1,
}

// Offset returns the byte offset of element [row][col].
func (l Layout) Offset(row, col int) int {
	return (row*l.Cols + col) * l.Width
}

// Valid reports whether the declared dimensions add up to the declared size.
func (l Layout) Valid() bool {
	return l.Rows*l.Cols*l.Width == l.Size
}

// CDecl renders the layout as a packed C declaration.
func (l Layout) CDecl() string {
	return fmt.Sprintf("struct __attribute__((packed)) %s { %s %s[%d][%d]; }; /* %d bytes */",
		l.Name, l.Kind, l.Field, l.Rows, l.Cols, l.Size)
}
