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

// Package constants holds the fixed RAN-AI tables shared by the simulator
// and the controller.
package constants

import (
	"slices"
	"time"
)

// Shared-memory defaults. Both sides of the segment must use the same keys.
const (
	DefaultPoolKey      = 3234  // memory pool key, > 1000
	DefaultBlockKey     = 3334  // memory block key, also set in the ns-3 scenario
	DefaultPoolCapacity = 40960 // memory pool size in bytes
)

// StepDuration is the simulated time between two observation/action exchanges.
const StepDuration = 100 * time.Millisecond

// TrafficClass selects a requirement pair.
type TrafficClass int

const (
	Teleoperated TrafficClass = iota
	MapSharing
)

func (c TrafficClass) String() string {
	switch c {
	case Teleoperated:
		return "teleoperated"
	case MapSharing:
		return "mapsharing"
	default:
		return "unknown"
	}
}

// Requirement is a (packet reception ratio, delay bound) pair.
type Requirement struct {
	PRR   float64       `json:"prr"`
	Delay time.Duration `json:"delay"`
}

// DelayNanoseconds returns the delay bound in nanoseconds.
func (r Requirement) DelayNanoseconds() int64 {
	return r.Delay.Nanoseconds()
}

var requirements = map[TrafficClass]Requirement{
	Teleoperated: {PRR: .99, Delay: 50000000 * time.Nanosecond},
	MapSharing:   {PRR: .99, Delay: 100000000 * time.Nanosecond},
}

// RequirementFor returns the requirement of a traffic class.
func RequirementFor(c TrafficClass) (Requirement, bool) {
	r, ok := requirements[c]
	return r, ok
}

// cost function mean per action id
var costMeans = map[int]float64{
	1150: 0.002492,
	1450: 0.000044,
	1451: 5.476881,
	1452: 35.634660,
	0:    0,
	1:    5.476811,
	2:    35.634485,
}

// CostMean returns the mean cost of an action id.
func CostMean(action int) (float64, bool) {
	v, ok := costMeans[action]
	return v, ok
}

// ActionIDs returns every action id with a cost mean, in ascending order.
func ActionIDs() []int {
	ids := make([]int, 0, len(costMeans))
	for id := range costMeans {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
