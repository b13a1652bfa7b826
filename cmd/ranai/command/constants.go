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

package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qiliang336/ns3-platform/internal/constants"
)

type requirementView struct {
	Class   string  `json:"class"`
	PRR     float64 `json:"prr"`
	DelayNs int64   `json:"delayNs"`
}

type costView struct {
	Action int     `json:"action"`
	Mean   float64 `json:"mean"`
}

type constantsView struct {
	StepDurationNs int64             `json:"stepDurationNs"`
	PoolKey        int               `json:"poolKey"`
	BlockKey       int               `json:"blockKey"`
	PoolCapacity   int               `json:"poolCapacity"`
	Requirements   []requirementView `json:"requirements"`
	CostMeans      []costView        `json:"costMeans"`
}

// NewConstantsCommand returns the cobra command for "constants".
func NewConstantsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "constants",
		Short: "print the step duration, traffic requirements and action cost means",
		Args:  cobra.NoArgs,
		RunE:  constantsCommandFunc,
	}
}

func buildConstantsView() constantsView {
	view := constantsView{
		StepDurationNs: constants.StepDuration.Nanoseconds(),
		PoolKey:        constants.DefaultPoolKey,
		BlockKey:       constants.DefaultBlockKey,
		PoolCapacity:   constants.DefaultPoolCapacity,
	}
	for _, c := range []constants.TrafficClass{constants.Teleoperated, constants.MapSharing} {
		r, _ := constants.RequirementFor(c)
		view.Requirements = append(view.Requirements, requirementView{
			Class:   c.String(),
			PRR:     r.PRR,
			DelayNs: r.DelayNanoseconds(),
		})
	}
	for _, id := range constants.ActionIDs() {
		mean, _ := constants.CostMean(id)
		view.CostMeans = append(view.CostMeans, costView{Action: id, Mean: mean})
	}
	return view
}

func constantsCommandFunc(cmd *cobra.Command, args []string) error {
	view := buildConstantsView()
	if GlobalFlagsInstance.JSON {
		return printJSON(cmd, view)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "step duration: %d ns\n", view.StepDurationNs)
	fmt.Fprintf(out, "pool key %d, block key %d, capacity %d\n", view.PoolKey, view.BlockKey, view.PoolCapacity)
	for _, r := range view.Requirements {
		fmt.Fprintf(out, "%-12s prr %.2f delay %d ns\n", r.Class, r.PRR, r.DelayNs)
	}
	for _, c := range view.CostMeans {
		fmt.Fprintf(out, "action %-5d cost mean %f\n", c.Action, c.Mean)
	}
	return nil
}
