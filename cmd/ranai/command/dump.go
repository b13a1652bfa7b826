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

	"github.com/qiliang336/ns3-platform/internal/record"
	"github.com/qiliang336/ns3-platform/internal/trace"
	"github.com/qiliang336/ns3-platform/internal/transport/shm"
)

type dumpFlags struct {
	tracePath string
	step      uint64
	entity    int
}

type dumpView struct {
	Source      string                    `json:"source"`
	Step        uint64                    `json:"step"`
	Seq         *uint32                   `json:"seq,omitempty"`
	Observation *record.ObservationRecord `json:"observation,omitempty"`
	Action      *record.ActionRecord      `json:"action,omitempty"`
	Entity      *entityView               `json:"entity,omitempty"`
}

type entityView struct {
	Index   int       `json:"index"`
	Stats   []float64 `json:"stats"`
	Actions [2]int16  `json:"actions"`
}

// NewDumpCommand returns the cobra command for "dump".
func NewDumpCommand() *cobra.Command {
	f := &dumpFlags{}
	dc := &cobra.Command{
		Use:   "dump",
		Short: "print the records of the exchange block, or of a traced step, as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dumpCommandFunc(cmd, f)
		},
	}
	dc.Flags().StringVar(&f.tracePath, "trace", "", "read the step from this trace database instead of shared memory")
	dc.Flags().Uint64Var(&f.step, "step", 0, "traced step to print, with --trace")
	dc.Flags().IntVar(&f.entity, "entity", -1, "print only this entity slot")
	return dc
}

func dumpCommandFunc(cmd *cobra.Command, f *dumpFlags) error {
	if f.entity >= record.Entities {
		return fmt.Errorf("entity %d outside [0, %d)", f.entity, record.Entities)
	}

	var (
		view dumpView
		obs  record.ObservationRecord
		act  record.ActionRecord
	)
	if f.tracePath != "" {
		store, err := trace.Open(f.tracePath)
		if err != nil {
			return err
		}
		defer store.Close()
		step, err := store.Load(cmd.Context(), f.step)
		if err != nil {
			return err
		}
		view.Source = f.tracePath
		view.Step = step.Number
		obs, act = step.Observation, step.Action
	} else {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		p, err := shm.OpenPool(cfg.Pool.Key, cfg.ShmOptions())
		if err != nil {
			return err
		}
		defer p.Close()
		b, err := p.Lookup(cfg.Pool.BlockKey)
		if err != nil {
			return err
		}
		ex, err := shm.AttachExchange(b)
		if err != nil {
			return err
		}
		seq := ex.Seq()
		ex.PeekObservation(&obs)
		ex.PeekAction(&act)
		view.Source = fmt.Sprintf("pool %d block %d", p.Key(), b.Key)
		view.Step = uint64(seq / 2)
		view.Seq = &seq
	}

	if f.entity >= 0 {
		view.Entity = &entityView{
			Index:   f.entity,
			Stats:   obs.Entity(f.entity),
			Actions: act.Actions[f.entity],
		}
	} else {
		view.Observation = &obs
		view.Action = &act
	}
	return printJSON(cmd, view)
}
