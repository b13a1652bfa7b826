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
	"github.com/qiliang336/ns3-platform/internal/transport/shm"
)

type layoutView struct {
	Records           []record.Layout `json:"records"`
	ExchangeHeader    int             `json:"exchangeHeaderSize"`
	ObservationOffset int             `json:"observationOffset"`
	ActionOffset      int             `json:"actionOffset"`
	ExchangeBlockSize int             `json:"exchangeBlockSize"`
	PoolDataOffset    int             `json:"poolDataOffset"`
	MinPoolCapacity   int             `json:"minPoolCapacity"`
}

// NewLayoutCommand returns the cobra command for "layout".
func NewLayoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "layout",
		Short: "print the shared memory record and block layout",
		Args:  cobra.NoArgs,
		RunE:  layoutCommandFunc,
	}
}

func layoutCommandFunc(cmd *cobra.Command, args []string) error {
	view := layoutView{
		Records:           []record.Layout{record.ObservationLayout, record.ActionLayout},
		ExchangeHeader:    shm.ExchangeHeaderSize,
		ObservationOffset: shm.ObservationOffset,
		ActionOffset:      shm.ActionOffset,
		ExchangeBlockSize: shm.ExchangeBlockSize,
		PoolDataOffset:    shm.PoolDataOffset,
		MinPoolCapacity:   shm.MinPoolCapacity,
	}
	if GlobalFlagsInstance.JSON {
		return printJSON(cmd, view)
	}

	out := cmd.OutOrStdout()
	for _, l := range view.Records {
		fmt.Fprintln(out, l.CDecl())
	}
	fmt.Fprintf(out, "exchange block: header %d, observation @%#x, action @%#x, %d bytes\n",
		view.ExchangeHeader, view.ObservationOffset, view.ActionOffset, view.ExchangeBlockSize)
	fmt.Fprintf(out, "pool: data @%#x, minimum capacity %d bytes\n", view.PoolDataOffset, view.MinPoolCapacity)
	return nil
}
