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
	"time"

	"github.com/spf13/cobra"

	"github.com/qiliang336/ns3-platform/internal/logger"
	"github.com/qiliang336/ns3-platform/internal/transport/shm"
)

// NewPoolCommand returns the cobra command for "pool".
func NewPoolCommand() *cobra.Command {
	pc := &cobra.Command{
		Use:   "pool <subcommand>",
		Short: "shared memory pool related commands",
	}
	pc.AddCommand(createPoolCommand())
	pc.AddCommand(inspectPoolCommand())
	pc.AddCommand(removePoolCommand())
	return pc
}

// createPoolCommand returns the cobra command for "pool create".
func createPoolCommand() *cobra.Command {
	cc := &cobra.Command{
		Use:   "create",
		Short: "create the pool and its exchange block",
		Args:  cobra.NoArgs,
		RunE:  createPoolCommandFunc,
	}
	return cc
}

// inspectPoolCommand returns the cobra command for "pool inspect".
func inspectPoolCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "print the pool header, block table and exchange state",
		Args:  cobra.NoArgs,
		RunE:  inspectPoolCommandFunc,
	}
}

// removePoolCommand returns the cobra command for "pool remove".
func removePoolCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove",
		Short: "destroy the pool",
		Args:  cobra.NoArgs,
		RunE:  removePoolCommandFunc,
	}
}

func createPoolCommandFunc(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	p, err := shm.CreatePool(cfg.Pool.Key, cfg.Pool.Capacity, cfg.ShmOptions())
	if err != nil {
		return err
	}
	defer p.Close()

	ex, err := shm.OpenExchange(p, cfg.Pool.BlockKey)
	if err != nil {
		return err
	}
	logger.Log.Info("Pool created - ", "pool-key: ", p.Key(), " , block-key: ", ex.Key(), " , capacity: ", p.Capacity())
	fmt.Fprintf(cmd.OutOrStdout(), "created pool %d (%s, %d bytes) with exchange block %d\n",
		p.Key(), p.Backend(), p.Capacity(), ex.Key())
	return nil
}

type exchangeView struct {
	Seq         uint32    `json:"seq"`
	Step        uint64    `json:"step"`
	ProducerPID uint32    `json:"producerPid"`
	ConsumerPID uint32    `json:"consumerPid"`
	Closed      bool      `json:"closed"`
	LastPublish time.Time `json:"lastPublish"`
}

type blockView struct {
	shm.BlockInfo
	Exchange *exchangeView `json:"exchange,omitempty"`
}

type poolView struct {
	Key        int32       `json:"key"`
	Backend    string      `json:"backend"`
	Version    uint32      `json:"version"`
	Capacity   uint64      `json:"capacity"`
	Mapped     int         `json:"mapped"`
	Used       uint64      `json:"used"`
	Free       uint64      `json:"free"`
	FreeSlots  uint64      `json:"freeExchangeSlots"`
	CreatorPID uint32      `json:"creatorPid"`
	Blocks     []blockView `json:"blocks"`
}

func buildPoolView(p *shm.Pool) poolView {
	h := p.Header()
	view := poolView{
		Key:        p.Key(),
		Backend:    string(p.Backend()),
		Version:    h.Version(),
		Capacity:   p.Capacity(),
		Mapped:     p.Mapped(),
		Used:       h.NextOffset(),
		Free:       p.Free(),
		FreeSlots:  p.Free() / (shm.RequiredCapacity(shm.ExchangeBlockSize) - shm.PoolDataOffset),
		CreatorPID: h.CreatorPID(),
	}

	for _, info := range p.Blocks() {
		bv := blockView{BlockInfo: info}
		if b, err := p.Lookup(info.Key); err == nil {
			if ex, err := shm.AttachExchange(b); err == nil {
				bv.Exchange = &exchangeView{
					Seq:         ex.Seq(),
					Step:        ex.StepNumber(),
					ProducerPID: ex.Header().ProducerPID(),
					ConsumerPID: ex.Header().ConsumerPID(),
					Closed:      ex.Closed(),
					LastPublish: ex.LastPublish(),
				}
			}
		}
		view.Blocks = append(view.Blocks, bv)
	}
	return view
}

func inspectPoolCommandFunc(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	p, err := shm.OpenPool(cfg.Pool.Key, cfg.ShmOptions())
	if err != nil {
		return err
	}
	defer p.Close()

	view := buildPoolView(p)
	if GlobalFlagsInstance.JSON {
		return printJSON(cmd, view)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "pool %d (%s) version %d, creator pid %d\n", view.Key, view.Backend, view.Version, view.CreatorPID)
	fmt.Fprintf(out, "capacity: %d bytes (mapped %d)\n", view.Capacity, view.Mapped)
	fmt.Fprintf(out, "used:     %d bytes\n", view.Used)
	fmt.Fprintf(out, "free:     %d bytes, room for %d more exchange blocks\n", view.Free, view.FreeSlots)
	for _, b := range view.Blocks {
		fmt.Fprintf(out, "block %d: offset %d size %d\n", b.Key, b.Offset, b.Size)
		if ex := b.Exchange; ex != nil {
			last := "never"
			if !ex.LastPublish.IsZero() {
				last = ex.LastPublish.Format(time.RFC3339Nano)
			}
			fmt.Fprintf(out, "  seq %d step %d producer %d consumer %d closed %t last publish %s\n",
				ex.Seq, ex.Step, ex.ProducerPID, ex.ConsumerPID, ex.Closed, last)
		}
	}
	return nil
}

func removePoolCommandFunc(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts := cfg.ShmOptions()
	if p, err := shm.OpenPool(cfg.Pool.Key, opts); err == nil {
		n := p.Shutdown()
		p.Close()
		logger.Log.Info("Pool shut down - ", "pool-key: ", cfg.Pool.Key, " , exchanges-closed: ", n)
	}
	if err := shm.RemovePool(cfg.Pool.Key, opts); err != nil {
		return fmt.Errorf("remove pool %d: %w", cfg.Pool.Key, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed pool %d\n", cfg.Pool.Key)
	return nil
}
