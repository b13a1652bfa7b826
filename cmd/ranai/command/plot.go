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
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/qiliang336/ns3-platform/internal/constants"
	"github.com/qiliang336/ns3-platform/internal/plot"
	"github.com/qiliang336/ns3-platform/internal/trace"
)

type plotFlags struct {
	tracePath string
	entities  []int
	field     int
	action    int
	maxTime   float64
	output    string
	format    string
	xLabel    string
	yLabel    string
	title     string
	yLim      []float64
}

// NewPlotCommand returns the cobra command for "plot".
func NewPlotCommand() *cobra.Command {
	f := &plotFlags{}
	pc := &cobra.Command{
		Use:   "plot",
		Short: "plot a recorded statistic or action per entity over time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return plotCommandFunc(cmd, f)
		},
	}
	pc.Flags().StringVar(&f.tracePath, "trace", "", "trace database written by serve --trace")
	pc.Flags().IntSliceVar(&f.entities, "entity", []int{0}, "entity slots to plot, one series each")
	pc.Flags().IntVar(&f.field, "field", 0, "observation statistic column")
	pc.Flags().IntVar(&f.action, "action", -1, "plot this action code instead of an observation statistic")
	pc.Flags().Float64Var(&f.maxTime, "max-time", 0, "end of the time axis, default steps times the step duration in ms")
	pc.Flags().StringVarP(&f.output, "output", "o", "plot", "output file name without extension")
	pc.Flags().StringVar(&f.format, "format", string(plot.DefaultOptions().Format), "additional format (png|eps|pdf|svg|tex)")
	pc.Flags().StringVar(&f.xLabel, "x-label", "Time [ms]", "x axis label")
	pc.Flags().StringVar(&f.yLabel, "y-label", "Value", "y axis label")
	pc.Flags().StringVar(&f.title, "title", "", "plot title")
	pc.Flags().Float64SliceVar(&f.yLim, "y-lim", nil, "y axis limits, usage: --y-lim=0,1")
	pc.MarkFlagRequired("trace")
	return pc
}

func plotCommandFunc(cmd *cobra.Command, f *plotFlags) error {
	format, err := plot.ParseFormat(f.format)
	if err != nil {
		return err
	}
	if len(f.entities) == 0 {
		return errors.New("at least one --entity is required")
	}
	opts := plot.DefaultOptions()
	opts.Format = format
	opts.Title = f.title
	if len(f.yLim) > 0 {
		if len(f.yLim) != 2 {
			return fmt.Errorf("--y-lim needs two values, got %d", len(f.yLim))
		}
		opts.YLim = &plot.Limits{Min: f.yLim[0], Max: f.yLim[1]}
	}

	store, err := trace.Open(f.tracePath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	series := make([][]float64, 0, len(f.entities))
	labels := make([]string, 0, len(f.entities))
	for _, entity := range f.entities {
		var values []float64
		if f.action >= 0 {
			values, err = store.ActionSeries(ctx, entity, f.action)
		} else {
			values, err = store.Series(ctx, entity, f.field)
		}
		if err != nil {
			return err
		}
		if len(values) == 0 {
			return fmt.Errorf("trace %s: %w", f.tracePath, plot.ErrEmptySeries)
		}
		series = append(series, values)
		labels = append(labels, "entity "+strconv.Itoa(entity))
	}

	maxTime := f.maxTime
	if maxTime <= 0 {
		maxTime = float64(len(series[0])) * float64(constants.StepDuration.Milliseconds())
	}

	var files []string
	if len(series) == 1 {
		files, err = plot.Linear(series[0], f.xLabel, f.yLabel, maxTime, f.output, opts)
	} else {
		files, err = plot.MultiLinear(series, labels, f.xLabel, f.yLabel, maxTime, f.output, opts)
	}
	if err != nil {
		return err
	}
	for _, name := range files {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}
