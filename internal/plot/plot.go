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

// Package plot exports step series as line plots. Every call writes a PNG
// and, depending on the format, a vector or TeX copy next to it.
package plot

import (
	"errors"
	"fmt"
	"image/color"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

var (
	// ErrUnknownFormat is returned for a format selector other than png,
	// eps, pdf, svg or tex.
	ErrUnknownFormat = errors.New("unknown plot format")
	// ErrEmptySeries is returned when there is nothing to plot.
	ErrEmptySeries = errors.New("empty series")
	// ErrLabelMismatch is returned when series and labels differ in count.
	ErrLabelMismatch = errors.New("series and labels differ in count")
)

// Format selects the copy written in addition to the PNG.
type Format string

const (
	FormatPNG Format = "png"
	FormatEPS Format = "eps"
	FormatPDF Format = "pdf"
	FormatSVG Format = "svg"
	FormatTeX Format = "tex"
)

// ParseFormat maps a selector to a Format. The empty string means PNG only.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatPNG, nil
	case FormatPNG, FormatEPS, FormatPDF, FormatSVG, FormatTeX:
		return f, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnknownFormat)
	}
}

// Limits bounds an axis.
type Limits struct {
	Min, Max float64
}

// Options controls plot styling and output.
type Options struct {
	// Palette colors the series in order; nil uses plotutil.DefaultColors.
	Palette []color.Color
	// YLim fixes the y axis; nil fits it to the data.
	YLim   *Limits
	Format Format
	Width  vg.Length
	Height vg.Length
	Grid   bool
	Title  string
}

// DefaultOptions returns a 64/9 by 4 inch gridded figure with an EPS copy.
func DefaultOptions() Options {
	return Options{
		Format: FormatEPS,
		Width:  64 * vg.Inch / 9,
		Height: 4 * vg.Inch,
		Grid:   true,
	}
}

// TimeAxis returns the x coordinates for n samples spread over maxTime:
// sample i lands on floor(i*100/n)*maxTime/100 + 1.
func TimeAxis(n int, maxTime float64) []float64 {
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i*100/n)*maxTime/100 + 1
	}
	return xs
}

// Linear plots a single series against the time axis and writes
// <output>.png plus the copy selected by opts.Format. Spaces in output are
// replaced by underscores. It returns the written file names.
func Linear(values []float64, xLabel, yLabel string, maxTime float64, output string, opts Options) ([]string, error) {
	return MultiLinear([][]float64{values}, []string{"Mean"}, xLabel, yLabel, maxTime, output, opts)
}

// MultiLinear plots several labelled series on shared axes with the legend
// in the upper left, and writes the files the way Linear does.
func MultiLinear(series [][]float64, labels []string, xLabel, yLabel string, maxTime float64, output string, opts Options) ([]string, error) {
	format, err := ParseFormat(string(opts.Format))
	if err != nil {
		return nil, err
	}
	f, err := newFigure(series, labels, xLabel, yLabel, maxTime, opts)
	if err != nil {
		return nil, err
	}
	return f.save(output, format, opts)
}

// figure is a built plot ready to be saved.
type figure struct {
	p      *plot.Plot
	series int
}

func newFigure(series [][]float64, labels []string, xLabel, yLabel string, maxTime float64, opts Options) (*figure, error) {
	if len(series) == 0 {
		return nil, ErrEmptySeries
	}
	if len(series) != len(labels) {
		return nil, fmt.Errorf("%d series, %d labels: %w", len(series), len(labels), ErrLabelMismatch)
	}

	palette := opts.Palette
	if len(palette) == 0 {
		palette = plotutil.DefaultColors
	}

	p := plot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.Legend.Top = true
	p.Legend.Left = true

	if opts.Grid {
		grid := plotter.NewGrid()
		darkgrey := color.Gray{Y: 0xA9}
		grid.Vertical.Color = darkgrey
		grid.Horizontal.Color = darkgrey
		grid.Vertical.Dashes = nil
		grid.Horizontal.Dashes = nil
		p.Add(grid)
	}

	var (
		xMin, xMax = 0.0, maxTime
		yMin, yMax float64
	)
	for i, values := range series {
		if len(values) == 0 {
			return nil, fmt.Errorf("series %q: %w", labels[i], ErrEmptySeries)
		}
		xs := TimeAxis(len(values), maxTime)
		pts := make(plotter.XYs, len(values))
		for j := range values {
			pts[j].X = xs[j]
			pts[j].Y = values[j]
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("series %q: %w", labels[i], err)
		}
		line.Color = palette[i%len(palette)]
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(labels[i], line)

		if i == 0 {
			xMin, yMin, yMax = xs[0], floats.Min(values), floats.Max(values)
		} else {
			xMin = min(xMin, xs[0])
			yMin = min(yMin, floats.Min(values))
			yMax = max(yMax, floats.Max(values))
		}
		xMax = max(xMax, floats.Max(xs))
	}

	p.X.Min, p.X.Max = xMin, xMax
	if opts.YLim != nil {
		p.Y.Min, p.Y.Max = opts.YLim.Min, opts.YLim.Max
	} else {
		pad := (yMax - yMin) * 0.05
		if pad == 0 {
			pad = 1
		}
		p.Y.Min, p.Y.Max = yMin-pad, yMax+pad
	}

	return &figure{p: p, series: len(series)}, nil
}

func (f *figure) save(output string, format Format, opts Options) ([]string, error) {
	width, height := opts.Width, opts.Height
	if width <= 0 || height <= 0 {
		def := DefaultOptions()
		width, height = def.Width, def.Height
	}

	base := strings.ReplaceAll(output, " ", "_")
	files := []string{base + ".png"}
	if format != FormatPNG {
		files = append(files, base+"."+string(format))
	}

	for _, name := range files {
		if err := f.p.Save(width, height, name); err != nil {
			return nil, fmt.Errorf("save %s: %w", name, err)
		}
	}
	return files, nil
}
