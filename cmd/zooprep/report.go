package main

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Noofbiz/modelzoo/tensor"
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Summary renders one table row per non-empty partition matrix.
func Summary(p *Prepared) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	rightStyle := lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerStyle
			case col == 0:
				return cellStyle
			default:
				return rightStyle
			}
		}).
		Headers("Matrix", "Rows", "Samples", "Size", "Min", "Max", "Mean")
	for _, name := range partitionNames {
		m, ok := p.Matrices[name]
		if !ok || m.Rows() == 0 || m.Cols() == 0 {
			continue
		}
		values := toFloat64(m.Data())
		table.Row(name,
			strconv.Itoa(m.Rows()),
			humanize.Comma(int64(m.Cols())),
			humanize.Bytes(m.SizeBytes()),
			fmt.Sprintf("%.4g", floats.Min(values)),
			fmt.Sprintf("%.4g", floats.Max(values)),
			fmt.Sprintf("%.4g", stat.Mean(values, nil)))
	}
	out := table.Render()
	if !p.Geometry.IsZero() {
		out += fmt.Sprintf("\nimages: %dx%d, %d channels\n", p.Geometry.Width, p.Geometry.Height, p.Geometry.Depth)
	}
	return out
}

func toFloat64(xs []float32) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}

// ClassCounts counts samples per class: boxes for annotated data, label
// values for data with a single integer label row. Names come from
// p.Classes when set.
func ClassCounts(p *Prepared) (names []string, counts []int) {
	numClasses := len(p.Classes)
	annotated := false
	for _, part := range []string{"train", "valid", "test"} {
		if len(p.Annotations[part]) > 0 {
			annotated = true
		}
	}
	if annotated {
		for _, part := range []string{"train", "valid", "test"} {
			c := p.Annotations[part].ClassCounts(numClasses)
			counts = addCounts(counts, c)
		}
		return classNames(p.Classes, len(counts)), counts
	}
	limit := maxLabelClasses
	if numClasses > 0 {
		limit = numClasses
	}
	for _, name := range []string{"train labels", "valid labels", "test labels"} {
		counts = addCounts(counts, labelCounts(p.Matrices[name], limit))
	}
	return classNames(p.Classes, len(counts)), counts
}

// maxLabelClasses bounds the classes counted when no class names are known.
const maxLabelClasses = 1024

// labelCounts counts the values of a one-row matrix of integer labels in
// [0, limit). Other matrices, such as regression targets, give nil.
func labelCounts(m *tensor.Matrix, limit int) []int {
	if m == nil || m.Rows() != 1 {
		return nil
	}
	var counts []int
	for _, v := range m.Data() {
		if v < 0 || v >= float32(limit) || float64(v) != math.Trunc(float64(v)) {
			return nil
		}
		for int(v) >= len(counts) {
			counts = append(counts, 0)
		}
		counts[int(v)]++
	}
	return counts
}

func addCounts(total, c []int) []int {
	for len(total) < len(c) {
		total = append(total, 0)
	}
	for i, n := range c {
		total[i] += n
	}
	return total
}

func classNames(classes []string, n int) []string {
	names := make([]string, n)
	for i := range names {
		if i < len(classes) {
			names[i] = classes[i]
		} else {
			names[i] = strconv.Itoa(i)
		}
	}
	return names
}

// PlotClassHistogram writes a bar chart of counts per class to outPath.
func PlotClassHistogram(outPath string, names []string, counts []int) error {
	if len(counts) == 0 {
		return errors.New("no class counts to plot")
	}
	values := make(plotter.Values, len(counts))
	for i, c := range counts {
		values[i] = float64(c)
	}
	p := plot.New()
	p.Title.Text = "Samples per class"
	p.Y.Label.Text = "count"

	bars, err := plotter.NewBarChart(values, vg.Points(14))
	if err != nil {
		return err
	}
	bars.Color = color.RGBA{R: 20, G: 80, B: 200, A: 220}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.Add(plotter.NewGrid())
	p.NominalX(names...)

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return errors.Wrapf(err, "mkdir for %s", outPath)
	}
	width := vg.Length(max(4, len(counts))) * 0.6 * vg.Inch
	return errors.Wrapf(p.Save(width, 4*vg.Inch, outPath), "saving %s", outPath)
}
