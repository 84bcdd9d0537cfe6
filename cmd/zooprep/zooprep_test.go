package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Noofbiz/modelzoo/datasets"
	"github.com/Noofbiz/modelzoo/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	img.Set(0, 0, color.NRGBA{A: 255})
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestLoadOptionsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prep.yaml")
	writeFile(t, path, `
source:
  csv: data.csv
  drop_header: true
  labels: {start: -1, end: -1}
  inputs: {start: 0, end: -2}
  train: true
loader:
  train_ratio: 0.8
  augmentation: ["resize(8, 8)", "horizontal-flip"]
  image_geometry: {width: 4, height: 4, depth: 1}
scaler: standard
yolo:
  version: 3
output:
  cache: out/c.gob
`)
	opts, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, "data.csv", opts.Source.CSV)
	assert.True(t, opts.Source.DropHeader)
	require.NotNil(t, opts.Source.Labels)
	assert.Equal(t, datasets.ColumnRange{Start: -1, End: -1}, *opts.Source.Labels)
	assert.Equal(t, datasets.ColumnRange{Start: 0, End: -2}, opts.Source.Inputs)
	assert.Equal(t, 0.8, opts.Loader.TrainRatio)
	assert.Equal(t, []string{"resize(8, 8)", "horizontal-flip"}, opts.Loader.Augmentation)
	assert.Equal(t, 4, opts.Loader.ImageGeometry.Width)
	assert.Equal(t, "standard", opts.Scaler)
	assert.Equal(t, 3, opts.YOLO.Version)
	// Keys not in the file keep their defaults.
	assert.Equal(t, 7, opts.YOLO.GridWidth)
	assert.True(t, opts.Loader.Shuffle)
	assert.Equal(t, "out/c.gob", opts.Output.Cache)

	kind, err := opts.Source.Kind()
	require.NoError(t, err)
	assert.Equal(t, kindCSV, kind)
}

func TestFlagsOverrideOptions(t *testing.T) {
	fs := flag.NewFlagSet("zooprep", flag.ContinueOnError)
	fv := defineFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"-annotations", "ann", "-images", "img", "-classes", "cat, dog,",
		"-augment", "resize(4, 3); vertical-flip", "-test", "-no-scaler", "-grid", "5",
	}))
	opts := DefaultOptions()
	opts.Loader.TrainRatio = 0.9
	fv.apply(fs, &opts)

	assert.Equal(t, "ann", opts.Source.Annotations)
	assert.Equal(t, []string{"cat", "dog"}, opts.Source.Classes)
	assert.Equal(t, []string{"resize(4, 3)", "vertical-flip"}, opts.Loader.Augmentation)
	assert.False(t, opts.Source.Train)
	assert.False(t, opts.Loader.UseScaler)
	assert.Equal(t, 5, opts.YOLO.GridWidth)
	assert.Equal(t, 5, opts.YOLO.GridHeight)
	// Unset flags leave the options alone.
	assert.Equal(t, 0.9, opts.Loader.TrainRatio)

	kind, err := opts.Source.Kind()
	require.NoError(t, err)
	assert.Equal(t, kindDetection, kind)
}

func TestLabelsFlag(t *testing.T) {
	for _, tc := range []struct {
		labels      string
		inputs      datasets.ColumnRange
		predictions datasets.ColumnRange
	}{
		{"0", datasets.ColumnRange{Start: 1, End: -1}, datasets.ColumnRange{Start: 0, End: 0}},
		{"4", datasets.ColumnRange{Start: 0, End: 3}, datasets.ColumnRange{Start: 4, End: 4}},
	} {
		fs := flag.NewFlagSet("zooprep", flag.ContinueOnError)
		fv := defineFlags(fs)
		require.NoError(t, fs.Parse([]string{"-labels", tc.labels}))
		opts := DefaultOptions()
		fv.apply(fs, &opts)
		assert.Equal(t, tc.inputs, opts.Source.Inputs, "labels %s", tc.labels)
		require.NotNil(t, opts.Source.Labels)
		assert.Equal(t, tc.predictions, *opts.Source.Labels, "labels %s", tc.labels)
	}
}

func TestSourceKindErrors(t *testing.T) {
	_, err := Source{}.Kind()
	assert.Error(t, err)
	_, err = Source{Name: "mnist", CSV: "x.csv"}.Kind()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "named and csv")
}

func TestFingerprintIgnoresOutput(t *testing.T) {
	a := DefaultOptions()
	b := DefaultOptions()
	b.Output.Cache = "elsewhere.gob"
	fa, err := a.Fingerprint()
	require.NoError(t, err)
	fb, err := b.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fa, fb)

	b.Loader.Seed = 42
	fb, err = b.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, fa, fb)
}

func csvOptions(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	rows := []string{"f1,f2,label"}
	for i := 0; i < 20; i++ {
		rows = append(rows, fmt.Sprintf("%d,%d,%d", i, 2*i, i%3))
	}
	path := filepath.Join(dir, "data.csv")
	writeFile(t, path, strings.Join(rows, "\n")+"\n")

	opts := DefaultOptions()
	opts.Loader.DataDir = dir
	opts.Source.CSV = path
	opts.Source.DropHeader = true
	opts.Source.Inputs = datasets.ColumnRange{Start: 0, End: 1}
	opts.Source.Labels = &datasets.ColumnRange{Start: 2, End: 2}
	opts.Output.Cache = filepath.Join(dir, "out", "cache.gob")
	opts.Output.Plot = filepath.Join(dir, "out", "classes.png")
	return opts
}

func TestPrepareCSVAndCache(t *testing.T) {
	opts := csvOptions(t)
	p, err := Prepare(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 15, p.Matrices["train features"].Cols())
	assert.Equal(t, 5, p.Matrices["valid labels"].Cols())

	names, counts := ClassCounts(p)
	assert.Equal(t, []string{"0", "1", "2"}, names)
	assert.Equal(t, []int{7, 7, 6}, counts)

	summary := Summary(p)
	assert.Contains(t, summary, "train features")
	assert.Contains(t, summary, "valid labels")
	assert.NotContains(t, summary, "test features")

	fp, err := opts.Fingerprint()
	require.NoError(t, err)
	require.NoError(t, SaveCache(opts.Output.Cache, fp, p))
	back, err := LoadCache(opts.Output.Cache, fp)
	require.NoError(t, err)
	assert.Equal(t, p.Matrices["train features"].Data(), back.Matrices["train features"].Data())
	assert.Equal(t, p.Matrices["train labels"].Rows(), back.Matrices["train labels"].Rows())

	_, err = LoadCache(opts.Output.Cache, fp+"changed")
	assert.Error(t, err)

	require.NoError(t, PlotClassHistogram(opts.Output.Plot, names, counts))
	info, err := os.Stat(opts.Output.Plot)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestPrepareDetectionEncodesTargets(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("img%d.png", i)
		writePNG(t, filepath.Join(dir, "images", name), 16, 16)
		writeFile(t, filepath.Join(dir, "ann", fmt.Sprintf("img%d.xml", i)), fmt.Sprintf(
			`<annotation><filename>%s</filename><size><width>16</width><height>16</height><depth>3</depth></size>`+
				`<object><name>dog</name><bndbox><xmin>1</xmin><ymin>2</ymin><xmax>9</xmax><ymax>12</ymax></bndbox></object>`+
				`</annotation>`, name))
	}
	opts := DefaultOptions()
	opts.Source.Annotations = filepath.Join(dir, "ann")
	opts.Source.Images = filepath.Join(dir, "images")
	opts.Source.Classes = []string{"cat", "dog"}
	opts.Loader.Augmentation = []string{"resize(8, 8)"}
	opts.Loader.TrainRatio = 0.5

	p, err := Prepare(context.Background(), opts)
	require.NoError(t, err)
	targets := p.Matrices["train targets"]
	require.NotNil(t, targets)
	assert.Equal(t, 7*7*(5*2+2), targets.Rows())
	assert.Equal(t, 2, targets.Cols())
	assert.Equal(t, 2, p.Matrices["valid targets"].Cols())
	assert.Equal(t, 8*8*3, p.Matrices["train features"].Rows())

	names, counts := ClassCounts(p)
	assert.Equal(t, []string{"cat", "dog"}, names)
	assert.Equal(t, []int{0, 4}, counts)
}

func TestClassCountsSkipsLargeLabels(t *testing.T) {
	labels, err := tensor.FromData(1, 3, []float32{0, 1e9, 2})
	require.NoError(t, err)
	p := &Prepared{Matrices: map[string]*tensor.Matrix{"train labels": labels}}
	names, counts := ClassCounts(p)
	assert.Empty(t, names)
	assert.Empty(t, counts)

	small, err := tensor.FromData(1, 4, []float32{0, 2, 2, 1})
	require.NoError(t, err)
	p.Matrices["train labels"] = small
	names, counts = ClassCounts(p)
	assert.Equal(t, []string{"0", "1", "2"}, names)
	assert.Equal(t, []int{1, 1, 2}, counts)

	p.Classes = []string{"a", "b"}
	_, counts = ClassCounts(p)
	assert.Empty(t, counts)
}
