package datasets

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/Noofbiz/modelzoo/scaler"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapIndex(t *testing.T) {
	assert.Equal(t, 9, WrapIndex(-1, 10))
	assert.Equal(t, 0, WrapIndex(0, 10))
	assert.Equal(t, 0, WrapIndex(-10, 10))
	assert.Equal(t, 3, WrapIndex(3, 10))
}

func TestTrainTestSplit(t *testing.T) {
	train, valid, err := TrainTestSplit(150, 0.75, false, nil)
	require.NoError(t, err)
	assert.Len(t, valid, 37)
	assert.Len(t, train, 113)
	assert.Equal(t, 0, train[0])
	assert.Equal(t, 113, valid[0])

	train, valid, err = TrainTestSplit(10, 0.5, true, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	seen := make(map[int]bool)
	for _, i := range append(append([]int{}, train...), valid...) {
		assert.False(t, seen[i], "index %d drawn twice", i)
		seen[i] = true
	}
	assert.Len(t, seen, 10)

	_, _, err = TrainTestSplit(10, 1.5, false, nil)
	assert.Error(t, err)
}

func irisLikeCSV(t *testing.T, dir string, n int) string {
	t.Helper()
	rows := make([]string, n)
	for i := range rows {
		rows[i] = fmt.Sprintf("%.1f,%.1f,%.1f,%.1f", 4+float64(i%30)*0.1, 2+float64(i%20)*0.1, 1+float64(i%50)*0.1, float64(i%25)*0.1)
	}
	path := filepath.Join(dir, "iris.csv")
	writeCSV(t, path, "", rows)
	return path
}

func TestLoadCSVIrisSplit(t *testing.T) {
	l := newTestLoader(t, func(cfg *Config) {
		cfg.TrainRatio = 0.5
		cfg.UseScaler = false
	})
	path := irisLikeCSV(t, t.TempDir(), 150)
	require.NoError(t, l.LoadCSV(path, CSVParams{
		Train:       true,
		Inputs:      ColumnRange{Start: 0, End: -1},
		Predictions: ColumnRange{Start: 1, End: -1},
	}))
	assert.Equal(t, 4, l.TrainFeatures().Rows())
	assert.Equal(t, 75, l.TrainFeatures().Cols())
	assert.Equal(t, 3, l.TrainLabels().Rows())
	assert.Equal(t, 75, l.TrainLabels().Cols())
	assert.Equal(t, 4, l.ValidFeatures().Rows())
	assert.Equal(t, 75, l.ValidFeatures().Cols())
	assert.Equal(t, 0, l.TestFeatures().Cols())

	// Labels are rows 1..3 of the same samples.
	for j := 0; j < l.TrainFeatures().Cols(); j++ {
		assert.Equal(t, l.TrainFeatures().Col(j)[1:], l.TrainLabels().Col(j))
	}
}

func TestLoadCSVScalerFitsTrainingOnly(t *testing.T) {
	l := newTestLoader(t, func(cfg *Config) {
		cfg.TrainRatio = 0.5
		cfg.Shuffle = false
	})
	path := filepath.Join(t.TempDir(), "data.csv")
	writeCSV(t, path, "a,b", []string{"0,0", "1,10", "2,20", "3,30"})
	require.NoError(t, l.LoadCSV(path, CSVParams{
		Train:       true,
		DropHeader:  true,
		Inputs:      ColumnRange{Start: 0, End: -1},
		Predictions: NoColumns,
	}))
	assert.Equal(t, []float32{0, 0, 1, 1}, l.TrainFeatures().Data())
	// Validation values lie outside the training range and are not clipped.
	assert.Equal(t, []float32{2, 2, 3, 3}, l.ValidFeatures().Data())
	assert.Equal(t, 0, l.TrainLabels().Rows())
	assert.True(t, l.Scaler().Fitted())

	test := filepath.Join(t.TempDir(), "test.csv")
	writeCSV(t, test, "", []string{"0.5,5"})
	require.NoError(t, l.LoadCSV(test, CSVParams{
		Inputs:      ColumnRange{Start: 0, End: -1},
		Predictions: NoColumns,
	}))
	assert.Equal(t, []float32{0.5, 0.5}, l.TestFeatures().Data())
	// The training partitions are untouched by a test load.
	assert.Equal(t, 2, l.TrainFeatures().Cols())
}

func TestLoadCSVTestNeedsFittedScaler(t *testing.T) {
	l := newTestLoader(t, nil)
	path := filepath.Join(t.TempDir(), "test.csv")
	writeCSV(t, path, "", []string{"1,2", "3,4"})
	err := l.LoadCSV(path, CSVParams{Inputs: ColumnRange{Start: 0, End: -1}, Predictions: NoColumns})
	require.Error(t, err)
	assert.True(t, errors.Is(err, scaler.ErrNotFitted))
}

func TestLoadCSVStandardScaler(t *testing.T) {
	l := newTestLoader(t, func(cfg *Config) {
		cfg.Shuffle = false
		cfg.TrainRatio = 1
		cfg.Scaler = &scaler.Standard{}
	})
	path := filepath.Join(t.TempDir(), "data.csv")
	writeCSV(t, path, "", []string{"1", "2", "3"})
	require.NoError(t, l.LoadCSV(path, CSVParams{
		Train:       true,
		Inputs:      ColumnRange{Start: 0, End: 0},
		Predictions: NoColumns,
	}))
	var sum float64
	for _, v := range l.TrainFeatures().Data() {
		sum += float64(v)
	}
	assert.InDelta(t, 0, sum, 1e-5)
	assert.Equal(t, 0, l.ValidFeatures().Cols())
}

func TestLoadCSVRejectsText(t *testing.T) {
	l := newTestLoader(t, nil)
	path := filepath.Join(t.TempDir(), "data.csv")
	writeCSV(t, path, "", []string{"1,2", "3,oops"})
	err := l.LoadCSV(path, CSVParams{Train: true, Inputs: ColumnRange{Start: 0, End: -1}, Predictions: NoColumns})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2 column 2")
}

func TestLoadCSVBadRange(t *testing.T) {
	l := newTestLoader(t, func(cfg *Config) { cfg.UseScaler = false })
	path := filepath.Join(t.TempDir(), "data.csv")
	writeCSV(t, path, "", []string{"1,2", "3,4"})
	err := l.LoadCSV(path, CSVParams{Train: true, Inputs: ColumnRange{Start: 0, End: 5}, Predictions: NoColumns})
	assert.Error(t, err)
}

func TestAugmentationNeedsGeometry(t *testing.T) {
	l := newTestLoader(t, func(cfg *Config) {
		cfg.Augmentation = []string{"horizontal-flip"}
		cfg.UseScaler = false
	})
	path := filepath.Join(t.TempDir(), "data.csv")
	writeCSV(t, path, "", []string{"1,2,3,4", "5,6,7,8"})
	p := CSVParams{Train: true, Inputs: ColumnRange{Start: 0, End: -1}, Predictions: NoColumns}
	err := l.LoadCSV(path, p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ImageGeometry")
}

func TestAugmentationResizesCSVImages(t *testing.T) {
	l := newTestLoader(t, func(cfg *Config) {
		cfg.Augmentation = []string{"resize(4, 4)", "horizontal-flip"}
		cfg.AugmentationProbability = 1
		cfg.ImageGeometry.Width, cfg.ImageGeometry.Height, cfg.ImageGeometry.Depth = 2, 2, 1
		cfg.UseScaler = false
		cfg.TrainRatio = 0.5
	})
	path := filepath.Join(t.TempDir(), "data.csv")
	writeCSV(t, path, "", []string{"1,2,3,4", "5,6,7,8"})
	require.NoError(t, l.LoadCSV(path, CSVParams{Train: true, Inputs: ColumnRange{Start: 0, End: -1}, Predictions: NoColumns}))
	assert.Equal(t, 16, l.TrainFeatures().Rows())
	assert.Equal(t, 1, l.TrainFeatures().Cols())
	assert.Equal(t, 4, l.Geometry().Width)
	// Validation data is resized to the same geometry but never flipped.
	require.Equal(t, 16, l.ValidFeatures().Rows())
	valid := l.ValidFeatures().Col(0)
	assert.Less(t, valid[0], valid[3])

	require.NoError(t, l.LoadCSV(path, CSVParams{Inputs: ColumnRange{Start: 0, End: -1}, Predictions: NoColumns}))
	assert.Equal(t, 16, l.TestFeatures().Rows())
	assert.Equal(t, 2, l.TestFeatures().Cols())
	assert.Equal(t, 4, l.Geometry().Height)
}

func TestUnknownDirectivesAreSkipped(t *testing.T) {
	l := newTestLoader(t, func(cfg *Config) {
		cfg.Augmentation = []string{"sharpen"}
		cfg.AugmentationProbability = 1
		cfg.UseScaler = false
		cfg.Shuffle = false
	})
	path := filepath.Join(t.TempDir(), "data.csv")
	writeCSV(t, path, "", []string{"1,2,3", "4,5,6", "7,8,9", "10,11,12"})
	require.NoError(t, l.LoadCSV(path, CSVParams{Train: true, Inputs: ColumnRange{Start: 0, End: -1}, Predictions: NoColumns}))
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, l.TrainFeatures().Data())
	assert.True(t, l.Geometry().IsZero())
}

func TestLoadUnknownDataset(t *testing.T) {
	l := newTestLoader(t, nil)
	err := l.Load(context.Background(), "imagenet", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownDataset))
	assert.Contains(t, err.Error(), "mnist")
	assert.Contains(t, err.Error(), "LoadCSV")
	assert.Equal(t, []string{"iris", "mnist"}, l.Names())
}

func TestFindCSV(t *testing.T) {
	dir := t.TempDir()
	_, err := FindCSV(dir)
	assert.Error(t, err)
	writeCSV(t, filepath.Join(dir, "b.csv"), "", []string{"1"})
	writeCSV(t, filepath.Join(dir, "a.csv"), "", []string{"1"})
	got, err := FindCSV(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.csv"), got)
}
