package datasets

import (
	"math"
	"os"

	"github.com/Noofbiz/modelzoo/tensor"
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CSVParams selects what LoadCSV produces. Inputs and Predictions are row
// ranges of the loaded matrix, that is CSV columns, and may use negative
// indices. Predictions set to NoColumns loads no labels.
type CSVParams struct {
	Train       bool
	DropHeader  bool
	Inputs      ColumnRange
	Predictions ColumnRange
}

// ReadCSV loads a numeric CSV file as a matrix with one column per CSV row,
// optionally skipping the first row.
func ReadCSV(path string, dropHeader bool) (*tensor.Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", path)
	}
	defer f.Close()
	df := dataframe.ReadCSV(f,
		dataframe.HasHeader(false),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.Float))
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "parsing %q", path)
	}
	first := 0
	if dropHeader {
		first = 1
	}
	samples := df.Nrow() - first
	if samples < 0 {
		samples = 0
	}
	m := tensor.New(df.Ncol(), samples)
	for r := first; r < df.Nrow(); r++ {
		col := m.Col(r - first)
		for c := 0; c < df.Ncol(); c++ {
			v := df.Elem(r, c).Float()
			if math.IsNaN(v) {
				return nil, errors.Errorf("%q: row %d column %d is not a number", path, r+1, c+1)
			}
			col[c] = float32(v)
		}
	}
	return m, nil
}

// LoadCSV reads path and fills the train and validation partitions (when
// p.Train) or the test partition. Training loads split the samples, fit the
// scaler on the training part only and augment the training features. Resize
// directives apply to every partition; the other directives only to training
// features. Test loads reuse the fitted scaler.
func (l *Loader) LoadCSV(path string, p CSVParams) error {
	data, err := ReadCSV(path, p.DropHeader)
	if err != nil {
		return err
	}
	klog.V(1).Infof("loaded %q: %d samples with %d values each", path, data.Cols(), data.Rows())
	return catch(func() error {
		if !p.Train {
			return l.loadTestMatrix(data, p)
		}
		return l.loadTrainMatrix(data, p)
	})
}

func (l *Loader) loadTrainMatrix(data *tensor.Matrix, p CSVParams) error {
	trainIdx, validIdx, err := l.split(data.Cols())
	if err != nil {
		return err
	}
	trainData, validData := data.SelectCols(trainIdx), data.SelectCols(validIdx)

	// Ranges are resolved against each partition separately.
	trainX, err := p.Inputs.Slice(trainData)
	if err != nil {
		return errors.WithMessage(err, "training inputs")
	}
	trainY, err := p.Predictions.Slice(trainData)
	if err != nil {
		return errors.WithMessage(err, "training predictions")
	}
	validX, err := p.Inputs.Slice(validData)
	if err != nil {
		return errors.WithMessage(err, "validation inputs")
	}
	validY, err := p.Predictions.Slice(validData)
	if err != nil {
		return errors.WithMessage(err, "validation predictions")
	}

	trainX, others, err := l.scale(trainX, validX)
	if err != nil {
		return err
	}
	validX = others[0]

	g := l.cfg.ImageGeometry
	if validX, _, err = l.resize(validX, g); err != nil {
		return err
	}
	if trainX, g, err = l.resize(trainX, g); err != nil {
		return err
	}
	if trainX, _, err = l.augmentTrain(trainX, g); err != nil {
		return err
	}

	l.trainFeatures, l.trainLabels = trainX, trainY
	l.validFeatures, l.validLabels = validX, validY
	l.trainAnnotations, l.validAnnotations = nil, nil
	l.geometry = g
	return nil
}

func (l *Loader) loadTestMatrix(data *tensor.Matrix, p CSVParams) error {
	x, err := p.Inputs.Slice(data)
	if err != nil {
		return errors.WithMessage(err, "test inputs")
	}
	y, err := p.Predictions.Slice(data)
	if err != nil {
		return errors.WithMessage(err, "test predictions")
	}
	if x, err = l.scaleTest(x); err != nil {
		return err
	}
	x, g, err := l.resize(x, l.cfg.ImageGeometry)
	if err != nil {
		return err
	}
	l.testFeatures, l.testLabels = x, y
	l.testAnnotations = nil
	l.geometry = g
	return nil
}
