package datasets

import (
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnknownDataset is returned by Loader.Load for names not in the registry.
var ErrUnknownDataset = errors.New("unknown dataset")

// DefaultServer hosts the built-in datasets.
const DefaultServer = "http://www.mlpack.org"

// DatasetDetails describes where a named dataset lives and how its CSV files
// split into inputs and predictions. Either ArchiveURL is set, and the
// archive holds TrainFile and TestFile, or each file has its own URL.
type DatasetDetails struct {
	Name string

	// ArchiveURL is a path on the server (or an absolute URL) of a .tar.gz
	// holding every file. ArchiveHash is its CRC32.
	ArchiveURL  string
	ArchiveHash string

	TrainURL, TestURL   string
	TrainHash, TestHash string

	// TrainFile and TestFile are relative to the loader's data directory.
	TrainFile, TestFile string

	DropHeader       bool
	TrainInputs      ColumnRange
	TrainPredictions ColumnRange
	TestInputs       ColumnRange
	TestPredictions  ColumnRange

	// PreProcess runs after the partitions are loaded.
	PreProcess func(l *Loader) error
}

// MNIST is the digits dataset as CSV: label in the first column, followed by
// the 784 pixel values. The test file has no labels.
func MNIST() DatasetDetails {
	return DatasetDetails{
		Name:             "mnist",
		ArchiveURL:       "/datasets/mnist.tar.gz",
		ArchiveHash:      "9fa4efe5",
		TrainFile:        "mnist_train.csv",
		TestFile:         "mnist_test.csv",
		DropHeader:       true,
		TrainInputs:      ColumnRange{Start: 1, End: -1},
		TrainPredictions: ColumnRange{Start: 0, End: 0},
		TestInputs:       ColumnRange{Start: 0, End: -1},
		TestPredictions:  NoColumns,
		PreProcess:       checkDigitLabels,
	}
}

// Iris is Fisher's iris measurements, four features per sample and no
// labels in the files.
func Iris() DatasetDetails {
	return DatasetDetails{
		Name:             "iris",
		TrainURL:         "/datasets/iris.csv",
		TestURL:          "/datasets/iris_test.csv",
		TrainHash:        "7c30e225",
		TestHash:         "3be1f79e",
		TrainFile:        "iris.csv",
		TestFile:         "iris_test.csv",
		TrainInputs:      ColumnRange{Start: 0, End: -1},
		TrainPredictions: NoColumns,
		TestInputs:       ColumnRange{Start: 0, End: -1},
		TestPredictions:  NoColumns,
	}
}

// checkDigitLabels verifies that MNIST labels are whole numbers in 0..9.
func checkDigitLabels(l *Loader) error {
	for _, m := range []struct {
		name   string
		labels []float32
	}{
		{"train", l.TrainLabels().Data()},
		{"valid", l.ValidLabels().Data()},
	} {
		for i, v := range m.labels {
			if v != float32(math.Round(float64(v))) || v < 0 || v > 9 {
				return errors.Errorf("mnist %s label %d is %g, want a digit", m.name, i, v)
			}
		}
	}
	return nil
}

// Register adds or replaces a named dataset. Names are case-insensitive.
func (l *Loader) Register(d DatasetDetails) {
	l.registry[strings.ToLower(d.Name)] = d
}

// Details returns the registered dataset called name.
func (l *Loader) Details(name string) (DatasetDetails, bool) {
	d, ok := l.registry[strings.ToLower(name)]
	return d, ok
}

// Names lists the registered datasets in sorted order.
func (l *Loader) Names() []string {
	names := make([]string, 0, len(l.registry))
	for n := range l.registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
