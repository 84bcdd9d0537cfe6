package datasets

import (
	"math/rand"

	"github.com/Noofbiz/modelzoo/tensor"
	"github.com/pkg/errors"
)

// WrapIndex resolves a possibly negative index against length: -1 is the
// last element, -length the first. Non-negative indices are returned as is.
func WrapIndex(index, length int) int {
	if index < 0 {
		return length + index
	}
	return index
}

// TrainTestSplit partitions n samples. trainRatio is the fraction kept for
// training: the validation part has int(n*(1-trainRatio)) samples and the
// rest go to training. With shuffle the assignment is a random permutation
// drawn from rng, otherwise the first samples are used for training.
func TrainTestSplit(n int, trainRatio float64, shuffle bool, rng *rand.Rand) (train, valid []int, err error) {
	if trainRatio < 0 || trainRatio > 1 {
		return nil, nil, errors.Errorf("train ratio %g outside [0, 1]", trainRatio)
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if shuffle {
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	validSize := int(float64(n) * (1 - trainRatio))
	trainSize := n - validSize
	return order[:trainSize], order[trainSize:], nil
}

// ColumnRange is an inclusive row range of a loaded matrix (rows are the CSV
// columns). Indices may be negative; they are resolved with WrapIndex against
// the matrix they are applied to.
type ColumnRange struct {
	Start, End int
}

// NoColumns is a ColumnRange selecting nothing.
var NoColumns = ColumnRange{Start: 0, End: -1 << 31}

// Empty reports whether r was set to select nothing.
func (r ColumnRange) Empty() bool { return r == NoColumns }

// Slice copies the rows selected by r out of m.
func (r ColumnRange) Slice(m *tensor.Matrix) (*tensor.Matrix, error) {
	if r.Empty() {
		return tensor.New(0, m.Cols()), nil
	}
	first, last := WrapIndex(r.Start, m.Rows()), WrapIndex(r.End, m.Rows())
	if first < 0 || last >= m.Rows() || last < first {
		return nil, errors.Wrapf(tensor.ErrShape, "range %d..%d resolves to rows %d..%d of %d",
			r.Start, r.End, first, last, m.Rows())
	}
	return m.RowRange(first, last)
}
