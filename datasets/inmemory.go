package datasets

import (
	"io"
	"math/rand"

	"github.com/Noofbiz/modelzoo/tensor"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// InMemory serves loaded partitions to a gomlx training loop. Features and
// labels hold one column per example; labels may have zero rows, in which
// case Yield returns no label tensors.
type InMemory struct {
	name      string
	features  *tensor.Matrix
	labels    *tensor.Matrix
	BatchSize int

	shuffle bool
	rand    *rand.Rand
	order   []int
	next    int
}

var _ Dataset = (*InMemory)(nil)

// NewInMemory wraps features and labels. With shuffle, the example order is
// reshuffled from seed at creation and on each Reset.
func NewInMemory(name string, features, labels *tensor.Matrix, batchSize int, shuffle bool, seed int64) (*InMemory, error) {
	if labels == nil {
		labels = tensor.New(0, features.Cols())
	}
	if features.Cols() != labels.Cols() {
		return nil, errors.Errorf("%d feature columns but %d label columns", features.Cols(), labels.Cols())
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", batchSize)
	}
	d := &InMemory{
		name:      name,
		features:  features,
		labels:    labels,
		BatchSize: batchSize,
		shuffle:   shuffle,
		rand:      rand.New(rand.NewSource(seed)),
		order:     make([]int, features.Cols()),
	}
	for i := range d.order {
		d.order[i] = i
	}
	d.Reset()
	return d, nil
}

// Name returns the name of the dataset
func (d *InMemory) Name() string { return d.name }

// Len returns the number of examples
func (d *InMemory) Len() int { return d.features.Cols() }

// Example returns copies of the features and labels of example idx.
func (d *InMemory) Example(idx int) (inputs []float32, labels []float32, err error) {
	if idx < 0 || idx >= d.Len() {
		return nil, nil, errors.Errorf("index %d out of range [0, %d)", idx, d.Len())
	}
	inputs = append([]float32(nil), d.features.Col(idx)...)
	labels = append([]float32(nil), d.labels.Col(idx)...)
	return inputs, labels, nil
}

// Batch returns the examples at indices.
func (d *InMemory) Batch(indices []int) ([][]float32, [][]float32, error) {
	inputs := make([][]float32, len(indices))
	labels := make([][]float32, len(indices))
	for i, idx := range indices {
		var err error
		if inputs[i], labels[i], err = d.Example(idx); err != nil {
			return nil, nil, err
		}
	}
	return inputs, labels, nil
}

// Shuffle reseeds the generator and reshuffles the example order.
func (d *InMemory) Shuffle(seed int64) {
	d.rand = rand.New(rand.NewSource(seed))
	d.rand.Shuffle(len(d.order), func(i, j int) { d.order[i], d.order[j] = d.order[j], d.order[i] })
	d.next = 0
}

// Reset starts a new epoch, reshuffling when the dataset was created with
// shuffle.
func (d *InMemory) Reset() {
	if d.shuffle {
		d.rand.Shuffle(len(d.order), func(i, j int) { d.order[i], d.order[j] = d.order[j], d.order[i] })
	}
	d.next = 0
}

// Yield returns the next batch as [batch, features] and [batch, labels]
// tensors. The last batch of an epoch may be smaller; after it Yield
// returns io.EOF until Reset.
func (d *InMemory) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if d.next >= len(d.order) {
		return nil, nil, nil, io.EOF
	}
	end := min(d.next+d.BatchSize, len(d.order))
	in, la, err := d.Batch(d.order[d.next:end])
	if err != nil {
		return nil, nil, nil, err
	}
	d.next = end
	b, err := MakeBatchFlat(in, la)
	if err != nil {
		return nil, nil, nil, err
	}
	inT, labT := b.ToGomlxTensors()
	inputs = []*tensors.Tensor{inT}
	if labT != nil {
		labels = []*tensors.Tensor{labT}
	}
	return d, inputs, labels, nil
}

// BatchFlat stores a batch in flat contiguous buffers
type BatchFlat struct {
	Inputs    []float32
	Labels    []float32
	BatchSize int
	InputDim  int
	LabelDim  int
}

// MakeBatchFlat flattens a batch into contiguous row-major buffers.
func MakeBatchFlat(inputs, labels [][]float32) (*BatchFlat, error) {
	if len(inputs) != len(labels) {
		return nil, errors.Errorf("inputs and labels batch sizes don't match: %d != %d", len(inputs), len(labels))
	}
	if len(inputs) == 0 {
		return &BatchFlat{}, nil
	}
	b := &BatchFlat{BatchSize: len(inputs), InputDim: len(inputs[0]), LabelDim: len(labels[0])}
	b.Inputs = make([]float32, b.BatchSize*b.InputDim)
	b.Labels = make([]float32, b.BatchSize*b.LabelDim)
	for i := range b.BatchSize {
		if len(inputs[i]) != b.InputDim {
			return nil, errors.Errorf("inconsistent input dimensions at example %d: expected %d, got %d",
				i, b.InputDim, len(inputs[i]))
		}
		if len(labels[i]) != b.LabelDim {
			return nil, errors.Errorf("inconsistent label dimensions at example %d: expected %d, got %d",
				i, b.LabelDim, len(labels[i]))
		}
		copy(b.Inputs[i*b.InputDim:], inputs[i])
		copy(b.Labels[i*b.LabelDim:], labels[i])
	}
	return b, nil
}

// ToGomlxTensors converts the batch to gomlx tensors. The label tensor is nil
// when there are no labels.
func (b *BatchFlat) ToGomlxTensors() (inputs, labels *tensors.Tensor) {
	inputs = tensors.FromFlatDataAndDimensions(b.Inputs, b.BatchSize, b.InputDim)
	if b.LabelDim > 0 {
		labels = tensors.FromFlatDataAndDimensions(b.Labels, b.BatchSize, b.LabelDim)
	}
	return inputs, labels
}
