// Package datasets turns raw files into train, validation and test
// matrices ready for training.
//
// Sources:
//   - registered named datasets (downloaded, checksummed and parsed as CSV);
//   - CSV files, where every row is a sample;
//   - object detection directories: one XML annotation per image, or a
//     single CSV with one object per row;
//   - image directories, one subfolder per class.
//
// Matrices follow the tensor package convention: one column per sample. The
// training partition is the only one that gets augmented, and the scaler is
// fitted on it alone before being applied to validation and test data.
//
// Loaded partitions can be fed to gomlx training loops through InMemory,
// which implements gomlx's train.Dataset.
package datasets

import "github.com/gomlx/gomlx/pkg/core/tensors"

// Dataset is what InMemory exposes to training code: random access to
// examples plus the gomlx train.Dataset methods.
type Dataset interface {
	Len() int
	Example(i int) (inputs []float32, labels []float32, err error)
	Batch(indices []int) (inputs [][]float32, labels [][]float32, err error)
	Shuffle(seed int64)

	// gomlx train.Dataset
	Name() string
	Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error)
	Reset()
}
