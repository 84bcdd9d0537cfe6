// Package yolo builds YOLO grid targets from per-image bounding box
// annotations and computes the matching detection loss.
//
// A grid target is one matrix column of GridWidth*GridHeight*P values, where
// element (gridX, gridY, k) lives at gridX + gridY*GridWidth +
// k*GridWidth*GridHeight. For version 1, P = 5*NumBoxes + NumClasses and all
// box slots of a cell share one class one-hot. For versions 2 and 3 every
// slot has its own class one-hot, P = NumBoxes*(5 + NumClasses).
package yolo

import (
	"math"

	"github.com/Noofbiz/modelzoo/tensor"
	"github.com/pkg/errors"
)

// ErrUnsupportedVersion is returned for versions other than 1, 2 and 3.
var ErrUnsupportedVersion = errors.New("unsupported YOLO version")

// Config describes the grid layout.
type Config struct {
	Version     int `json:"version" yaml:"version"`
	ImageWidth  int `json:"image_width" yaml:"image_width"`
	ImageHeight int `json:"image_height" yaml:"image_height"`
	GridWidth   int `json:"grid_width" yaml:"grid_width"`
	GridHeight  int `json:"grid_height" yaml:"grid_height"`
	NumBoxes    int `json:"num_boxes" yaml:"num_boxes"`
	NumClasses  int `json:"num_classes" yaml:"num_classes"`

	// Normalize divides box corners by the image size and encodes centres
	// as offsets inside their cell. When false, boxes are taken as already
	// normalised and the absolute centre is written.
	Normalize bool `json:"normalize" yaml:"normalize"`
}

// DefaultConfig is YOLOv1 on 224x224 images with a 7x7 grid, 2 boxes per
// cell and the 20 VOC classes.
func DefaultConfig() Config {
	return Config{
		Version:     1,
		ImageWidth:  224,
		ImageHeight: 224,
		GridWidth:   7,
		GridHeight:  7,
		NumBoxes:    2,
		NumClasses:  20,
		Normalize:   true,
	}
}

// Validate checks the version first, then the dimensions.
func (c Config) Validate() error {
	if c.Version < 1 || c.Version > 3 {
		return errors.Wrapf(ErrUnsupportedVersion, "version %d, supported versions are 1, 2 and 3", c.Version)
	}
	if c.GridWidth <= 0 || c.GridHeight <= 0 || c.NumBoxes <= 0 || c.NumClasses <= 0 {
		return errors.Errorf("yolo: grid %dx%d with %d boxes and %d classes is invalid",
			c.GridWidth, c.GridHeight, c.NumBoxes, c.NumClasses)
	}
	if c.Normalize && (c.ImageWidth <= 0 || c.ImageHeight <= 0) {
		return errors.Errorf("yolo: image size %dx%d is invalid", c.ImageWidth, c.ImageHeight)
	}
	return nil
}

// NumPredictions is the number of values per grid cell.
func (c Config) NumPredictions() int {
	if c.Version == 1 {
		return 5*c.NumBoxes + c.NumClasses
	}
	return c.NumBoxes * (5 + c.NumClasses)
}

// Rows is the length of one encoded column.
func (c Config) Rows() int { return c.GridWidth * c.GridHeight * c.NumPredictions() }

// slotOffset is the index of box slot s inside a cell's predictions.
func (c Config) slotOffset(s int) int {
	if c.Version == 1 {
		return 5 * s
	}
	return s * (5 + c.NumClasses)
}

// classOffset is where the class one-hot of box slot s starts.
func (c Config) classOffset(s int) int {
	if c.Version == 1 {
		return 5 * c.NumBoxes
	}
	return s*(5+c.NumClasses) + 5
}

// Encode converts one annotation per image, each a concatenation of
// (class, x1, y1, x2, y2) tuples, into a matrix with one grid target per
// column.
func Encode(annotations [][]float32, cfg Config) (*tensor.Matrix, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	out := tensor.New(cfg.Rows(), len(annotations))
	for j, a := range annotations {
		if err := encodeInto(out.Col(j), a, cfg); err != nil {
			return nil, errors.WithMessagef(err, "image %d", j)
		}
	}
	return out, nil
}

// EncodeOne encodes a single annotation into a new column.
func EncodeOne(annotation []float32, cfg Config) ([]float32, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	col := make([]float32, cfg.Rows())
	if err := encodeInto(col, annotation, cfg); err != nil {
		return nil, err
	}
	return col, nil
}

type cell struct{ x, y int }

func encodeInto(col []float32, annotation []float32, cfg Config) error {
	if len(annotation)%5 != 0 {
		return errors.Errorf("annotation has %d values, want a multiple of 5", len(annotation))
	}
	v, err := tensor.NewVolume(col, cfg.GridWidth, cfg.GridHeight, cfg.NumPredictions())
	if err != nil {
		return err
	}
	cellW := 1 / float64(cfg.GridWidth)
	cellH := 1 / float64(cfg.GridHeight)
	slots := make(map[cell]int)
	for b := 0; b < len(annotation)/5; b++ {
		box := annotation[5*b : 5*b+5]
		label := int(box[0])
		if float32(label) != box[0] || label < 0 || label >= cfg.NumClasses {
			return errors.Errorf("box %d: class %g outside [0, %d)", b, box[0], cfg.NumClasses)
		}
		x1, y1, x2, y2 := float64(box[1]), float64(box[2]), float64(box[3]), float64(box[4])
		if cfg.Normalize {
			x1 /= float64(cfg.ImageWidth)
			x2 /= float64(cfg.ImageWidth)
			y1 /= float64(cfg.ImageHeight)
			y2 /= float64(cfg.ImageHeight)
		}
		w, h := x2-x1, y2-y1
		cx, cy := (x1+x2)/2, (y1+y2)/2
		gx := gridIndex(cx, cellW, cfg.GridWidth)
		gy := gridIndex(cy, cellH, cfg.GridHeight)
		ox, oy := cx, cy
		if cfg.Normalize {
			ox = (cx - float64(gx)*cellW) / cellW
			oy = (cy - float64(gy)*cellH) / cellH
		}
		target := [5]float32{float32(ox), float32(oy), float32(w), float32(h), 1}

		if cfg.Version == 1 {
			for s := 0; s < cfg.NumBoxes; s++ {
				for k, t := range target {
					v.Set(gx, gy, cfg.slotOffset(s)+k, t)
				}
			}
			v.Set(gx, gy, cfg.classOffset(0)+label, 1)
			continue
		}

		c := cell{gx, gy}
		s := slots[c]
		if s >= cfg.NumBoxes {
			// The cell has no free slot left.
			continue
		}
		slots[c] = s + 1
		for k, t := range target {
			v.Set(gx, gy, cfg.slotOffset(s)+k, t)
		}
		v.Set(gx, gy, cfg.classOffset(s)+label, 1)
	}
	return nil
}

// gridIndex is ceil(c/cell) - 1, clamped to the grid so that centres on
// the left or top border land in cell 0.
func gridIndex(c, cell float64, n int) int {
	i := int(math.Ceil(c/cell)) - 1
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
