package tensor

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Volume is a (W, H, D) view over a contiguous buffer. Element (x, y, c) is
// stored at x + y*W + c*W*H, so every channel is a contiguous W*H plane.
type Volume struct {
	W, H, D int
	data    []float32
}

// NewVolume wraps data as a (w, h, d) view. No copy is made.
func NewVolume(data []float32, w, h, d int) (Volume, error) {
	if w <= 0 || h <= 0 || d <= 0 {
		return Volume{}, errors.Wrapf(ErrShape, "invalid volume geometry %dx%dx%d", w, h, d)
	}
	if len(data) != w*h*d {
		return Volume{}, errors.Wrapf(ErrShape, "%d values can't be viewed as %dx%dx%d", len(data), w, h, d)
	}
	return Volume{W: w, H: h, D: d, data: data}, nil
}

// Volume returns column j viewed as (w, h, d). It panics if the column
// length doesn't match the geometry.
func (m *Matrix) Volume(j, w, h, d int) Volume {
	v, err := NewVolume(m.Col(j), w, h, d)
	if err != nil {
		exceptions.Panicf("column %d: %v", j, err)
	}
	return v
}

// Index returns the flat offset of (x, y, c).
func (v Volume) Index(x, y, c int) int {
	if x < 0 || x >= v.W || y < 0 || y >= v.H || c < 0 || c >= v.D {
		exceptions.Panicf("(%d, %d, %d) out of bounds for volume %dx%dx%d", x, y, c, v.W, v.H, v.D)
	}
	return x + y*v.W + c*v.W*v.H
}

func (v Volume) At(x, y, c int) float32 { return v.data[v.Index(x, y, c)] }

func (v Volume) Set(x, y, c int, value float32) { v.data[v.Index(x, y, c)] = value }

// Channel returns the contiguous plane of channel c.
func (v Volume) Channel(c int) []float32 {
	if c < 0 || c >= v.D {
		exceptions.Panicf("channel %d out of bounds for depth %d", c, v.D)
	}
	plane := v.W * v.H
	return v.data[c*plane : (c+1)*plane : (c+1)*plane]
}

// Data returns the viewed buffer.
func (v Volume) Data() []float32 { return v.data }
