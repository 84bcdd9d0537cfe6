package augment

import (
	"math"

	"github.com/Noofbiz/modelzoo/tensor"
	"github.com/pkg/errors"
)

// Geometry is the (width, height, depth) layout of a flattened sample.
type Geometry struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
	Depth  int `json:"depth" yaml:"depth"`
}

// Size is the number of values in one sample.
func (g Geometry) Size() int { return g.Width * g.Height * g.Depth }

// IsZero reports whether no geometry was configured.
func (g Geometry) IsZero() bool { return g == Geometry{} }

// Check verifies that every column of ds has g.Size() rows.
func (g Geometry) Check(ds *tensor.Matrix) error {
	if g.Width <= 0 || g.Height <= 0 || g.Depth <= 0 {
		return errors.Wrapf(tensor.ErrShape, "invalid geometry %dx%dx%d", g.Width, g.Height, g.Depth)
	}
	if ds.Rows() != g.Size() {
		return errors.Wrapf(tensor.ErrShape, "dataset has %d rows, geometry %dx%dx%d needs %d",
			ds.Rows(), g.Width, g.Height, g.Depth, g.Size())
	}
	return nil
}

// ResizeDirective parses directive (one number for a square output, two for width
// and height) and resizes every column of ds.
func ResizeDirective(ds *tensor.Matrix, g Geometry, directive string) (*tensor.Matrix, Geometry, error) {
	d, err := Parse(directive)
	if err != nil {
		return nil, g, err
	}
	r, ok := d.(Resize)
	if !ok {
		return nil, g, errors.Wrapf(ErrInvalidDirective, "%q is not a resize directive", directive)
	}
	return ResizeTo(ds, g, r.Width, r.Height)
}

// ResizeTo bilinearly interpolates every column and channel of ds to
// width x height. Depth and column count are preserved.
func ResizeTo(ds *tensor.Matrix, g Geometry, width, height int) (*tensor.Matrix, Geometry, error) {
	if err := g.Check(ds); err != nil {
		return nil, g, err
	}
	if width <= 0 || height <= 0 {
		return nil, g, errors.Wrapf(ErrInvalidDirective, "resize to %dx%d", width, height)
	}
	outG := Geometry{Width: width, Height: height, Depth: g.Depth}
	out := tensor.New(outG.Size(), ds.Cols())
	xs := bilinearAxis(g.Width, width)
	ys := bilinearAxis(g.Height, height)
	for j := 0; j < ds.Cols(); j++ {
		resizeColumn(ds.Col(j), out.Col(j), g, outG, xs, ys)
	}
	return out, outG, nil
}

// axisSample holds the two source neighbours along one axis and the
// distance of the sampled point from the lower one.
type axisSample struct {
	lo, hi int
	delta  float64
}

func bilinearAxis(in, out int) []axisSample {
	scale := float64(in) / float64(out)
	samples := make([]axisSample, out)
	for i := range samples {
		pos := float64(i) * scale
		origin := int(math.Floor(pos))
		if origin > in-2 {
			origin = in - 2
		}
		if origin < 0 {
			origin = 0
		}
		delta := pos - float64(origin)
		if delta > 1 {
			delta = 1
		}
		hi := origin + 1
		if hi > in-1 {
			hi = in - 1
		}
		samples[i] = axisSample{lo: origin, hi: hi, delta: delta}
	}
	return samples
}

func resizeColumn(src, dst []float32, in, out Geometry, xs, ys []axisSample) {
	inPlane, outPlane := in.Width*in.Height, out.Width*out.Height
	for c := 0; c < in.Depth; c++ {
		s := src[c*inPlane : (c+1)*inPlane]
		d := dst[c*outPlane : (c+1)*outPlane]
		for y, sy := range ys {
			top, bottom := sy.lo*in.Width, sy.hi*in.Width
			for x, sx := range xs {
				v := (1-sx.delta)*(1-sy.delta)*float64(s[sx.lo+top]) +
					sx.delta*(1-sy.delta)*float64(s[sx.hi+top]) +
					(1-sx.delta)*sy.delta*float64(s[sx.lo+bottom]) +
					sx.delta*sy.delta*float64(s[sx.hi+bottom])
				d[x+y*out.Width] = float32(v)
			}
		}
	}
}
