package augment

import (
	"math"

	"github.com/Noofbiz/modelzoo/tensor"
	"github.com/pkg/errors"
)

// Blur parses directive (exactly one number, the sigma) and blurs every
// column of ds.
func Blur(ds *tensor.Matrix, g Geometry, directive string) (*tensor.Matrix, error) {
	d, err := Parse(directive)
	if err != nil {
		return nil, err
	}
	b, ok := d.(GaussianBlur)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidDirective, "%q is not a gaussian-blur directive", directive)
	}
	return GaussianBlurMatrix(ds, g, b.Sigma)
}

// GaussianBlurMatrix returns a blurred copy of ds. Neighbours are taken over
// a square of half-width ceil(2.57*sigma), with coordinates clamped to the
// edge and weights normalised by the ones actually used.
func GaussianBlurMatrix(ds *tensor.Matrix, g Geometry, sigma int) (*tensor.Matrix, error) {
	if err := g.Check(ds); err != nil {
		return nil, err
	}
	if sigma < 0 {
		return nil, errors.Wrapf(ErrInvalidDirective, "negative sigma %d", sigma)
	}
	out := ds.Clone()
	if sigma == 0 {
		return out, nil
	}
	kernel := gaussianKernel(sigma)
	tmp := make([]float64, g.Width*g.Height)
	for j := 0; j < out.Cols(); j++ {
		blurColumn(out.Col(j), g, kernel, tmp)
	}
	return out, nil
}

// gaussianKernel returns the normalised 1-D weights for offsets -r..r.
// The 2-D kernel of a square neighbourhood is their outer product, and
// clamping acts on each axis independently, so two 1-D passes give the same
// result as the full 2-D sum.
func gaussianKernel(sigma int) []float64 {
	r := int(math.Ceil(2.57 * float64(sigma)))
	k := make([]float64, 2*r+1)
	s2 := 2 * float64(sigma*sigma)
	var sum float64
	for d := -r; d <= r; d++ {
		w := math.Exp(-float64(d*d) / s2)
		k[d+r] = w
		sum += w
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// blurColumn blurs col in place; tmp must hold one channel plane.
func blurColumn(col []float32, g Geometry, kernel []float64, tmp []float64) {
	r := len(kernel) / 2
	w, h := g.Width, g.Height
	plane := w * h
	for c := 0; c < g.Depth; c++ {
		p := col[c*plane : (c+1)*plane]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				var acc float64
				for d := -r; d <= r; d++ {
					acc += kernel[d+r] * float64(p[clamp(x+d, w)+y*w])
				}
				tmp[x+y*w] = acc
			}
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				var acc float64
				for d := -r; d <= r; d++ {
					acc += kernel[d+r] * tmp[x+clamp(y+d, h)*w]
				}
				p[x+y*w] = float32(acc)
			}
		}
	}
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
