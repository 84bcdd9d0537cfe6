package yolo

import (
	"math"

	"github.com/Noofbiz/modelzoo/tensor"
	"github.com/pkg/errors"
)

// Loss is the YOLO detection loss over encoded grid targets: coordinate
// MSE on centres, MSE on the square roots of width and height, an
// IoU-weighted objectness term, and class MSE for occupied cells.
type Loss struct {
	Config
	LambdaCoordinates float64
	LambdaObjectness  float64
}

// NewLoss returns a Loss for cfg with the usual weights 5 and 0.5.
func NewLoss(cfg Config) *Loss {
	return &Loss{Config: cfg, LambdaCoordinates: 5, LambdaObjectness: 0.5}
}

func (l *Loss) check(input, target *tensor.Matrix) error {
	if err := l.Config.Validate(); err != nil {
		return err
	}
	if input.Rows() != l.Rows() || target.Rows() != l.Rows() || input.Cols() != target.Cols() {
		return errors.Wrapf(tensor.ErrShape, "yolo loss: input %dx%d and target %dx%d, want %d rows",
			input.Rows(), input.Cols(), target.Rows(), target.Cols(), l.Rows())
	}
	if input.Cols() == 0 {
		return errors.New("yolo loss: no samples")
	}
	return nil
}

// Forward returns the loss summed over every cell and averaged over columns.
func (l *Loss) Forward(input, target *tensor.Matrix) (float64, error) {
	if err := l.check(input, target); err != nil {
		return 0, err
	}
	p := l.NumPredictions()
	var total float64
	for j := 0; j < input.Cols(); j++ {
		in := input.Volume(j, l.GridWidth, l.GridHeight, p)
		tg := target.Volume(j, l.GridWidth, l.GridHeight, p)
		for gx := 0; gx < l.GridWidth; gx++ {
			for gy := 0; gy < l.GridHeight; gy++ {
				for s := 0; s < l.NumBoxes; s++ {
					o := l.slotOffset(s)
					obj := float64(tg.At(gx, gy, o+4))
					pb, tb := box(in, gx, gy, o), box(tg, gx, gy, o)

					total += l.LambdaCoordinates * obj * (sq(pb[0]-tb[0]) + sq(pb[1]-tb[1]))
					total += l.LambdaCoordinates * obj * (sq(sqrt0(pb[2])-sqrt0(tb[2])) + sq(sqrt0(pb[3])-sqrt0(tb[3])))

					c := float64(in.At(gx, gy, o+4))
					total += obj*sq(IoU(pb, tb)-obj) + l.LambdaObjectness*(1-c)*sq(c-obj)

					if l.Version > 1 {
						total += obj * l.classError(in, tg, gx, gy, l.classOffset(s))
					}
				}
				if l.Version == 1 {
					obj := float64(tg.At(gx, gy, 4))
					total += obj * l.classError(in, tg, gx, gy, l.classOffset(0))
				}
			}
		}
	}
	return total / float64(input.Cols()), nil
}

// Backward returns dLoss/dInput. The IoU factor of the objectness term is
// treated as a constant.
func (l *Loss) Backward(input, target *tensor.Matrix) (*tensor.Matrix, error) {
	if err := l.check(input, target); err != nil {
		return nil, err
	}
	p := l.NumPredictions()
	n := float64(input.Cols())
	grad := tensor.New(input.Rows(), input.Cols())
	for j := 0; j < input.Cols(); j++ {
		in := input.Volume(j, l.GridWidth, l.GridHeight, p)
		tg := target.Volume(j, l.GridWidth, l.GridHeight, p)
		gr := grad.Volume(j, l.GridWidth, l.GridHeight, p)
		for gx := 0; gx < l.GridWidth; gx++ {
			for gy := 0; gy < l.GridHeight; gy++ {
				for s := 0; s < l.NumBoxes; s++ {
					o := l.slotOffset(s)
					obj := float64(tg.At(gx, gy, o+4))
					for k := 0; k < 2; k++ {
						d := float64(in.At(gx, gy, o+k) - tg.At(gx, gy, o+k))
						gr.Set(gx, gy, o+k, float32(2*l.LambdaCoordinates*obj*d/n))
					}
					for k := 2; k < 4; k++ {
						pv := float64(in.At(gx, gy, o+k))
						if pv <= 0 {
							continue
						}
						d := math.Sqrt(pv) - sqrt0(float64(tg.At(gx, gy, o+k)))
						gr.Set(gx, gy, o+k, float32(l.LambdaCoordinates*obj*d/math.Sqrt(pv)/n))
					}
					c := float64(in.At(gx, gy, o+4))
					g := l.LambdaObjectness * (2*(1-c)*(c-obj) - sq(c-obj))
					gr.Set(gx, gy, o+4, float32(g/n))

					if l.Version > 1 {
						l.classGradient(in, tg, gr, gx, gy, l.classOffset(s), obj/n)
					}
				}
				if l.Version == 1 {
					l.classGradient(in, tg, gr, gx, gy, l.classOffset(0), float64(tg.At(gx, gy, 4))/n)
				}
			}
		}
	}
	return grad, nil
}

func (l *Loss) classError(in, tg tensor.Volume, gx, gy, offset int) float64 {
	var e float64
	for c := 0; c < l.NumClasses; c++ {
		e += sq(float64(in.At(gx, gy, offset+c) - tg.At(gx, gy, offset+c)))
	}
	return e
}

func (l *Loss) classGradient(in, tg, gr tensor.Volume, gx, gy, offset int, weight float64) {
	for c := 0; c < l.NumClasses; c++ {
		d := float64(in.At(gx, gy, offset+c) - tg.At(gx, gy, offset+c))
		gr.Set(gx, gy, offset+c, float32(2*weight*d))
	}
}

func box(v tensor.Volume, gx, gy, offset int) [4]float64 {
	return [4]float64{
		float64(v.At(gx, gy, offset)),
		float64(v.At(gx, gy, offset+1)),
		float64(v.At(gx, gy, offset+2)),
		float64(v.At(gx, gy, offset+3)),
	}
}

// IoU is the intersection over union of two (x, y, w, h) boxes, counting
// pixels inclusively: a box spans w+1 units along x.
func IoU(a, b [4]float64) float64 {
	iw := math.Min(a[0]+a[2], b[0]+b[2]) - math.Max(a[0], b[0]) + 1
	ih := math.Min(a[1]+a[3], b[1]+b[3]) - math.Max(a[1], b[1]) + 1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := (a[2]+1)*(a[3]+1) + (b[2]+1)*(b[3]+1) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func sq(x float64) float64 { return x * x }

// sqrt0 is the square root with negative predictions clamped to 0.
func sqrt0(x float64) float64 { return math.Sqrt(math.Max(x, 0)) }
