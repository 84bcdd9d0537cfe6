// Package augment implements the training-time image augmentation pipeline:
// textual directives are parsed once into typed Directives and applied to
// every column of a dataset matrix.
//
// Resize directives always run first and change the geometry seen by the
// directives after them. Every other directive is applied to each sample
// independently with the engine's probability.
package augment

import (
	"math/rand"
	"runtime"
	"sync"

	"github.com/Noofbiz/modelzoo/tensor"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Engine applies an ordered list of directives. It holds no state that
// changes between calls, so one Engine can be shared.
type Engine struct {
	directives  []Directive
	probability float64
	seed        int64
	workers     int
}

// Option configures an Engine.
type Option func(*Engine)

// WithSeed sets the seed for the per-sample application draws.
func WithSeed(seed int64) Option {
	return func(e *Engine) { e.seed = seed }
}

// WithWorkers sets the number of goroutines transforming columns.
// Values <= 0 mean runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// New parses directives and returns an Engine that applies non-resize
// directives with the given probability.
func New(directives []string, probability float64, opts ...Option) (*Engine, error) {
	if probability < 0 || probability > 1 {
		return nil, errors.Errorf("augmentation probability %g outside [0, 1]", probability)
	}
	parsed, err := ParseAll(directives)
	if err != nil {
		return nil, err
	}
	e := &Engine{directives: parsed, probability: probability, seed: 1}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers <= 0 {
		e.workers = runtime.GOMAXPROCS(0)
	}
	return e, nil
}

// Directives returns the parsed directives in application order.
func (e *Engine) Directives() []Directive {
	return append([]Directive(nil), e.directives...)
}

// Probability is the per-sample chance of applying a non-resize directive.
func (e *Engine) Probability() float64 { return e.probability }

// Empty reports whether Transform has nothing to apply. Unrecognized
// directives are skipped and don't count.
func (e *Engine) Empty() bool {
	for _, d := range e.directives {
		if _, ok := d.(Unknown); !ok {
			return false
		}
	}
	return true
}

// Random reports whether any directive other than resize would run, that is
// whether TransformResized changes its input.
func (e *Engine) Random() bool {
	for _, d := range e.directives {
		switch d.(type) {
		case Resize, Unknown:
		default:
			return true
		}
	}
	return false
}

// ResizeTarget returns the output size of the last resize directive, which
// is the geometry every sample ends up with.
func (e *Engine) ResizeTarget() (Resize, bool) {
	var last Resize
	found := false
	for _, d := range e.directives {
		if r, ok := d.(Resize); ok {
			last, found = r, true
		}
	}
	return last, found
}

// ApplyResize runs only the resize directives. Loaders use it to bring
// images of different sizes to a common geometry before stacking them.
func (e *Engine) ApplyResize(ds *tensor.Matrix, g Geometry) (*tensor.Matrix, Geometry, error) {
	out := ds
	for _, d := range e.directives {
		r, ok := d.(Resize)
		if !ok {
			continue
		}
		var err error
		if out, g, err = ResizeTo(out, g, r.Width, r.Height); err != nil {
			return nil, g, errors.WithMessagef(err, "applying %s", r)
		}
	}
	return out, g, nil
}

// Mirror records whether a column ended up flipped along each axis. Two
// flips of the same axis cancel out.
type Mirror struct {
	Horizontal, Vertical bool
}

// Transform applies every directive to ds and returns the new matrix and
// its geometry. ds is not modified. The same input always gives the same
// output, since the application draws are re-seeded on each call.
func (e *Engine) Transform(ds *tensor.Matrix, g Geometry) (*tensor.Matrix, Geometry, error) {
	out, g, _, err := e.transform(ds, g, true)
	return out, g, err
}

// TransformResized applies every directive except resize to ds, which must
// already have the output geometry of ApplyResize. It also reports, per
// column, which flips were applied, so that annotations can follow them.
func (e *Engine) TransformResized(ds *tensor.Matrix, g Geometry) (*tensor.Matrix, []Mirror, error) {
	out, _, mirrors, err := e.transform(ds, g, false)
	return out, mirrors, err
}

func (e *Engine) transform(ds *tensor.Matrix, g Geometry, resize bool) (*tensor.Matrix, Geometry, []Mirror, error) {
	mirrors := make([]Mirror, ds.Cols())
	if e.Empty() || (!resize && !e.Random()) {
		e.warnUnknown()
		return ds, g, mirrors, nil
	}
	if err := g.Check(ds); err != nil {
		return nil, g, nil, err
	}
	out := ds.Clone()
	rng := rand.New(rand.NewSource(e.seed))
	for _, d := range e.directives {
		var err error
		switch d := d.(type) {
		case Resize:
			if resize {
				out, g, err = ResizeTo(out, g, d.Width, d.Height)
			}
		case GaussianBlur:
			if d.Sigma == 0 {
				continue
			}
			kernel := gaussianKernel(d.Sigma)
			plane := g.Width * g.Height
			geom := g
			e.forEachColumn(out, e.draw(rng, out.Cols()), func(col []float32, scratch *[]float64) {
				if len(*scratch) < plane {
					*scratch = make([]float64, plane)
				}
				blurColumn(col, geom, kernel, (*scratch)[:plane])
			})
		case HorizontalFlip, VerticalFlip:
			_, horizontal := d.(HorizontalFlip)
			geom := g
			apply := e.draw(rng, out.Cols())
			for j, ok := range apply {
				if !ok {
					continue
				}
				if horizontal {
					mirrors[j].Horizontal = !mirrors[j].Horizontal
				} else {
					mirrors[j].Vertical = !mirrors[j].Vertical
				}
			}
			e.forEachColumn(out, apply, func(col []float32, _ *[]float64) {
				flipColumn(col, geom, horizontal)
			})
		case Unknown:
			klog.Warningf("augment: skipping unrecognized directive %q", d.Raw)
		}
		if err != nil {
			return nil, g, nil, errors.WithMessagef(err, "applying %s", d)
		}
	}
	return out, g, mirrors, nil
}

func (e *Engine) warnUnknown() {
	for _, d := range e.directives {
		if u, ok := d.(Unknown); ok {
			klog.Warningf("augment: skipping unrecognized directive %q", u.Raw)
		}
	}
}

// draw decides, in column order, which samples a directive applies to.
func (e *Engine) draw(rng *rand.Rand, n int) []bool {
	apply := make([]bool, n)
	for j := range apply {
		apply[j] = e.probability >= 1 || rng.Float64() < e.probability
	}
	return apply
}

// forEachColumn runs fn on every selected column using a pool of workers.
// Each worker owns a scratch buffer that fn may grow.
func (e *Engine) forEachColumn(m *tensor.Matrix, apply []bool, fn func(col []float32, scratch *[]float64)) {
	jobs := make(chan int, len(apply))
	for j, ok := range apply {
		if ok {
			jobs <- j
		}
	}
	close(jobs)
	workers := min(e.workers, len(jobs))

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			var scratch []float64
			for j := range jobs {
				fn(m.Col(j), &scratch)
			}
		}()
	}
	wg.Wait()
}
