package datasets

import (
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Noofbiz/modelzoo/augment"
	"github.com/Noofbiz/modelzoo/tensor"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	// Extra decoders for image.Decode, on top of png, jpeg, gif, bmp and
	// tiff that imaging pulls in.
	_ "golang.org/x/image/webp"
)

// ImageExtensions are the file suffixes treated as images.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp"}

func isImage(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ImageColumn flattens img into a planar column of depth channels with values
// in 0..255: depth 1 is luminance, 3 is RGB and 4 is RGBA.
func ImageColumn(img image.Image, depth int) ([]float32, augment.Geometry, error) {
	var src *image.NRGBA
	switch depth {
	case 1:
		src = imaging.Grayscale(img)
	case 3, 4:
		src = imaging.Clone(img)
	default:
		return nil, augment.Geometry{}, errors.Errorf("images must have depth 1, 3 or 4, got %d", depth)
	}
	b := src.Bounds()
	g := augment.Geometry{Width: b.Dx(), Height: b.Dy(), Depth: depth}
	col := make([]float32, g.Size())
	plane := g.Width * g.Height
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			px := src.Pix[src.PixOffset(b.Min.X+x, b.Min.Y+y):]
			for c := 0; c < depth; c++ {
				col[c*plane+x+y*g.Width] = float32(px[c])
			}
		}
	}
	return col, g, nil
}

// ReadImage decodes the image at path into a planar column. When size is
// set and differs from the decoded size, the image is first resized to it.
func ReadImage(path string, depth int, size image.Point) ([]float32, augment.Geometry, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, augment.Geometry{}, errors.Wrapf(err, "decoding %q", path)
	}
	if size != (image.Point{}) && img.Bounds().Size() != size {
		klog.Warningf("%s: image is %v, annotation declares %v; resizing", path, img.Bounds().Size(), size)
		img = imaging.Resize(img, size.X, size.Y, imaging.Linear)
	}
	col, g, err := ImageColumn(img, depth)
	if err != nil {
		return nil, g, errors.WithMessage(err, path)
	}
	return col, g, nil
}

// resizeImage brings one image column to the loader's target size: through
// the resize directives if any, else to Config.ImageGeometry if set. It
// returns the column unchanged when there is no target.
func (l *Loader) resizeImage(col []float32, g augment.Geometry) ([]float32, augment.Geometry, error) {
	m, err := tensor.FromData(len(col), 1, col)
	if err != nil {
		return nil, g, err
	}
	if _, ok := l.augmenter.ResizeTarget(); ok {
		out, outG, err := l.augmenter.ApplyResize(m, g)
		if err != nil {
			return nil, g, err
		}
		return out.Col(0), outG, nil
	}
	w, h := l.cfg.ImageGeometry.Width, l.cfg.ImageGeometry.Height
	if w == 0 || h == 0 || (w == g.Width && h == g.Height) {
		return col, g, nil
	}
	out, outG, err := augment.ResizeTo(m, g, w, h)
	if err != nil {
		return nil, g, err
	}
	return out.Col(0), outG, nil
}

// stack appends col to m, requiring every image to share one geometry.
func stack(m *tensor.Matrix, col []float32, g augment.Geometry, common *augment.Geometry, path string) error {
	if common.IsZero() {
		*common = g
	} else if *common != g {
		return errors.Errorf("%s is %dx%dx%d but earlier images are %dx%dx%d; add a resize directive",
			path, g.Width, g.Height, g.Depth, common.Width, common.Height, common.Depth)
	}
	return m.AppendCol(col)
}

// ImageDirParams configures LoadImageDirectory and LoadAllImages.
type ImageDirParams struct {
	Train bool
	// Depth is 1 (gray), 3 (RGB, the default) or 4 (RGBA).
	Depth int
}

// LoadImageDirectory loads a directory with one subfolder per class. The
// label of an image is the index of its subfolder in sorted order. Images are
// resized to the resize directive (or Config.ImageGeometry) size.
func (l *Loader) LoadImageDirectory(dir string, p ImageDirParams) (classes []string, err error) {
	if p.Depth == 0 {
		p.Depth = 3
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %q", dir)
	}
	for _, e := range entries {
		if e.IsDir() {
			classes = append(classes, e.Name())
		}
	}
	sort.Strings(classes)

	features := tensor.New(0, 0)
	var labels []float32
	var g augment.Geometry
	for label, class := range classes {
		paths, err := listImages(filepath.Join(dir, class))
		if err != nil {
			return nil, err
		}
		for _, path := range paths {
			col, ig, err := l.readAndResize(path, p.Depth, image.Point{})
			if err != nil {
				return nil, err
			}
			if err := stack(features, col, ig, &g, path); err != nil {
				return nil, err
			}
			labels = append(labels, float32(label))
		}
	}
	if features.Cols() == 0 {
		return nil, errors.Errorf("no images found under %q", dir)
	}
	klog.V(1).Infof("loaded %d images of %d classes from %q", features.Cols(), len(classes), dir)
	labelRow, err := tensor.FromData(1, len(labels), labels)
	if err != nil {
		return nil, err
	}
	return classes, catch(func() error {
		if p.Train {
			return l.loadTrainImages(features, labelRow, g)
		}
		return l.loadTestImages(features, labelRow, g)
	})
}

// LoadAllImages loads every image directly inside dir, in name order, into
// the test partition without labels. Use it to prepare data for prediction.
func (l *Loader) LoadAllImages(dir string, p ImageDirParams) ([]string, error) {
	if p.Depth == 0 {
		p.Depth = 3
	}
	paths, err := listImages(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no images found in %q", dir)
	}
	features := tensor.New(0, 0)
	var g augment.Geometry
	for _, path := range paths {
		col, ig, err := l.readAndResize(path, p.Depth, image.Point{})
		if err != nil {
			return nil, err
		}
		if err := stack(features, col, ig, &g, path); err != nil {
			return nil, err
		}
	}
	return paths, catch(func() error {
		return l.loadTestImages(features, tensor.New(0, features.Cols()), g)
	})
}

func (l *Loader) readAndResize(path string, depth int, declared image.Point) ([]float32, augment.Geometry, error) {
	col, g, err := ReadImage(path, depth, declared)
	if err != nil {
		return nil, g, err
	}
	return l.resizeImage(col, g)
}

func (l *Loader) loadTrainImages(features, labels *tensor.Matrix, g augment.Geometry) error {
	trainIdx, validIdx, err := l.split(features.Cols())
	if err != nil {
		return err
	}
	trainX, others, err := l.scale(features.SelectCols(trainIdx), features.SelectCols(validIdx))
	if err != nil {
		return err
	}
	trainX, _, err = l.augmentTrain(trainX, g)
	if err != nil {
		return err
	}
	l.trainFeatures, l.trainLabels = trainX, labels.SelectCols(trainIdx)
	l.validFeatures, l.validLabels = others[0], labels.SelectCols(validIdx)
	l.trainAnnotations, l.validAnnotations = nil, nil
	l.geometry = g
	return nil
}

func (l *Loader) loadTestImages(features, labels *tensor.Matrix, g augment.Geometry) error {
	x, err := l.scaleTest(features)
	if err != nil {
		return err
	}
	l.testFeatures, l.testLabels = x, labels
	l.testAnnotations = nil
	l.geometry = g
	return nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %q", dir)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && isImage(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// ChannelFirst converts columns stored pixel by pixel (RGBRGB...) into the
// planar layout used here (RR..GG..BB..). With normalize, values are divided
// by 255.
func ChannelFirst(m *tensor.Matrix, g augment.Geometry, normalize bool) (*tensor.Matrix, error) {
	if err := g.Check(m); err != nil {
		return nil, err
	}
	out := tensor.New(m.Rows(), m.Cols())
	plane := g.Width * g.Height
	for j := 0; j < m.Cols(); j++ {
		src, dst := m.Col(j), out.Col(j)
		for p := 0; p < plane; p++ {
			for c := 0; c < g.Depth; c++ {
				v := src[p*g.Depth+c]
				if normalize {
					v /= 255
				}
				dst[c*plane+p] = v
			}
		}
	}
	return out, nil
}
