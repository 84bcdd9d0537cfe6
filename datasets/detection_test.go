package datasets

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testClasses = []string{"cat", "dog"}

// detectionFixture writes three annotations: two images with objects and a
// third whose image is missing.
func detectionFixture(t *testing.T) (annotations, images string) {
	t.Helper()
	root := t.TempDir()
	annotations, images = filepath.Join(root, "Annotations"), filepath.Join(root, "JPEGImages")
	writePNG(t, filepath.Join(images, "a.png"), 8, 6, color.NRGBA{R: 255, A: 255})
	writePNG(t, filepath.Join(images, "b.png"), 8, 6, color.NRGBA{G: 255, A: 255})
	writeVOC(t, filepath.Join(annotations, "a.xml"), "a.png", 8, 6, 3,
		testObject{"cat", 2, 2, 6, 4},
		testObject{"dog", 0, 0, 4, 4})
	writeVOC(t, filepath.Join(annotations, "b.xml"), "b.png", 8, 6, 3,
		testObject{"bird", 1, 1, 2, 2},
		testObject{"dog", 4, 2, 8, 6})
	writeVOC(t, filepath.Join(annotations, "c.xml"), "c.png", 8, 6, 3,
		testObject{"cat", 1, 1, 2, 2})
	require.NoError(t, os.WriteFile(filepath.Join(annotations, "README.txt"), []byte("ignored"), 0o644))
	return annotations, images
}

func TestLoadObjectDetection(t *testing.T) {
	annotations, images := detectionFixture(t)
	l := newTestLoader(t, func(cfg *Config) { cfg.UseScaler = false })
	require.NoError(t, l.LoadObjectDetection(DetectionParams{
		AnnotationsDir: annotations,
		ImagesDir:      images,
		Classes:        testClasses,
	}))

	// c.png is missing and skipped; the bird is dropped.
	features, labels := l.TestFeatures(), l.TestAnnotations()
	require.Equal(t, 2, features.Cols())
	require.Len(t, labels, 2)
	assert.Equal(t, 8*6*3, features.Rows())
	assert.Equal(t, Annotation{0, 2, 2, 6, 4, 1, 0, 0, 4, 4}, labels[0])
	assert.Equal(t, Annotation{1, 4, 2, 8, 6}, labels[1])
	assert.Equal(t, 8, l.Geometry().Width)

	// a.png is red: the first plane is 255 and the others are 0.
	col := features.Col(0)
	assert.Equal(t, float32(255), col[0])
	assert.Equal(t, float32(0), col[8*6])
	col = features.Col(1)
	assert.Equal(t, float32(0), col[0])
	assert.Equal(t, float32(255), col[8*6])
}

func TestLoadObjectDetectionPerObjectColumns(t *testing.T) {
	annotations, images := detectionFixture(t)
	l := newTestLoader(t, func(cfg *Config) { cfg.UseScaler = false })
	require.NoError(t, l.LoadObjectDetection(DetectionParams{
		AnnotationsDir:   annotations,
		ImagesDir:        images,
		Classes:          testClasses,
		PerObjectColumns: true,
	}))
	require.Equal(t, 3, l.TestFeatures().Cols())
	require.Len(t, l.TestAnnotations(), 3)
	for _, a := range l.TestAnnotations() {
		assert.Equal(t, 1, a.Boxes())
	}
	assert.Equal(t, l.TestFeatures().Col(0), l.TestFeatures().Col(1))
}

func TestLoadObjectDetectionTrainKeepsParity(t *testing.T) {
	annotations, images := detectionFixture(t)
	l := newTestLoader(t, func(cfg *Config) {
		cfg.TrainRatio = 0.5
		cfg.Shuffle = false
	})
	require.NoError(t, l.LoadObjectDetection(DetectionParams{
		AnnotationsDir:   annotations,
		ImagesDir:        images,
		Classes:          testClasses,
		PerObjectColumns: true,
		Train:            true,
	}))
	assert.Equal(t, l.TrainFeatures().Cols(), len(l.TrainAnnotations()))
	assert.Equal(t, l.ValidFeatures().Cols(), len(l.ValidAnnotations()))
	assert.Equal(t, 3, len(l.TrainAnnotations())+len(l.ValidAnnotations()))
	assert.Equal(t, Annotation{1, 4, 2, 8, 6}, l.ValidAnnotations()[0])
}

func TestLoadObjectDetectionResizesBoxes(t *testing.T) {
	annotations, images := detectionFixture(t)
	l := newTestLoader(t, func(cfg *Config) {
		cfg.UseScaler = false
		cfg.Augmentation = []string{"resize(4, 3)"}
	})
	require.NoError(t, l.LoadObjectDetection(DetectionParams{
		AnnotationsDir: annotations,
		ImagesDir:      images,
		Classes:        testClasses,
	}))
	assert.Equal(t, 4*3*3, l.TestFeatures().Rows())
	assert.Equal(t, Annotation{0, 1, 1, 3, 2, 1, 0, 0, 2, 2}, l.TestAnnotations()[0])
}

func TestLoadObjectDetectionFlipMovesBoxes(t *testing.T) {
	root := t.TempDir()
	annotations, images := filepath.Join(root, "ann"), filepath.Join(root, "img")
	writeStripePNG(t, filepath.Join(images, "s.png"), 8, 4, 2, color.NRGBA{R: 255, A: 255})
	writeVOC(t, filepath.Join(annotations, "s.xml"), "s.png", 8, 4, 3, testObject{"cat", 0, 0, 2, 4})
	l := newTestLoader(t, func(cfg *Config) {
		cfg.UseScaler = false
		cfg.TrainRatio = 1
		cfg.Augmentation = []string{"horizontal-flip"}
		cfg.AugmentationProbability = 1
	})
	require.NoError(t, l.LoadObjectDetection(DetectionParams{
		AnnotationsDir: annotations,
		ImagesDir:      images,
		Classes:        testClasses,
		Train:          true,
	}))
	col := l.TrainFeatures().Col(0)
	assert.Equal(t, float32(0), col[0])
	assert.Equal(t, float32(255), col[7])
	assert.Equal(t, float32(255), col[6])
	require.Len(t, l.TrainAnnotations(), 1)
	assert.Equal(t, Annotation{0, 6, 0, 8, 4}, l.TrainAnnotations()[0])
}

func TestLoadObjectDetectionResizesOnce(t *testing.T) {
	annotations, images := detectionFixture(t)
	edit := func(cfg *Config) {
		cfg.UseScaler = false
		cfg.Shuffle = false
		cfg.TrainRatio = 0.5
		cfg.Augmentation = []string{"resize(16, 16)", "resize(4, 3)"}
	}
	p := DetectionParams{AnnotationsDir: annotations, ImagesDir: images, Classes: testClasses}

	test := newTestLoader(t, edit)
	require.NoError(t, test.LoadObjectDetection(p))

	train := newTestLoader(t, edit)
	p.Train = true
	require.NoError(t, train.LoadObjectDetection(p))

	// a.png goes to training, b.png to validation; both match the test load.
	assert.Equal(t, test.TestFeatures().Col(0), train.TrainFeatures().Col(0))
	assert.Equal(t, test.TestFeatures().Col(1), train.ValidFeatures().Col(0))
	assert.Equal(t, test.TestAnnotations()[0], train.TrainAnnotations()[0])
}

func TestAnnotationMirror(t *testing.T) {
	a := Annotation{0, 1, 2, 3, 5, 1, 0, 0, 8, 6}
	assert.Equal(t, Annotation{0, 5, 2, 7, 5, 1, 0, 0, 8, 6}, a.Mirror(8, 6, true, false))
	assert.Equal(t, Annotation{0, 1, 1, 3, 4, 1, 0, 0, 8, 6}, a.Mirror(8, 6, false, true))
	assert.Equal(t, Annotation{0, 5, 1, 7, 4, 1, 0, 0, 8, 6}, a.Mirror(8, 6, true, true))
	assert.Empty(t, Annotation(nil).Mirror(8, 6, true, true))
}

func TestLoadObjectDetectionSizeMismatch(t *testing.T) {
	annotations, images := detectionFixture(t)
	writePNG(t, filepath.Join(images, "b.png"), 5, 5, color.NRGBA{A: 255})
	writeVOC(t, filepath.Join(annotations, "b.xml"), "b.png", 5, 5, 3, testObject{"dog", 0, 0, 2, 2})
	l := newTestLoader(t, func(cfg *Config) { cfg.UseScaler = false })
	err := l.LoadObjectDetection(DetectionParams{AnnotationsDir: annotations, ImagesDir: images, Classes: testClasses})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resize")
}

func TestLoadObjectDetectionCustomTags(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "img", "x.png"), 4, 4, color.NRGBA{B: 255, A: 255})
	xml := `<label><file>x.png</file><thing><class>dog</class><box><left>1</left><top>1</top><right>3</right><bottom>2</bottom></box></thing></label>`
	require.NoError(t, os.MkdirAll(filepath.Join(root, "ann"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ann", "x.ann"), []byte(xml), 0o644))

	l := newTestLoader(t, func(cfg *Config) { cfg.UseScaler = false })
	require.NoError(t, l.LoadObjectDetection(DetectionParams{
		AnnotationsDir: filepath.Join(root, "ann"),
		ImagesDir:      filepath.Join(root, "img"),
		Classes:        testClasses,
		Extension:      ".ann",
		Depth:          1,
		Tags: XMLTags{
			Annotation: "label", Filename: "file", Object: "thing", Name: "class",
			BoundBox: "box", XMin: "left", YMin: "top", XMax: "right", YMax: "bottom",
		},
	}))
	assert.Equal(t, 16, l.TestFeatures().Rows())
	assert.Equal(t, Annotation{1, 1, 1, 3, 2}, l.TestAnnotations()[0])
}

func TestLoadObjectDetectionBadRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.xml"), []byte("<other/>"), 0o644))
	l := newTestLoader(t, nil)
	err := l.LoadObjectDetection(DetectionParams{AnnotationsDir: root, ImagesDir: root, Classes: testClasses})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "<annotation>")
}

func TestLoadObjectDetectionCSV(t *testing.T) {
	_, images := detectionFixture(t)
	path := filepath.Join(t.TempDir(), "boxes.csv")
	writeCSV(t, path, "filename,class,xmin,ymin,xmax,ymax", []string{
		"b.png,dog,4,2,8,6",
		"a.png,cat,2,2,6,4",
		"b.png,bird,1,1,2,2",
		"a.png,dog,0,0,4,4",
	})
	l := newTestLoader(t, func(cfg *Config) { cfg.UseScaler = false })
	require.NoError(t, l.LoadObjectDetectionCSV(path, DetectionParams{ImagesDir: images, Classes: testClasses}))
	require.Len(t, l.TestAnnotations(), 2)
	// Images keep their first-appearance order.
	assert.Equal(t, Annotation{1, 4, 2, 8, 6}, l.TestAnnotations()[0])
	assert.Equal(t, Annotation{0, 2, 2, 6, 4, 1, 0, 0, 4, 4}, l.TestAnnotations()[1])
}

func TestLoadObjectDetectionCSVMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boxes.csv")
	writeCSV(t, path, "filename,class,xmin,ymin,xmax", []string{"a.png,cat,1,1,2"})
	l := newTestLoader(t, nil)
	err := l.LoadObjectDetectionCSV(path, DetectionParams{ImagesDir: t.TempDir(), Classes: testClasses})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ymax")
}

func TestAnnotationHelpers(t *testing.T) {
	a := Annotation(nil).Append(Box{Class: 1, X1: 1, Y1: 2, X2: 3, Y2: 4}).Append(Box{Class: 0})
	require.NoError(t, a.Validate())
	assert.Equal(t, 2, a.Boxes())
	assert.Equal(t, Box{Class: 1, X1: 1, Y1: 2, X2: 3, Y2: 4}, a.Box(0))
	assert.Error(t, Annotation{1, 2}.Validate())

	as := Annotations{a, Annotation{1, 0, 0, 1, 1}}
	assert.Equal(t, []int{1, 2}, as.ClassCounts(2))
	assert.Equal(t, Annotations{as[1]}, as.Select([]int{1}))
	assert.Len(t, as.Floats(), 2)
}
