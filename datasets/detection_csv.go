package datasets

import (
	"os"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
)

// detectionCSVColumns are the header names LoadObjectDetectionCSV looks for,
// with accepted alternatives.
var detectionCSVColumns = [][]string{
	{"filename", "file", "image", "image_id"},
	{"class", "label", "name"},
	{"xmin", "x1"},
	{"ymin", "y1"},
	{"xmax", "x2"},
	{"ymax", "y2"},
}

// findDetectionColumns maps each required column to its position in header.
func findDetectionColumns(header []string) ([]int, error) {
	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[strings.TrimSpace(strings.ToLower(col))] = i
	}
	idx := make([]int, len(detectionCSVColumns))
	for k, names := range detectionCSVColumns {
		idx[k] = -1
		for _, name := range names {
			if i, ok := colIndex[name]; ok {
				idx[k] = i
				break
			}
		}
		if idx[k] == -1 {
			return nil, errors.Errorf("column %q not found in header %v", names[0], header)
		}
	}
	return idx, nil
}

// readDetectionCSV groups the rows of a one-object-per-row CSV by image, in
// order of first appearance. Images keep their decoded size.
func readDetectionCSV(path string, classes map[string]int, depth int) ([]detectionSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", path)
	}
	defer f.Close()
	df := dataframe.ReadCSV(f,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String))
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "parsing %q", path)
	}
	idx, err := findDetectionColumns(df.Names())
	if err != nil {
		return nil, errors.WithMessagef(err, "%q", path)
	}
	cols := make([][]string, len(idx))
	for k, i := range idx {
		cols[k] = df.Col(df.Names()[i]).Records()
	}

	byImage := make(map[string]int)
	var samples []detectionSample
	for r := 0; r < df.Nrow(); r++ {
		name := strings.TrimSpace(cols[0][r])
		at, seen := byImage[name]
		if !seen {
			at = len(samples)
			byImage[name] = at
			samples = append(samples, detectionSample{source: path, image: name, depth: depth})
		}
		label, ok := classes[strings.TrimSpace(cols[1][r])]
		if !ok {
			continue
		}
		b := Box{Class: label}
		for k, v := range []*float32{&b.X1, &b.Y1, &b.X2, &b.Y2} {
			if *v, err = parseFloat32(cols[k+2][r]); err != nil {
				return nil, errors.Wrapf(err, "%q: row %d %s", path, r+2, detectionCSVColumns[k+2][0])
			}
		}
		samples[at].boxes = append(samples[at].boxes, b)
	}
	return samples, nil
}

// LoadObjectDetectionCSV is LoadObjectDetection for annotations kept in a
// single CSV with columns filename, class, xmin, ymin, xmax and ymax, one
// object per row. p.AnnotationsDir, p.Extension and p.Tags are ignored.
func (l *Loader) LoadObjectDetectionCSV(csvPath string, p DetectionParams) error {
	p = p.withDefaults()
	samples, err := readDetectionCSV(csvPath, p.classIndex(), p.Depth)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return errors.Errorf("%q has no annotation rows", csvPath)
	}
	return l.loadDetections(samples, p)
}
