package datasets

import (
	"encoding/xml"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Noofbiz/modelzoo/augment"
	"github.com/Noofbiz/modelzoo/tensor"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// XMLTags names the elements of a detection annotation file. The defaults
// follow the PASCAL VOC layout.
type XMLTags struct {
	Annotation string `yaml:"annotation"`
	Filename   string `yaml:"filename"`
	Size       string `yaml:"size"`
	Width      string `yaml:"width"`
	Height     string `yaml:"height"`
	Depth      string `yaml:"depth"`
	Object     string `yaml:"object"`
	Name       string `yaml:"name"`
	BoundBox   string `yaml:"bndbox"`
	XMin       string `yaml:"xmin"`
	YMin       string `yaml:"ymin"`
	XMax       string `yaml:"xmax"`
	YMax       string `yaml:"ymax"`
}

// DefaultXMLTags returns the PASCAL VOC tag names.
func DefaultXMLTags() XMLTags {
	return XMLTags{
		Annotation: "annotation",
		Filename:   "filename",
		Size:       "size",
		Width:      "width",
		Height:     "height",
		Depth:      "depth",
		Object:     "object",
		Name:       "name",
		BoundBox:   "bndbox",
		XMin:       "xmin",
		YMin:       "ymin",
		XMax:       "xmax",
		YMax:       "ymax",
	}
}

// withDefaults fills empty tag names.
func (t XMLTags) withDefaults() XMLTags {
	def := DefaultXMLTags()
	for _, f := range []struct{ v, d *string }{
		{&t.Annotation, &def.Annotation}, {&t.Filename, &def.Filename},
		{&t.Size, &def.Size}, {&t.Width, &def.Width}, {&t.Height, &def.Height},
		{&t.Depth, &def.Depth}, {&t.Object, &def.Object}, {&t.Name, &def.Name},
		{&t.BoundBox, &def.BoundBox}, {&t.XMin, &def.XMin}, {&t.YMin, &def.YMin},
		{&t.XMax, &def.XMax}, {&t.YMax, &def.YMax},
	} {
		if *f.v == "" {
			*f.v = *f.d
		}
	}
	return t
}

// DetectionParams configures LoadObjectDetection and LoadObjectDetectionCSV.
type DetectionParams struct {
	AnnotationsDir string
	ImagesDir      string
	// Classes lists the class names; the label of a box is its index here.
	// Objects of other classes are dropped.
	Classes []string
	// Extension of the annotation files, ".xml" by default.
	Extension string
	Tags      XMLTags
	// Depth is used when the annotation doesn't declare one. Default 3.
	Depth int
	// PerObjectColumns emits one feature column per object instead of one
	// per image, each paired with a single box.
	PerObjectColumns bool
	Train            bool
}

func (p DetectionParams) withDefaults() DetectionParams {
	if p.Extension == "" {
		p.Extension = ".xml"
	}
	if p.Depth == 0 {
		p.Depth = 3
	}
	p.Tags = p.Tags.withDefaults()
	return p
}

func (p DetectionParams) classIndex() map[string]int {
	idx := make(map[string]int, len(p.Classes))
	for i, c := range p.Classes {
		idx[c] = i
	}
	return idx
}

// detectionSample is one image with its kept boxes, in pixels of the
// declared size.
type detectionSample struct {
	source   string
	image    string
	declared image.Point
	depth    int
	boxes    []Box
}

// xmlNode is a generic element, so tag names need not be known at compile
// time.
type xmlNode struct {
	XMLName xml.Name
	Content string    `xml:",chardata"`
	Nodes   []xmlNode `xml:",any"`
}

func (n *xmlNode) child(tag string) *xmlNode {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == tag {
			return &n.Nodes[i]
		}
	}
	return nil
}

func (n *xmlNode) children(tag string) []*xmlNode {
	var out []*xmlNode
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == tag {
			out = append(out, &n.Nodes[i])
		}
	}
	return out
}

func (n *xmlNode) text(tag string) string {
	if c := n.child(tag); c != nil {
		return strings.TrimSpace(c.Content)
	}
	return ""
}

func (n *xmlNode) number(tag string) (float32, error) {
	v, err := parseFloat32(n.text(tag))
	if err != nil {
		return 0, errors.Wrapf(err, "<%s>", tag)
	}
	return v, nil
}

// parseAnnotation reads one XML annotation file.
func parseAnnotation(path string, tags XMLTags, classes map[string]int, depth int) (detectionSample, error) {
	s := detectionSample{source: path, depth: depth}
	data, err := os.ReadFile(path)
	if err != nil {
		return s, errors.Wrapf(err, "reading %q", path)
	}
	var root xmlNode
	if err := xml.Unmarshal(data, &root); err != nil {
		return s, errors.Wrapf(err, "parsing %q", path)
	}
	if root.XMLName.Local != tags.Annotation {
		return s, errors.Errorf("%q: root element is <%s>, want <%s>", path, root.XMLName.Local, tags.Annotation)
	}
	if s.image = root.text(tags.Filename); s.image == "" {
		return s, errors.Errorf("%q: missing <%s>", path, tags.Filename)
	}
	if size := root.child(tags.Size); size != nil {
		w, _ := strconv.Atoi(size.text(tags.Width))
		h, _ := strconv.Atoi(size.text(tags.Height))
		if w > 0 && h > 0 {
			s.declared = image.Point{X: w, Y: h}
		}
		switch d, _ := strconv.Atoi(size.text(tags.Depth)); d {
		case 1, 3, 4:
			s.depth = d
		}
	}
	for _, obj := range root.children(tags.Object) {
		label, ok := classes[obj.text(tags.Name)]
		if !ok {
			continue
		}
		bb := obj.child(tags.BoundBox)
		if bb == nil {
			return s, errors.Errorf("%q: object %q has no <%s>", path, obj.text(tags.Name), tags.BoundBox)
		}
		b := Box{Class: label}
		for _, c := range []struct {
			tag string
			v   *float32
		}{{tags.XMin, &b.X1}, {tags.YMin, &b.Y1}, {tags.XMax, &b.X2}, {tags.YMax, &b.Y2}} {
			if *c.v, err = bb.number(c.tag); err != nil {
				return s, errors.WithMessagef(err, "%q", path)
			}
		}
		s.boxes = append(s.boxes, b)
	}
	return s, nil
}

// LoadObjectDetection reads every annotation file in p.AnnotationsDir, loads
// the image each one names from p.ImagesDir and fills the train and
// validation partitions (p.Train) or the test partition. Feature columns and
// annotation records stay paired through the split.
func (l *Loader) LoadObjectDetection(p DetectionParams) error {
	p = p.withDefaults()
	entries, err := os.ReadDir(p.AnnotationsDir)
	if err != nil {
		return errors.Wrapf(err, "listing %q", p.AnnotationsDir)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), p.Extension) {
			files = append(files, filepath.Join(p.AnnotationsDir, e.Name()))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return errors.Errorf("no %s annotation files in %q", p.Extension, p.AnnotationsDir)
	}

	classes := p.classIndex()
	samples := make([]detectionSample, 0, len(files))
	for _, f := range files {
		s, err := parseAnnotation(f, p.Tags, classes, p.Depth)
		if err != nil {
			return err
		}
		samples = append(samples, s)
	}
	return l.loadDetections(samples, p)
}

// detectionSet accumulates feature columns and their annotation records.
type detectionSet struct {
	features *tensor.Matrix
	labels   Annotations
	geometry augment.Geometry
}

func (l *Loader) loadDetections(samples []detectionSample, p DetectionParams) error {
	set := &detectionSet{features: tensor.New(0, 0)}
	skipped := 0
	for _, s := range samples {
		path := filepath.Join(p.ImagesDir, s.image)
		exists, err := FileExists(path)
		if err != nil {
			return err
		}
		if !exists {
			klog.Warningf("%s: image %q not found, skipping", s.source, path)
			skipped++
			continue
		}
		if err := l.addDetection(set, path, s, p.PerObjectColumns); err != nil {
			return err
		}
	}
	if set.features.Cols() == 0 {
		return errors.Errorf("no images loaded from %q (%d annotations, %d skipped)", p.ImagesDir, len(samples), skipped)
	}
	klog.V(1).Infof("loaded %d detection columns from %d images (%d skipped)",
		set.features.Cols(), len(samples)-skipped, skipped)
	return catch(func() error {
		if p.Train {
			return l.loadTrainDetections(set)
		}
		return l.loadTestDetections(set)
	})
}

// addDetection decodes the image, applies the resize directives and appends
// one column per image (or per object) with matching annotation records.
func (l *Loader) addDetection(set *detectionSet, path string, s detectionSample, perObject bool) error {
	col, g, err := ReadImage(path, s.depth, s.declared)
	if err != nil {
		return err
	}
	boxes := s.boxes
	if _, ok := l.augmenter.ResizeTarget(); ok {
		m, err := tensor.FromData(len(col), 1, col)
		if err != nil {
			return err
		}
		out, outG, err := l.augmenter.ApplyResize(m, g)
		if err != nil {
			return errors.WithMessage(err, path)
		}
		sx := float32(outG.Width) / float32(g.Width)
		sy := float32(outG.Height) / float32(g.Height)
		boxes = make([]Box, len(s.boxes))
		for i, b := range s.boxes {
			boxes[i] = Box{Class: b.Class, X1: b.X1 * sx, Y1: b.Y1 * sy, X2: b.X2 * sx, Y2: b.Y2 * sy}
		}
		col, g = out.Col(0), outG
	}

	if !perObject {
		var a Annotation
		for _, b := range boxes {
			a = a.Append(b)
		}
		if err := stack(set.features, col, g, &set.geometry, path); err != nil {
			return err
		}
		set.labels = append(set.labels, a)
		return nil
	}
	for _, b := range boxes {
		if err := stack(set.features, col, g, &set.geometry, path); err != nil {
			return err
		}
		set.labels = append(set.labels, Annotation(nil).Append(b))
	}
	return nil
}

func (l *Loader) loadTrainDetections(set *detectionSet) error {
	if set.features.Cols() != len(set.labels) {
		return errors.Errorf("%d feature columns but %d annotation records", set.features.Cols(), len(set.labels))
	}
	trainIdx, validIdx, err := l.split(set.features.Cols())
	if err != nil {
		return err
	}
	trainX, others, err := l.scale(set.features.SelectCols(trainIdx), set.features.SelectCols(validIdx))
	if err != nil {
		return err
	}
	g := set.geometry
	trainX, mirrors, err := l.augmentTrain(trainX, g)
	if err != nil {
		return err
	}
	trainAnnotations := set.labels.Select(trainIdx)
	for j, m := range mirrors {
		if m.Horizontal || m.Vertical {
			trainAnnotations[j] = trainAnnotations[j].Mirror(float32(g.Width), float32(g.Height), m.Horizontal, m.Vertical)
		}
	}
	l.trainFeatures, l.validFeatures = trainX, others[0]
	l.trainLabels, l.validLabels = nil, nil
	l.trainAnnotations = trainAnnotations
	l.validAnnotations = set.labels.Select(validIdx)
	l.geometry = g
	return nil
}

func (l *Loader) loadTestDetections(set *detectionSet) error {
	x, err := l.scaleTest(set.features)
	if err != nil {
		return err
	}
	l.testFeatures, l.testLabels = x, nil
	l.testAnnotations = set.labels
	l.geometry = set.geometry
	return nil
}
