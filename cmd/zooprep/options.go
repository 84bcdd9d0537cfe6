package main

import (
	"flag"
	"os"
	"strings"

	"github.com/Noofbiz/modelzoo/datasets"
	"github.com/Noofbiz/modelzoo/yolo"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Source selects exactly one kind of input.
type Source struct {
	// Name of a registered dataset, e.g. "mnist".
	Name string `yaml:"name,omitempty"`

	// CSV file with one sample per row.
	CSV        string                `yaml:"csv,omitempty"`
	DropHeader bool                  `yaml:"drop_header,omitempty"`
	Inputs     datasets.ColumnRange  `yaml:"inputs,omitempty"`
	Labels     *datasets.ColumnRange `yaml:"labels,omitempty"`

	// Object detection: XML annotations or a boxes CSV, plus the images.
	Annotations string           `yaml:"annotations,omitempty"`
	BoxesCSV    string           `yaml:"boxes_csv,omitempty"`
	Images      string           `yaml:"images,omitempty"`
	Classes     []string         `yaml:"classes,omitempty"`
	PerObject   bool             `yaml:"per_object,omitempty"`
	Tags        datasets.XMLTags `yaml:"tags,omitempty"`

	// ImageDir has one subfolder of images per class.
	ImageDir string `yaml:"image_dir,omitempty"`
	Depth    int    `yaml:"depth,omitempty"`

	// Train loads the train and validation partitions, otherwise test.
	Train bool `yaml:"train"`
}

const (
	kindNamed     = "named"
	kindCSV       = "csv"
	kindDetection = "detection"
	kindBoxesCSV  = "boxes-csv"
	kindImageDir  = "image-dir"
)

// Kind reports which input the source describes.
func (s Source) Kind() (string, error) {
	var kinds []string
	for _, k := range []struct {
		set  bool
		kind string
	}{
		{s.Name != "", kindNamed},
		{s.CSV != "", kindCSV},
		{s.Annotations != "", kindDetection},
		{s.BoxesCSV != "", kindBoxesCSV},
		{s.ImageDir != "", kindImageDir},
	} {
		if k.set {
			kinds = append(kinds, k.kind)
		}
	}
	switch len(kinds) {
	case 0:
		return "", errors.New("no input: set one of -dataset, -csv, -annotations, -boxes-csv or -image-dir")
	case 1:
		return kinds[0], nil
	default:
		return "", errors.Errorf("only one input may be set, got %s", strings.Join(kinds, " and "))
	}
}

// Output says where results go.
type Output struct {
	Cache string `yaml:"cache"`
	Plot  string `yaml:"plot"`
	Force bool   `yaml:"force"`
}

// Options is the full run configuration, read from YAML and then overridden
// by command line flags.
type Options struct {
	Source Source          `yaml:"source"`
	Loader datasets.Config `yaml:"loader"`
	// Scaler is "minmax" or "standard".
	Scaler     string      `yaml:"scaler"`
	EncodeYOLO bool        `yaml:"encode_yolo"`
	YOLO       yolo.Config `yaml:"yolo"`
	Output     Output      `yaml:"output"`
}

// DefaultOptions loads training data with the default loader settings and
// encodes YOLOv1 targets for detection inputs.
func DefaultOptions() Options {
	return Options{
		Source:     Source{Train: true, Inputs: datasets.ColumnRange{Start: 0, End: -1}},
		Loader:     datasets.DefaultConfig(),
		Scaler:     "minmax",
		EncodeYOLO: true,
		YOLO:       yolo.DefaultConfig(),
		Output:     Output{Cache: "output/zooprep.gob", Plot: "output/classes.png"},
	}
}

// LoadOptions reads a YAML file over the defaults. Missing keys keep their
// default values.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	if path == "" {
		return opts, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, errors.Wrapf(err, "reading config %q", path)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, errors.Wrapf(err, "parsing config %q", path)
	}
	return opts, nil
}

// Fingerprint identifies everything that affects the prepared data, so a
// cache built from other options is not reused.
func (o Options) Fingerprint() (string, error) {
	o.Output = Output{}
	data, err := yaml.Marshal(o)
	if err != nil {
		return "", errors.Wrap(err, "encoding options")
	}
	return string(data), nil
}

// flagValues holds the command line flags. Only flags that were set on the
// command line override the YAML options.
type flagValues struct {
	config      *string
	dataset     *string
	csv         *string
	dropHeader  *bool
	labels      *int
	annotations *string
	boxesCSV    *string
	images      *string
	classes     *string
	perObject   *bool
	imageDir    *string
	depth       *int
	test        *bool
	dataDir     *string
	augment     *string
	probability *float64
	ratio       *float64
	noShuffle   *bool
	scaler      *string
	noScaler    *bool
	seed        *int64
	workers     *int
	yoloVersion *int
	grid        *int
	boxes       *int
	cache       *string
	plot        *string
	force       *bool
}

func defineFlags(fs *flag.FlagSet) *flagValues {
	return &flagValues{
		config:      fs.String("config", "", "YAML configuration file; flags set on the command line override it"),
		dataset:     fs.String("dataset", "", "registered dataset to download and load (mnist, iris)"),
		csv:         fs.String("csv", "", "CSV file with one sample per row"),
		dropHeader:  fs.Bool("drop-header", false, "skip the first CSV row"),
		labels:      fs.Int("labels", -1, "CSV column with the label; the other columns are inputs. -1 for no labels"),
		annotations: fs.String("annotations", "", "directory of XML object detection annotations"),
		boxesCSV:    fs.String("boxes-csv", "", "CSV of filename,class,xmin,ymin,xmax,ymax rows"),
		images:      fs.String("images", "", "directory of the images named by the annotations"),
		classes:     fs.String("classes", "", "comma separated detection class names"),
		perObject:   fs.Bool("per-object", false, "one feature column per object instead of per image"),
		imageDir:    fs.String("image-dir", "", "directory with one subfolder of images per class"),
		depth:       fs.Int("depth", 0, "image channels: 1, 3 or 4"),
		test:        fs.Bool("test", false, "load the test partition instead of train and validation"),
		dataDir:     fs.String("data-dir", "", "download directory for registered datasets"),
		augment:     fs.String("augment", "", "semicolon separated augmentation directives, e.g. 'resize(64, 64);horizontal-flip'"),
		probability: fs.Float64("p", 0, "probability of applying each non-resize directive to a sample"),
		ratio:       fs.Float64("ratio", 0, "fraction of samples kept for training"),
		noShuffle:   fs.Bool("no-shuffle", false, "split in file order"),
		scaler:      fs.String("scaler", "", "feature scaler: minmax or standard"),
		noScaler:    fs.Bool("no-scaler", false, "leave features unscaled"),
		seed:        fs.Int64("seed", 0, "random seed for splitting and augmentation"),
		workers:     fs.Int("workers", 0, "augmentation workers (0 = GOMAXPROCS)"),
		yoloVersion: fs.Int("yolo-version", 0, "YOLO target version: 1, 2 or 3"),
		grid:        fs.Int("grid", 0, "YOLO grid size (square)"),
		boxes:       fs.Int("boxes", 0, "YOLO boxes per cell"),
		cache:       fs.String("cache", "", "gob file for the prepared partitions"),
		plot:        fs.String("plot", "", "PNG file for the class histogram; 'none' disables it"),
		force:       fs.Bool("force", false, "rebuild even if the cache matches"),
	}
}

// apply copies every flag set on the command line into opts.
func (v *flagValues) apply(fs *flag.FlagSet, opts *Options) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dataset":
			opts.Source.Name = *v.dataset
		case "csv":
			opts.Source.CSV = *v.csv
		case "drop-header":
			opts.Source.DropHeader = *v.dropHeader
		case "labels":
			if *v.labels < 0 {
				opts.Source.Labels = nil
				opts.Source.Inputs = datasets.ColumnRange{Start: 0, End: -1}
				break
			}
			// Label first or last, inputs are the remaining columns.
			opts.Source.Labels = &datasets.ColumnRange{Start: *v.labels, End: *v.labels}
			if *v.labels == 0 {
				opts.Source.Inputs = datasets.ColumnRange{Start: 1, End: -1}
			} else {
				opts.Source.Inputs = datasets.ColumnRange{Start: 0, End: *v.labels - 1}
			}
		case "annotations":
			opts.Source.Annotations = *v.annotations
		case "boxes-csv":
			opts.Source.BoxesCSV = *v.boxesCSV
		case "images":
			opts.Source.Images = *v.images
		case "classes":
			opts.Source.Classes = splitList(*v.classes, ",")
		case "per-object":
			opts.Source.PerObject = *v.perObject
		case "image-dir":
			opts.Source.ImageDir = *v.imageDir
		case "depth":
			opts.Source.Depth = *v.depth
		case "test":
			opts.Source.Train = !*v.test
		case "data-dir":
			opts.Loader.DataDir = *v.dataDir
		case "augment":
			opts.Loader.Augmentation = splitList(*v.augment, ";")
		case "p":
			opts.Loader.AugmentationProbability = *v.probability
		case "ratio":
			opts.Loader.TrainRatio = *v.ratio
		case "no-shuffle":
			opts.Loader.Shuffle = !*v.noShuffle
		case "scaler":
			opts.Scaler = *v.scaler
		case "no-scaler":
			opts.Loader.UseScaler = !*v.noScaler
		case "seed":
			opts.Loader.Seed = *v.seed
		case "workers":
			opts.Loader.Workers = *v.workers
		case "yolo-version":
			opts.YOLO.Version = *v.yoloVersion
		case "grid":
			opts.YOLO.GridWidth, opts.YOLO.GridHeight = *v.grid, *v.grid
		case "boxes":
			opts.YOLO.NumBoxes = *v.boxes
		case "cache":
			opts.Output.Cache = *v.cache
		case "plot":
			opts.Output.Plot = *v.plot
		case "force":
			opts.Output.Force = *v.force
		}
	})
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
