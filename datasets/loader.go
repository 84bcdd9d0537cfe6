package datasets

import (
	"context"
	"math/rand"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/Noofbiz/modelzoo/augment"
	"github.com/Noofbiz/modelzoo/scaler"
	"github.com/Noofbiz/modelzoo/tensor"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Config controls how a Loader splits, scales and augments data. Start from
// DefaultConfig: zero numeric fields are replaced by defaults in NewLoader,
// but booleans are taken as given.
type Config struct {
	// DataDir is where named datasets are downloaded and extracted.
	DataDir string `json:"data_dir" yaml:"data_dir"`
	// Server is prefixed to relative dataset URLs.
	Server string `json:"server" yaml:"server"`

	Shuffle bool `json:"shuffle" yaml:"shuffle"`
	// TrainRatio is the fraction of samples kept for training.
	TrainRatio float64 `json:"train_ratio" yaml:"train_ratio"`
	UseScaler  bool    `json:"use_scaler" yaml:"use_scaler"`
	// Scaler defaults to min-max onto [0, 1].
	Scaler scaler.Scaler `json:"-" yaml:"-"`
	Seed   int64         `json:"seed" yaml:"seed"`

	// Augmentation directives, applied to training features only.
	Augmentation            []string `json:"augmentation" yaml:"augmentation"`
	AugmentationProbability float64  `json:"augmentation_probability" yaml:"augmentation_probability"`
	// ImageGeometry is the layout of CSV samples, needed to augment them.
	ImageGeometry augment.Geometry `json:"image_geometry" yaml:"image_geometry"`
	Workers       int              `json:"workers" yaml:"workers"`

	ShowProgress bool         `json:"show_progress" yaml:"show_progress"`
	HTTPClient   *http.Client `json:"-" yaml:"-"`
}

// DefaultConfig shuffles, keeps 75% for training and min-max scales.
func DefaultConfig() Config {
	return Config{
		DataDir:                 "./data",
		Server:                  DefaultServer,
		Shuffle:                 true,
		TrainRatio:              0.75,
		UseScaler:               true,
		Seed:                    1,
		AugmentationProbability: 0.2,
	}
}

// Loader owns the train, validation and test partitions produced by its
// Load* methods and the scaler fitted on the training data. Each Load* call
// replaces the partitions it produces. A Loader is not safe for concurrent
// use.
type Loader struct {
	cfg        Config
	registry   map[string]DatasetDetails
	scaler     scaler.Scaler
	augmenter  *augment.Engine
	downloader *Downloader
	rng        *rand.Rand

	geometry augment.Geometry

	trainFeatures, trainLabels *tensor.Matrix
	validFeatures, validLabels *tensor.Matrix
	testFeatures, testLabels   *tensor.Matrix

	trainAnnotations, validAnnotations, testAnnotations Annotations
}

// NewLoader fills in defaults, parses the augmentation directives and
// registers the built-in datasets.
func NewLoader(cfg Config) (*Loader, error) {
	def := DefaultConfig()
	if cfg.DataDir == "" {
		cfg.DataDir = def.DataDir
	}
	if cfg.Server == "" {
		cfg.Server = def.Server
	}
	if cfg.TrainRatio == 0 {
		cfg.TrainRatio = def.TrainRatio
	}
	if cfg.TrainRatio < 0 || cfg.TrainRatio > 1 {
		return nil, errors.Errorf("train ratio %g outside [0, 1]", cfg.TrainRatio)
	}
	if cfg.Seed == 0 {
		cfg.Seed = def.Seed
	}
	if cfg.Scaler == nil {
		cfg.Scaler = scaler.NewMinMax(0, 1)
	}
	engine, err := augment.New(cfg.Augmentation, cfg.AugmentationProbability,
		augment.WithSeed(cfg.Seed), augment.WithWorkers(cfg.Workers))
	if err != nil {
		return nil, err
	}
	l := &Loader{
		cfg:        cfg,
		registry:   make(map[string]DatasetDetails),
		scaler:     cfg.Scaler,
		augmenter:  engine,
		downloader: &Downloader{Client: cfg.HTTPClient, ShowProgress: cfg.ShowProgress},
		rng:        rand.New(rand.NewSource(cfg.Seed)),
	}
	l.Register(MNIST())
	l.Register(Iris())
	return l, nil
}

// Config returns the configuration with defaults filled in.
func (l *Loader) Config() Config { return l.cfg }

// Scaler returns the scaler, fitted by the last training load when
// UseScaler is set.
func (l *Loader) Scaler() scaler.Scaler { return l.scaler }

// Augmenter returns the engine built from Config.Augmentation.
func (l *Loader) Augmenter() *augment.Engine { return l.augmenter }

// Geometry is the sample layout of the last loaded image data, after the
// resize directives. Train, validation and test features all share it. It
// is zero for plain tabular data.
func (l *Loader) Geometry() augment.Geometry { return l.geometry }

func orEmpty(m *tensor.Matrix) *tensor.Matrix {
	if m == nil {
		return tensor.New(0, 0)
	}
	return m
}

func (l *Loader) TrainFeatures() *tensor.Matrix { return orEmpty(l.trainFeatures) }
func (l *Loader) TrainLabels() *tensor.Matrix   { return orEmpty(l.trainLabels) }
func (l *Loader) ValidFeatures() *tensor.Matrix { return orEmpty(l.validFeatures) }
func (l *Loader) ValidLabels() *tensor.Matrix   { return orEmpty(l.validLabels) }
func (l *Loader) TestFeatures() *tensor.Matrix  { return orEmpty(l.testFeatures) }
func (l *Loader) TestLabels() *tensor.Matrix    { return orEmpty(l.testLabels) }

func (l *Loader) TrainAnnotations() Annotations { return l.trainAnnotations }
func (l *Loader) ValidAnnotations() Annotations { return l.validAnnotations }
func (l *Loader) TestAnnotations() Annotations  { return l.testAnnotations }

// Load fetches the named dataset if needed and loads its training (split
// into train and validation) or test partition.
func (l *Loader) Load(ctx context.Context, name string, train bool) error {
	d, ok := l.registry[strings.ToLower(name)]
	if !ok {
		return errors.Wrapf(ErrUnknownDataset,
			"%q is not registered (known: %s); load custom data with LoadCSV, LoadObjectDetection or LoadImageDirectory",
			name, strings.Join(l.Names(), ", "))
	}
	file := d.TestFile
	if train {
		file = d.TrainFile
	}
	path := filepath.Join(l.cfg.DataDir, file)
	if err := l.fetch(ctx, d, train); err != nil {
		return errors.WithMessagef(err, "dataset %s", d.Name)
	}
	p := CSVParams{
		Train:       train,
		DropHeader:  d.DropHeader,
		Inputs:      d.TestInputs,
		Predictions: d.TestPredictions,
	}
	if train {
		p.Inputs, p.Predictions = d.TrainInputs, d.TrainPredictions
	}
	if err := l.LoadCSV(path, p); err != nil {
		return errors.WithMessagef(err, "dataset %s", d.Name)
	}
	if d.PreProcess != nil && train {
		if err := d.PreProcess(l); err != nil {
			return errors.WithMessagef(err, "dataset %s", d.Name)
		}
	}
	return nil
}

func (l *Loader) url(u string) string {
	if strings.Contains(u, "://") {
		return u
	}
	return strings.TrimRight(l.cfg.Server, "/") + "/" + strings.TrimLeft(u, "/")
}

// fetch makes sure the partition file of d exists locally.
func (l *Loader) fetch(ctx context.Context, d DatasetDetails, train bool) error {
	file, url, hash := d.TestFile, d.TestURL, d.TestHash
	if train {
		file, url, hash = d.TrainFile, d.TrainURL, d.TrainHash
	}
	path := filepath.Join(l.cfg.DataDir, file)
	if d.ArchiveURL == "" {
		return l.downloader.DownloadIfMissing(ctx, l.url(url), path, hash)
	}
	exists, err := FileExists(path)
	if err != nil || exists {
		return err
	}
	archive := filepath.Join(l.cfg.DataDir, filepath.Base(d.ArchiveURL))
	if err := l.downloader.DownloadIfMissing(ctx, l.url(d.ArchiveURL), archive, d.ArchiveHash); err != nil {
		return err
	}
	if err := ExtractTarGz(archive, l.cfg.DataDir); err != nil {
		return err
	}
	if exists, err = FileExists(path); err != nil {
		return err
	} else if !exists {
		return errors.Errorf("archive %q has no %q", archive, file)
	}
	return nil
}

// split returns the train and validation column orders for n samples.
func (l *Loader) split(n int) (train, valid []int, err error) {
	return TrainTestSplit(n, l.cfg.TrainRatio, l.cfg.Shuffle, l.rng)
}

// scale fits the scaler on train and applies it to train and every extra
// matrix. Without UseScaler the inputs are returned unchanged.
func (l *Loader) scale(train *tensor.Matrix, others ...*tensor.Matrix) (*tensor.Matrix, []*tensor.Matrix, error) {
	if !l.cfg.UseScaler {
		return train, others, nil
	}
	if err := l.scaler.Fit(train); err != nil {
		return nil, nil, errors.WithMessage(err, "fitting scaler on training features")
	}
	scaledTrain, err := l.scaler.Transform(train)
	if err != nil {
		return nil, nil, err
	}
	out := make([]*tensor.Matrix, len(others))
	for i, m := range others {
		if out[i], err = l.scaler.Transform(m); err != nil {
			return nil, nil, err
		}
	}
	return scaledTrain, out, nil
}

// scaleTest applies the already fitted scaler.
func (l *Loader) scaleTest(m *tensor.Matrix) (*tensor.Matrix, error) {
	if !l.cfg.UseScaler {
		return m, nil
	}
	if !l.scaler.Fitted() {
		return nil, errors.Wrap(scaler.ErrNotFitted, "test data needs a scaler fitted by a training load first")
	}
	return l.scaler.Transform(m)
}

// resize applies the resize directives to image features. Every partition
// goes through it, so they all share one geometry.
func (l *Loader) resize(m *tensor.Matrix, g augment.Geometry) (*tensor.Matrix, augment.Geometry, error) {
	if _, ok := l.augmenter.ResizeTarget(); !ok {
		return m, g, nil
	}
	if g.IsZero() {
		return nil, g, errors.New("resize directives need Config.ImageGeometry to interpret the features")
	}
	out, g, err := l.augmenter.ApplyResize(m, g)
	if err != nil {
		return nil, g, errors.WithMessage(err, "resizing features")
	}
	return out, g, nil
}

// augmentTrain runs the non-resize directives on training features that
// resize already brought to g. The mirrors say which columns were flipped.
func (l *Loader) augmentTrain(features *tensor.Matrix, g augment.Geometry) (*tensor.Matrix, []augment.Mirror, error) {
	if l.augmenter.Random() && g.IsZero() {
		return nil, nil, errors.New("augmentation needs Config.ImageGeometry to interpret the features")
	}
	out, mirrors, err := l.augmenter.TransformResized(features, g)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "augmenting training features")
	}
	if l.augmenter.Random() {
		klog.V(1).Infof("augmented %d training samples at %dx%dx%d (%s)",
			out.Cols(), g.Width, g.Height, g.Depth, humanize.Bytes(out.SizeBytes()))
	}
	return out, mirrors, nil
}

// catch converts panics raised by matrix views into errors.
func catch(fn func() error) (err error) {
	if e := exceptions.TryCatch[error](func() { err = fn() }); e != nil {
		return e
	}
	return err
}
