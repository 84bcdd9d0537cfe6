package main

import (
	"context"

	"github.com/Noofbiz/modelzoo/datasets"
	"github.com/Noofbiz/modelzoo/scaler"
	"github.com/Noofbiz/modelzoo/tensor"
	"github.com/Noofbiz/modelzoo/yolo"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Prepare loads the source described by opts, splits, scales and augments
// it, and encodes YOLO targets for detection inputs.
func Prepare(ctx context.Context, opts Options) (*Prepared, error) {
	kind, err := opts.Source.Kind()
	if err != nil {
		return nil, err
	}
	cfg := opts.Loader
	if opts.Scaler != "" {
		if cfg.Scaler, err = scaler.New(opts.Scaler); err != nil {
			return nil, err
		}
	}
	loader, err := datasets.NewLoader(cfg)
	if err != nil {
		return nil, err
	}

	src := opts.Source
	p := &Prepared{
		Matrices:    make(map[string]*tensor.Matrix),
		Annotations: make(map[string]datasets.Annotations),
		Classes:     src.Classes,
	}
	detection := DetectionParams(src)
	switch kind {
	case kindNamed:
		err = loader.Load(ctx, src.Name, src.Train)
	case kindCSV:
		labels := datasets.NoColumns
		if src.Labels != nil {
			labels = *src.Labels
		}
		err = loader.LoadCSV(src.CSV, datasets.CSVParams{
			Train:       src.Train,
			DropHeader:  src.DropHeader,
			Inputs:      src.Inputs,
			Predictions: labels,
		})
	case kindDetection:
		err = loader.LoadObjectDetection(detection)
	case kindBoxesCSV:
		err = loader.LoadObjectDetectionCSV(src.BoxesCSV, detection)
	case kindImageDir:
		p.Classes, err = loader.LoadImageDirectory(src.ImageDir, datasets.ImageDirParams{Train: src.Train, Depth: src.Depth})
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "loading %s input", kind)
	}
	p.Geometry = loader.Geometry()

	if src.Train {
		p.Matrices["train features"] = loader.TrainFeatures()
		p.Matrices["train labels"] = loader.TrainLabels()
		p.Matrices["valid features"] = loader.ValidFeatures()
		p.Matrices["valid labels"] = loader.ValidLabels()
		p.Annotations["train"] = loader.TrainAnnotations()
		p.Annotations["valid"] = loader.ValidAnnotations()
	} else {
		p.Matrices["test features"] = loader.TestFeatures()
		p.Matrices["test labels"] = loader.TestLabels()
		p.Annotations["test"] = loader.TestAnnotations()
	}

	if opts.EncodeYOLO && (kind == kindDetection || kind == kindBoxesCSV) {
		if err := encodeTargets(p, opts.YOLO); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// DetectionParams maps the detection fields of a source.
func DetectionParams(src Source) datasets.DetectionParams {
	return datasets.DetectionParams{
		AnnotationsDir:   src.Annotations,
		ImagesDir:        src.Images,
		Classes:          src.Classes,
		Tags:             src.Tags,
		Depth:            src.Depth,
		PerObjectColumns: src.PerObject,
		Train:            src.Train,
	}
}

// encodeTargets adds a targets matrix next to every annotated partition. The
// image size and class count come from the loaded data.
func encodeTargets(p *Prepared, cfg yolo.Config) error {
	if cfg.Normalize {
		cfg.ImageWidth, cfg.ImageHeight = p.Geometry.Width, p.Geometry.Height
	}
	if len(p.Classes) > 0 {
		cfg.NumClasses = len(p.Classes)
	}
	for _, part := range []string{"train", "valid", "test"} {
		as, ok := p.Annotations[part]
		if !ok {
			continue
		}
		targets, err := yolo.Encode(as.Floats(), cfg)
		if err != nil {
			return errors.WithMessagef(err, "encoding %s targets", part)
		}
		p.Matrices[part+" targets"] = targets
	}
	klog.V(1).Infof("encoded YOLOv%d targets: %d values per image", cfg.Version, cfg.Rows())
	return nil
}
