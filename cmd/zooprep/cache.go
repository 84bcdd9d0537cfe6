package main

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"github.com/Noofbiz/modelzoo/augment"
	"github.com/Noofbiz/modelzoo/datasets"
	"github.com/Noofbiz/modelzoo/tensor"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// cacheVersion is incremented when the on-disk format changes.
const cacheVersion = 1

// partitionNames lists the matrices of a Prepared in display order.
var partitionNames = []string{
	"train features", "train labels", "train targets",
	"valid features", "valid labels", "valid targets",
	"test features", "test labels", "test targets",
}

// Prepared is everything a run produces.
type Prepared struct {
	Geometry augment.Geometry
	Classes  []string
	// Matrices by partition name; see partitionNames.
	Matrices    map[string]*tensor.Matrix
	Annotations map[string]datasets.Annotations
}

type cachedMatrix struct {
	Rows, Cols int
	Data       []float32
}

// cacheFormat is the gob encoded file.
type cacheFormat struct {
	Version     int
	Fingerprint string
	CreatedAt   int64 // unix timestamp when cache was created
	Geometry    augment.Geometry
	Classes     []string
	Matrices    map[string]cachedMatrix
	Annotations map[string][][]float32
}

// SaveCache writes p to path with encoding/gob. It performs an atomic write
// (create temp file then rename).
func SaveCache(path, fingerprint string, p *Prepared) error {
	if path == "" {
		return errors.New("empty cache path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", dir)
	}
	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return errors.Wrap(err, "create temp cache file")
	}
	tmpName := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		_ = os.Remove(tmpName)
	}()

	pc := cacheFormat{
		Version:     cacheVersion,
		Fingerprint: fingerprint,
		CreatedAt:   time.Now().Unix(),
		Geometry:    p.Geometry,
		Classes:     p.Classes,
		Matrices:    make(map[string]cachedMatrix, len(p.Matrices)),
		Annotations: make(map[string][][]float32, len(p.Annotations)),
	}
	for name, m := range p.Matrices {
		pc.Matrices[name] = cachedMatrix{Rows: m.Rows(), Cols: m.Cols(), Data: m.Data()}
	}
	for name, a := range p.Annotations {
		pc.Annotations[name] = a.Floats()
	}
	if err := gob.NewEncoder(tmpFile).Encode(&pc); err != nil {
		return errors.Wrap(err, "encode cache to temp file")
	}
	if err := tmpFile.Sync(); err != nil {
		klog.Warningf("sync temp cache file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		return errors.Wrap(err, "close temp cache file")
	}
	return errors.Wrap(os.Rename(tmpName, path), "rename temp cache to target")
}

// LoadCache reads a cache written by SaveCache. It fails when the format
// version or the options fingerprint differ.
func LoadCache(path, fingerprint string) (*Prepared, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open cache file %s", path)
	}
	defer fh.Close()
	var pc cacheFormat
	if err := gob.NewDecoder(fh).Decode(&pc); err != nil {
		return nil, errors.Wrapf(err, "decode cache %s", path)
	}
	if pc.Version != cacheVersion {
		return nil, errors.Errorf("cache version mismatch: cache=%d expected=%d", pc.Version, cacheVersion)
	}
	if pc.Fingerprint != fingerprint {
		return nil, errors.New("cache was built with different options")
	}
	p := &Prepared{
		Geometry:    pc.Geometry,
		Classes:     pc.Classes,
		Matrices:    make(map[string]*tensor.Matrix, len(pc.Matrices)),
		Annotations: make(map[string]datasets.Annotations, len(pc.Annotations)),
	}
	for name, cm := range pc.Matrices {
		m, err := tensor.FromData(cm.Rows, cm.Cols, cm.Data)
		if err != nil {
			return nil, errors.WithMessagef(err, "cache matrix %q", name)
		}
		p.Matrices[name] = m
	}
	for name, recs := range pc.Annotations {
		as := make(datasets.Annotations, len(recs))
		for i, r := range recs {
			as[i] = r
		}
		p.Annotations[name] = as
	}
	klog.V(1).Infof("loaded cache %s from %s", path, time.Unix(pc.CreatedAt, 0).Format(time.RFC3339))
	return p, nil
}
