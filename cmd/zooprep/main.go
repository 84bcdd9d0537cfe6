// Command zooprep prepares a dataset for training: it loads a registered
// dataset, a CSV file, an object detection directory or a directory of class
// folders, splits, scales and augments it, encodes YOLO targets for
// detection data and caches the result as a gob file. A summary table and a
// class histogram are written at the end.
//
// Usage:
//
//	zooprep -dataset mnist
//	zooprep -annotations voc/Annotations -images voc/JPEGImages \
//	    -classes cat,dog -augment 'resize(224, 224);horizontal-flip' -p 0.3
//	zooprep -config prep.yaml -force
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	fv := defineFlags(flag.CommandLine)
	flag.Parse()

	opts, err := LoadOptions(*fv.config)
	if err != nil {
		klog.Exitf("%v", err)
	}
	fv.apply(flag.CommandLine, &opts)
	fingerprint := must.M1(opts.Fingerprint())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var prepared *Prepared
	if opts.Output.Cache != "" && !opts.Output.Force {
		if prepared, err = LoadCache(opts.Output.Cache, fingerprint); err != nil {
			klog.V(1).Infof("not using cache: %v", err)
			prepared = nil
		} else {
			klog.Infof("using cached data from %s (-force to rebuild)", opts.Output.Cache)
		}
	}
	if prepared == nil {
		if prepared, err = Prepare(ctx, opts); err != nil {
			klog.Exitf("failed to prepare data: %v", err)
		}
		if opts.Output.Cache != "" {
			if err := SaveCache(opts.Output.Cache, fingerprint, prepared); err != nil {
				klog.Exitf("failed to save cache: %v", err)
			}
			klog.Infof("saved %s", opts.Output.Cache)
		}
	}

	fmt.Println(Summary(prepared))

	if opts.Output.Plot == "" || strings.EqualFold(opts.Output.Plot, "none") {
		return
	}
	names, counts := ClassCounts(prepared)
	if len(counts) == 0 {
		klog.Infof("no class labels to plot")
		return
	}
	if err := PlotClassHistogram(opts.Output.Plot, names, counts); err != nil {
		klog.Exitf("failed to plot class histogram: %v", err)
	}
	klog.Infof("wrote %s", opts.Output.Plot)
}
