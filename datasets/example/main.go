package main

// Example command that loads a CSV of samples with the datasets package,
// splits and scales it, and feeds a few batches through the gomlx Dataset
// wrapper.
//
// Usage:
//   go run ./datasets/example -csv iris.csv -labeled
//
// Without -csv the built-in iris dataset is downloaded into -data.

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/Noofbiz/modelzoo/datasets"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	csvPath := flag.String("csv", "", "CSV file with one sample per row; empty loads iris")
	labeled := flag.Bool("labeled", false, "the last CSV column is the label")
	dataDir := flag.String("data", "./data", "download directory for named datasets")
	batch := flag.Int("batch", 16, "batch size")
	flag.Parse()

	cfg := datasets.DefaultConfig()
	cfg.DataDir = *dataDir
	cfg.ShowProgress = true
	loader, err := datasets.NewLoader(cfg)
	if err != nil {
		klog.Exitf("failed to create loader: %v", err)
	}

	if *csvPath == "" {
		if err := loader.Load(context.Background(), "iris", true); err != nil {
			klog.Exitf("failed to load iris: %v", err)
		}
	} else {
		p := datasets.CSVParams{
			Train:       true,
			Inputs:      datasets.ColumnRange{Start: 0, End: -1},
			Predictions: datasets.NoColumns,
		}
		if *labeled {
			p.Inputs = datasets.ColumnRange{Start: 0, End: -2}
			p.Predictions = datasets.ColumnRange{Start: -1, End: -1}
		}
		if err := loader.LoadCSV(*csvPath, p); err != nil {
			klog.Exitf("failed to load %s: %v", *csvPath, err)
		}
	}
	fmt.Printf("train: %v\n", loader.TrainFeatures())
	fmt.Printf("valid: %v\n", loader.ValidFeatures())

	ds, err := datasets.NewInMemory("train", loader.TrainFeatures(), loader.TrainLabels(), *batch, true, cfg.Seed)
	if err != nil {
		klog.Exitf("failed to wrap training data: %v", err)
	}
	for n := 0; ; n++ {
		_, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			fmt.Printf("epoch done after %d batches\n", n)
			break
		}
		if err != nil {
			klog.Exitf("failed to yield batch: %v", err)
		}
		fmt.Printf("batch %d: inputs %s", n, inputs[0].Shape())
		if len(labels) > 0 {
			fmt.Printf(" labels %s", labels[0].Shape())
		}
		fmt.Println()
	}
}
