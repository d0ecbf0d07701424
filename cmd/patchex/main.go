// Extracts fixed-size square image patches from KITTI-labelled object
// detection datasets, for training a classifier.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sensorable/patchex"
)

var (
	cfg        patchex.Config // The merged run configuration.
	configPath string         // An optional YAML config file.
	logLevel   string
)

func init() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage of %s:\n", filepath.Base(os.Args[0]))
		_, _ = fmt.Fprintln(os.Stderr, "  required:\t-images <dir> -labels <dir> -out <dir[,...]>")
		_, _ = fmt.Fprintln(os.Stderr, "  splitting:\t-split <percent[,...]> with one -out path per value")
		_, _ = fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}

	printUsageAndExit := func(msg ...interface{}) {
		log.Print(msg...)
		flag.Usage()
		os.Exit(1)
	}

	defaults := patchex.DefaultConfig()

	// Path arguments.
	imageDir := flag.String("images", "", "The `path` to the image input directory")
	labelDir := flag.String("labels", "", "The `path` to the KITTI label input directory")
	outPaths := flag.String("out", "",
		"The comma-separated paths (`path[,...]`) to the output directories; must be one"+
				" path per value in flag -split")
	outSplits := flag.String("split", "100",
		"The comma-separated output split percentages (`percent[,...]`) to divide the images"+
				" into; must add up to 100%")
	flag.StringVar(&configPath, "config", "",
		"The `path` to an optional YAML config file; explicit flags take precedence")

	// Label selection arguments.
	classes := flag.String("classes", "",
		"Comma-separated list of class names to keep (after map-labels; empty keeps all)")
	mapLabels := flag.String("map-labels", "",
		"Comma-separated list of old=new label (sub-)string replacements")
	minBoxWidth := flag.Float64("min-box-width", defaults.MinBoxWidth,
		"The min. required width in `pixels` for object bounding boxes")
	minBoxHeight := flag.Float64("min-box-height", defaults.MinBoxHeight,
		"The min. required height in `pixels` for object bounding boxes")

	// Patch output arguments.
	patchSize := flag.Int("patch-size", defaults.PatchSize,
		"The width and height in `pixels` of the output patches")
	imageEnc := flag.String("image-enc", defaults.Encoding,
		"The `encoding` for output patches {jpg, png}")
	jpegQuality := flag.Int("jpeg-quality", defaults.JPEGQuality,
		"The quality to use when encoding JPEGs [1, 100]")
	downsampleFilter := flag.String("downsample-filter", defaults.DownsamplingFilter,
		"The filter to use when downsampling a crop {nearest, box, linear, gaussian, lanczos}")
	upsampleFilter := flag.String("upsample-filter", defaults.UpsamplingFilter,
		"The filter to use when upsampling a crop {nearest, box, linear, gaussian, lanczos}")
	workers := flag.Int("workers", 0,
		"The `number` of images to process concurrently (0 selects 2x the CPU count)")

	// TFRecord arguments.
	tfRecord := flag.Bool("tfrecord", false,
		"Also write the patches of each output dataset to a TFRecord file")
	numShards := flag.Int("num-shards", defaults.NumShards,
		"The number of shard files to create per TFRecord output")
	classMapFile := flag.String("class-map-file", "",
		"The JSON class map file `path` (defaults to class_map.json in the first -out directory)")

	flag.StringVar(&logLevel, "log-level", "info", "The log `level` {debug, info, warn, error}")

	flag.Parse()

	// Load the config file, then apply explicitly set flags on top.
	cfg = defaults
	if configPath != "" {
		var err error
		if cfg, err = patchex.LoadConfig(configPath); err != nil {
			printUsageAndExit(err)
		}
	}

	splitList := func(s string) []string {
		if s == "" {
			return nil
		}
		return strings.Split(s, ",")
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "images":
			cfg.ImageDir = *imageDir
		case "labels":
			cfg.LabelDir = *labelDir
		case "out":
			cfg.OutDirs = splitList(*outPaths)
		case "split":
			cfg.Splits = cfg.Splits[:0]
			for _, v := range splitList(*outSplits) {
				i, err := strconv.Atoi(v)
				if err != nil {
					printUsageAndExit("Invalid value in -split: ", v)
				}
				cfg.Splits = append(cfg.Splits, i)
			}
		case "classes":
			cfg.Classes = splitList(*classes)
		case "map-labels":
			cfg.LabelMaps = splitList(*mapLabels)
		case "min-box-width":
			cfg.MinBoxWidth = *minBoxWidth
		case "min-box-height":
			cfg.MinBoxHeight = *minBoxHeight
		case "patch-size":
			cfg.PatchSize = *patchSize
		case "image-enc":
			cfg.Encoding = *imageEnc
		case "jpeg-quality":
			cfg.JPEGQuality = *jpegQuality
		case "downsample-filter":
			cfg.DownsamplingFilter = *downsampleFilter
		case "upsample-filter":
			cfg.UpsamplingFilter = *upsampleFilter
		case "workers":
			cfg.Workers = *workers
		case "tfrecord":
			cfg.TFRecord = *tfRecord
		case "num-shards":
			cfg.NumShards = *numShards
		case "class-map-file":
			cfg.ClassMapFile = *classMapFile
		}
	})

	// Clean path arguments.
	if cfg.ImageDir != "" {
		cfg.ImageDir = filepath.Clean(cfg.ImageDir)
	}
	if cfg.LabelDir != "" {
		cfg.LabelDir = filepath.Clean(cfg.LabelDir)
	}
	for i, v := range cfg.OutDirs {
		cfg.OutDirs[i] = filepath.Clean(v)
	}

	if err := cfg.Validate(); err != nil {
		printUsageAndExit(err)
	}

	if cfg.ClassMapFile == "" {
		cfg.ClassMapFile = filepath.Join(cfg.OutDirs[0], "class_map.json")
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %v", err)
	}

	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	return zapCfg.Build()
}

func main() {
	zl, err := newLogger(logLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = zl.Sync() }()
	patchex.SetLogger(zl)
	sugar := zl.Sugar()

	// Parse the input labels.
	data, err := patchex.FromKitti(cfg.LabelDir, cfg.ImageDir)
	if err != nil {
		sugar.Fatalf("Failed to parse the input: %v", err)
	}

	// Map labels.
	if len(cfg.LabelMaps) > 0 {
		if err := data.MapLabels(cfg.LabelMaps); err != nil {
			sugar.Fatalf("Failed to map labels: %v", err)
		}
	}

	// Apply filters.
	if len(cfg.Classes) > 0 || cfg.MinBoxWidth > 0 || cfg.MinBoxHeight > 0 {
		data.Filter(cfg.Classes, cfg.MinBoxWidth, cfg.MinBoxHeight)
	}

	// Split the images into the output datasets.
	var datasets []patchex.AnnotatedFiles
	if len(cfg.OutDirs) == 1 {
		datasets = []patchex.AnnotatedFiles{data}
	} else {
		if datasets, err = data.Split(cfg.CumulativeSplits()); err != nil {
			sugar.Fatalf("Failed to split the dataset: %v", err)
		}
	}

	// Extract the patches for each dataset.
	total := 0
	for i, dataset := range datasets {
		outDir := cfg.OutDirs[i]

		extractor, err := patchex.NewExtractor(outDir, cfg.ExtractOptions())
		if err != nil {
			sugar.Fatalf("Invalid extraction options: %v", err)
		}

		patches, err := extractor.Extract(dataset)
		if err != nil {
			sugar.Fatalf("Patch extraction failed: %v", err)
		}

		if cfg.TFRecord {
			recordPath := filepath.Join(outDir, "patches.tfrecord")
			if err := patchex.WriteTFRecord(recordPath, cfg.ClassMapFile, patches,
					cfg.NumShards); err != nil {
				sugar.Fatalf("TFRecord conversion failed: %v", err)
			}
			sugar.Infof("Wrote the TFRecord output to %s", recordPath)
		}

		sugar.Infof("Successfully wrote %d patches from %d files to %s",
			len(patches), len(dataset), outDir)
		total += len(patches)
	}

	sugar.Infof("Total number of patches: %d", total)
}
