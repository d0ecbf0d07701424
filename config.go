package patchex

// Run configuration with optional YAML file loading.

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultPatchSize          = 32
	defaultEncoding           = "png"
	defaultJPEGQuality        = 90
	defaultDownsamplingFilter = "box"
	defaultUpsamplingFilter   = "linear"
	defaultNumShards          = 1
)

// Config holds the settings for a full extraction run. Zero values for paths
// mean the setting is required from the caller; everything else has a usable
// default from DefaultConfig.
type Config struct {
	ImageDir     string   `yaml:"images"`         // Directory with the labelled input images.
	LabelDir     string   `yaml:"labels"`         // Directory with one KITTI label file per image.
	OutDirs      []string `yaml:"out"`            // Output directories, one per split value.
	Splits       []int    `yaml:"split"`          // Percentages per output dataset; must sum to 100.
	Classes      []string `yaml:"classes"`        // Class names to keep; empty keeps all.
	LabelMaps    []string `yaml:"map_labels"`     // old=new label replacements, applied in order.
	MinBoxWidth  float64  `yaml:"min_box_width"`  // Minimum bbox width in source pixels.
	MinBoxHeight float64  `yaml:"min_box_height"` // Minimum bbox height in source pixels.

	PatchSize          int    `yaml:"patch_size"`
	Encoding           string `yaml:"image_enc"` // {jpg, png}
	JPEGQuality        int    `yaml:"jpeg_quality"`
	DownsamplingFilter string `yaml:"downsample_filter"` // {nearest, box, linear, gaussian, lanczos}
	UpsamplingFilter   string `yaml:"upsample_filter"`
	Workers            int    `yaml:"workers"` // <= 0 selects 2*NumCPU.

	TFRecord     bool   `yaml:"tfrecord"`       // Also write the patches as TFRecord shards.
	NumShards    int    `yaml:"num_shards"`     // Shard files per TFRecord output.
	ClassMapFile string `yaml:"class_map_file"` // JSON class map; defaults under the first out dir.
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() Config {
	return Config{
		Splits:             []int{100},
		PatchSize:          defaultPatchSize,
		Encoding:           defaultEncoding,
		JPEGQuality:        defaultJPEGQuality,
		DownsamplingFilter: defaultDownsamplingFilter,
		UpsamplingFilter:   defaultUpsamplingFilter,
		NumShards:          defaultNumShards,
	}
}

// LoadConfig reads a YAML configuration file over the defaults. Unknown keys
// are an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read config %q: %v", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %q: %v", path, err)
	}

	return cfg, nil
}

// Validate checks the inter-field constraints that the extractor itself does
// not cover.
func (c Config) Validate() error {
	if c.ImageDir == "" || c.LabelDir == "" {
		return fmt.Errorf("missing label or image input path")
	}
	if len(c.OutDirs) == 0 {
		return fmt.Errorf("missing output path")
	}
	if len(c.Splits) != len(c.OutDirs) {
		return fmt.Errorf("the number of output datasets defined by the splits (%d) and the"+
			" number of output paths (%d) must match", len(c.Splits), len(c.OutDirs))
	}

	sum := 0
	for _, v := range c.Splits {
		if v < 0 || v > 100 {
			return fmt.Errorf("invalid split value: %d", v)
		}
		sum += v
	}
	if sum != 100 {
		return fmt.Errorf("the split percentages must add up to 100")
	}

	for _, out := range c.OutDirs {
		if out == c.ImageDir || out == c.LabelDir {
			return fmt.Errorf("the input and output paths cannot be identical")
		}
	}

	return nil
}

// CumulativeSplits converts the per-dataset percentages to the cumulative
// form consumed by AnnotatedFiles.Split.
func (c Config) CumulativeSplits() []int {
	cumulative := make([]int, len(c.Splits))
	sum := 0
	for i, v := range c.Splits {
		sum += v
		cumulative[i] = sum
	}
	return cumulative
}

// ExtractOptions derives the extractor settings from the configuration.
func (c Config) ExtractOptions() ExtractOptions {
	return ExtractOptions{
		PatchSize:          c.PatchSize,
		Encoding:           c.Encoding,
		JPEGQuality:        c.JPEGQuality,
		DownsamplingFilter: c.DownsamplingFilter,
		UpsamplingFilter:   c.UpsamplingFilter,
		Workers:            c.Workers,
	}
}
