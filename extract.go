package patchex

// Square patch extraction from annotated images.

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
)

// ExtractOptions configures patch extraction.
type ExtractOptions struct {
	PatchSize          int    // Output width and height of each patch.
	Encoding           string // The patch encoding {jpg, png}.
	JPEGQuality        int    // The quality for JPEG outputs, in [1, 100].
	DownsamplingFilter string // The algorithm to use when downsampling.
	UpsamplingFilter   string // The algorithm to use when upsampling.
	Workers            int    // Images processed concurrently; <= 0 selects 2*NumCPU.
}

// Patch describes one extracted patch written to disk.
type Patch struct {
	FilePath   string // The patch image file.
	LabelPath  string // The sibling file holding the class string.
	Label      string
	Box        Box    // The square source region within the original image.
	SourcePath string // The original image.
}

// Extractor converts annotated object boxes into fixed-size square patches.
//
// For each annotation the bounding box is clamped to the image, padded to a
// square and used to crop a region, which is resampled to
// PatchSize x PatchSize and written to <outDir>/patches. The class string is
// written to a sibling file under <outDir>/labels. Boxes for which no valid
// square exists are skipped with a diagnostic; they never abort the batch.
type Extractor struct {
	opts       ExtractOptions
	downsample imaging.ResampleFilter
	upsample   imaging.ResampleFilter
	fileExt    string
	patchDir   string
	labelDir   string
}

// NewExtractor validates opts and creates the patches and labels directories
// under outDir.
func NewExtractor(outDir string, opts ExtractOptions) (*Extractor, error) {
	if opts.PatchSize <= 0 {
		return nil, fmt.Errorf("invalid patch size %d", opts.PatchSize)
	}
	if opts.JPEGQuality < 1 || opts.JPEGQuality > 100 {
		return nil, fmt.Errorf("invalid JPEG quality %d", opts.JPEGQuality)
	}

	downsample, err := resampleFilterByName(opts.DownsamplingFilter)
	if err != nil {
		return nil, err
	}
	upsample, err := resampleFilterByName(opts.UpsamplingFilter)
	if err != nil {
		return nil, err
	}
	fileExt, err := fileExtForEncoding(opts.Encoding)
	if err != nil {
		return nil, err
	}

	e := &Extractor{
		opts:       opts,
		downsample: downsample,
		upsample:   upsample,
		fileExt:    fileExt,
		patchDir:   filepath.Join(outDir, "patches"),
		labelDir:   filepath.Join(outDir, "labels"),
	}
	for _, dir := range []string{e.patchDir, e.labelDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %v", err)
		}
	}

	return e, nil
}

// PatchBox derives the square source region for an annotation box within
// bounds by clamping and padding. It fails with *InfeasibleSquareError when
// no square fits and with *DegenerateBoxError when the result has zero area;
// both mean the annotation should be skipped.
func PatchBox(b Box, bounds Bounds) (Box, error) {
	// Some boxes extend past the image bounds.
	b = Clamp(b, bounds)

	b, err := PadToSquare(b, bounds)
	if err != nil {
		return Box{}, err
	}
	if b.Empty() {
		return Box{}, &DegenerateBoxError{Box: b}
	}

	return b, nil
}

// Extract processes all annotated files from a work queue, concurrently up to
// the configured number of workers, and returns the written patches.
//
// Unreadable images and individual infeasible or degenerate boxes are logged
// and skipped. Only output write failures make Extract return an error, and
// even then the remaining work is not cancelled.
func (e *Extractor) Extract(data AnnotatedFiles) ([]Patch, error) {
	logger.Infof("Extracting patches from %d files", len(data))

	// Limit the number of goroutines in flight, as they load potentially
	// large images into memory.
	numTasks := e.opts.Workers
	if numTasks <= 0 {
		numTasks = 2 * runtime.NumCPU()
	}
	if len(data) < numTasks {
		numTasks = len(data)
	}
	workQueue := make(chan *AnnotatedFile, 2*numTasks)
	patchCh := make(chan Patch, 2*numTasks)
	errs := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(numTasks)
	for i := 0; i < numTasks; i++ {
		go func() {
			defer wg.Done()
			for d := range workQueue {
				e.extractFile(d, patchCh, errs)
			}
		}()
	}

	// Append the patch records as they arrive.
	patches := make([]Patch, 0, len(data))
	var wgAppend sync.WaitGroup
	wgAppend.Add(1)
	go func() {
		defer wgAppend.Done()
		for p := range patchCh {
			patches = append(patches, p)
		}
	}()

	// Feed the work queue.
	for i := range data {
		workQueue <- &data[i]
	}
	close(workQueue)

	wg.Wait()
	close(patchCh)
	wgAppend.Wait()

	close(errs)
	if len(errs) > 0 {
		return patches, <-errs
	}

	logger.Infof("Wrote %d patches", len(patches))
	return patches, nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// extractFile extracts the patches for a single annotated image.
func (e *Extractor) extractFile(d *AnnotatedFile, patches chan<- Patch, errs chan<- error) {
	trySendError := func(err error) {
		select {
		case errs <- err:
		default:
		}
	}

	img, _, err := loadImage(d.FilePath)
	if err != nil {
		logger.Warnf("Failed to read image, skipping %q: %v", d.FilePath, err)
		return
	}
	img2, ok := img.(subImager)
	if !ok {
		logger.Warnf("The image type of %q does not provide a SubImage method, skipping",
			d.FilePath)
		return
	}

	r := img.Bounds()
	bounds := Bounds{XMin: r.Min.X, YMin: r.Min.Y, XMax: r.Max.X, YMax: r.Max.Y}

	_, baseNoExt, _, err := splitPath(d.FilePath)
	if err != nil {
		logger.Warn(err)
		return
	}

	for i, a := range d.Annotations {
		box, err := PatchBox(a.Box(), bounds)
		if err != nil {
			logger.Warnf("Skipping annotation %d (%s) in %q: %v", i, a.Label, d.FilePath, err)
			continue
		}

		// Crop and resample to the output size. The crop may share pixel data
		// with the source image; imaging.Resize always allocates new data.
		crop := img2.SubImage(image.Rect(box.X1, box.Y1, box.X2, box.Y2))
		filter := e.upsample
		if box.Width() > e.opts.PatchSize {
			filter = e.downsample
		}
		patch := imaging.Resize(crop, e.opts.PatchSize, e.opts.PatchSize, filter)

		patchPath := filepath.Join(e.patchDir, fmt.Sprintf("%s_%02d%s", baseNoExt, i, e.fileExt))
		if err := saveImage(patchPath, patch, e.opts.JPEGQuality); err != nil {
			trySendError(fmt.Errorf("failed to write patch %q: %v", patchPath, err))
			continue
		}

		labelPath := filepath.Join(e.labelDir, fmt.Sprintf("%s_%02d.txt", baseNoExt, i))
		if err := os.WriteFile(labelPath, []byte(a.Label), 0644); err != nil {
			trySendError(fmt.Errorf("failed to write label %q: %v", labelPath, err))
			continue
		}

		patches <- Patch{
			FilePath:   patchPath,
			LabelPath:  labelPath,
			Label:      a.Label,
			Box:        box,
			SourcePath: d.FilePath,
		}
	}
}
