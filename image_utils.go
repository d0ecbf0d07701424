package patchex

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// resampleFilterByName maps a filter name to the imaging filter to resample
// with.
func resampleFilterByName(name string) (imaging.ResampleFilter, error) {
	switch name {
	case "nearest":
		return imaging.NearestNeighbor, nil
	case "box":
		return imaging.Box, nil
	case "linear":
		return imaging.Linear, nil
	case "gaussian":
		return imaging.Gaussian, nil
	case "lanczos":
		return imaging.Lanczos, nil
	}
	return imaging.ResampleFilter{}, fmt.Errorf("unknown resampling filter %q", name)
}

// fileExtForEncoding returns the output file extension for the requested
// image encoding.
func fileExtForEncoding(encoding string) (string, error) {
	switch strings.ToLower(encoding) {
	case "jpg", "jpeg":
		return ".jpg", nil
	case "png":
		return ".png", nil
	}
	return "", fmt.Errorf("unsupported output encoding %q", encoding)
}

// decodeImageConfig opens the file at path and returns the results of
// image.DecodeConfig.
func decodeImageConfig(path string) (config image.Config, format string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer file.Close()

	return image.DecodeConfig(file)
}

// loadImage reads and decodes the image at path and returns the results of
// image.Decode.
func loadImage(path string) (img image.Image, format string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	return image.Decode(f)
}

// Saves the image to path, encoding it as PNG or JPG, depending on the file
// extension of path.
func saveImage(path string, img image.Image, jpegQuality int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(f, img)
	default:
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: jpegQuality})
	}
	return err
}
