package patchex

// KITTI specific functionality.

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// KITTIAnnotation is a single annotation line within a KITTI label file.
//
// The textual layout is:
//
//	class truncated occluded alpha x1 y1 x2 y2 h w l x y z rotation_y [score]
type KITTIAnnotation struct {
	Label      string
	Truncated  float64    // 0 (non-truncated) to 1 (object leaves image bounds).
	Occluded   int        // 0 fully visible, 1 partly, 2 largely occluded, 3 unknown.
	Alpha      float64    // Observation angle in [-pi, pi].
	Coords     [4]float64 // x1, y1, x2, y2, 0-based pixel offsets from the top-left.
	Dimensions [3]float64 // 3D height, width, length in meters.
	Location   [3]float64 // 3D x, y, z in camera coordinates, in meters.
	RotationY  float64    // Rotation around the Y axis in [-pi, pi].
	Score      float64    // Optional, linear confidence value. No fixed range.
}

// FromKitti reads and parses KITTI annotations from labelDir and matches them
// to the images in imageDir.
func FromKitti(labelDir, imageDir string) (AnnotatedFiles, error) {
	labelFiles, err := filesByExtInDir(labelDir, ".txt")
	if err != nil {
		return nil, err
	}
	logger.Infof("Parsing KITTI labels for %d files", len(labelFiles))

	return parseKittiAnnotations(labelFiles, imageDir)
}

// parseKittiAnnotations parses the KITTI annotations from labelFiles. Expects
// to find the corresponding images in imageDir, with identical base name
// except for the file extension.
func parseKittiAnnotations(labelFiles []string, imageDir string) (AnnotatedFiles, error) {
	// Find the image files and create a map from base file name without ext to ext.
	imageFiles, err := filesByExtInDir(imageDir, "")
	if err != nil {
		return nil, err
	}
	imageNamesToExt := mapFileNamesToExtensions(imageFiles)

	data := make(AnnotatedFiles, 0, len(labelFiles))
	for _, path := range labelFiles {
		lines, err := readLines(path)
		if err != nil {
			logger.Warnf("Error while parsing, skipping %q: %v", path, err)
			continue
		}

		// A bad line skips that line, not the whole file.
		annotations := make([]Annotation, 0, len(lines))
		for _, line := range lines {
			a, err := ParseKittiAnnotation(line)
			if err != nil {
				logger.Warnf("Error while parsing %q: %v", path, err)
				continue
			}
			annotations = append(annotations, Annotation{Coords: a.Coords, Label: a.Label})
		}

		// Find the corresponding image.
		_, baseNoExt, _, err := splitPath(path)
		if err != nil {
			logger.Warn(err)
			continue
		}
		imageExt, found := imageNamesToExt[baseNoExt]
		if !found {
			logger.Warnf("Could not find the corresponding image file, skipping %q", path)
			continue
		}
		imagePath := filepath.Join(imageDir, baseNoExt+"."+imageExt)

		data = append(data, AnnotatedFile{Annotations: annotations, FilePath: imagePath})
	}

	return data, nil
}

// ParseKittiAnnotation parses the line of values for a single annotation.
func ParseKittiAnnotation(line string) (KITTIAnnotation, error) {
	a := KITTIAnnotation{}

	tokens := strings.Fields(line)
	if len(tokens) < 15 {
		return a, fmt.Errorf("insufficient tokens in %q", line)
	}

	floats := make([]float64, len(tokens)-1)
	var err error
	for i := 1; i < len(tokens) && err == nil; i++ {
		floats[i-1], err = strconv.ParseFloat(tokens[i], 64)
	}
	if err != nil {
		return a, fmt.Errorf("unexpected values in %q: %v", line, err)
	}

	a.Label = tokens[0]
	a.Truncated = floats[0]
	a.Occluded = int(floats[1])
	a.Alpha = floats[2]
	copy(a.Coords[:], floats[3:7])
	copy(a.Dimensions[:], floats[7:10])
	copy(a.Location[:], floats[10:13])
	a.RotationY = floats[13]

	// The optional confidence score.
	if len(floats) >= 15 {
		a.Score = floats[14]
	}

	return a, nil
}
