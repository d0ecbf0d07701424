package patchex

// The intermediate annotation representation consumed by patch extraction.

import (
	"fmt"
	"strings"
)

// Annotation is a single labelled object within an image.
type Annotation struct {
	Coords [4]float64 // Absolute x1, y1, x2, y2 offsets from the top-left corner.
	Label  string
}

// Width is the object width from a.Coords.
func (a Annotation) Width() float64 {
	return a.Coords[2] - a.Coords[0]
}

// Height is the object height from a.Coords.
func (a Annotation) Height() float64 {
	return a.Coords[3] - a.Coords[1]
}

// Box is a.Coords rounded to whole pixels.
func (a Annotation) Box() Box {
	return BoxFromCoords(a.Coords)
}

// AnnotatedFile is the annotation metadata for a single image file.
type AnnotatedFile struct {
	Annotations []Annotation
	FilePath    string // The annotated image.
}

// AnnotatedFiles is the annotation metadata for a list of files.
type AnnotatedFiles []AnnotatedFile

// MapLabels replaces label (sub-)strings with substitution values, as
// specified in mappings.
//
// The format of mappings is old=new.
func (data AnnotatedFiles) MapLabels(mappings []string) error {
	if len(mappings) == 0 {
		return nil
	}

	// Extract the individual old and new strings to map between.
	replacements := make([]struct{ old, new string }, len(mappings))
	for i, v := range mappings {
		a := strings.Split(v, "=")
		if len(a) != 2 {
			return fmt.Errorf("invalid mapping: %v", v)
		}

		replacements[i].old = a[0]
		replacements[i].new = a[1]
	}

	// Apply the replacements, in order, to all labels.
	count := 0
	for _, f := range data {
		for i := range f.Annotations {
			a := &f.Annotations[i]

			oldLabel := a.Label
			for _, r := range replacements {
				a.Label = strings.Replace(a.Label, r.old, r.new, -1)
			}

			if a.Label != oldLabel {
				count++
			}
		}
	}

	logger.Infof("The label mappings changed %d labels", count)
	return nil
}

// Filter filters out annotations which do not match any of the given
// labelNames (an empty list keeps all) or have a bounding box with less than
// minBboxWidth or minBboxHeight. Files left without annotations are dropped.
func (data *AnnotatedFiles) Filter(labelNames []string, minBboxWidth, minBboxHeight float64) {
	inList := func(v string, l []string) bool {
		for _, val := range l {
			if val == v {
				return true
			}
		}
		return false
	}

	numFiles := len(*data)
	numLabelsBefore := 0
	numLabelsAfter := 0

	for dataIdx, dataLen := 0, len(*data); dataIdx < dataLen; dataIdx++ {
		d := &(*data)[dataIdx]
		numLabelsBefore += len(d.Annotations)

		kept := d.Annotations[:0]
		for _, a := range d.Annotations {
			if minBboxWidth > a.Width() || minBboxHeight > a.Height() {
				continue
			}
			if len(labelNames) > 0 && !inList(a.Label, labelNames) {
				continue
			}
			kept = append(kept, a)
		}
		d.Annotations = kept
		numLabelsAfter += len(d.Annotations)

		// Drop files with no annotations left.
		if len(d.Annotations) == 0 {
			dataLen--
			(*data)[dataIdx] = (*data)[dataLen]
			*data = (*data)[0:dataLen]
			dataIdx--
		}
	}

	logger.Infof("Filtered out %d labels and %d files",
		numLabelsBefore-numLabelsAfter, numFiles-len(*data))
}
