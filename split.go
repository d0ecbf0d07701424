package patchex

import (
	"fmt"
	"math/rand"
	"time"
)

// Split randomly splits the data into multiple datasets, e.g. for separate
// training and validation outputs.
//
// The cumulativeSplits specify the cumulative distribution according to which
// the data is split into the returned datasets. Its values must add up
// to 100.
func (data AnnotatedFiles) Split(cumulativeSplits []int) ([]AnnotatedFiles, error) {
	datasets := make([]AnnotatedFiles, len(cumulativeSplits))

	// Allocate slightly more than the expected size for each dataset.
	var sum int
	for i, s := range cumulativeSplits {
		percent := s - sum
		datasets[i] = make(AnnotatedFiles, 0, int(1.05*float64(percent)/100*float64(len(data))))
		sum = s
	}
	if sum != 100 {
		return nil, fmt.Errorf("the split percentages do not add up to 100")
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

outer:
	for _, d := range data {
		r := rng.Intn(100)
		for i, s := range cumulativeSplits {
			if r < s {
				datasets[i] = append(datasets[i], d)
				continue outer
			}
		}
	}

	return datasets, nil
}
