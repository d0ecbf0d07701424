package patchex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKittiAnnotation(t *testing.T) {
	t.Run("parses a full annotation line", func(t *testing.T) {
		line := "Car 0.00 0 -1.58 587.01 173.33 614.12 200.12 1.65 1.67 3.64 -0.65 1.71 46.70 -1.59"

		a, err := ParseKittiAnnotation(line)
		require.NoError(t, err)

		assert.Equal(t, "Car", a.Label)
		assert.Equal(t, 0.0, a.Truncated)
		assert.Equal(t, 0, a.Occluded)
		assert.InDelta(t, -1.58, a.Alpha, 1e-9)
		assert.Equal(t, [4]float64{587.01, 173.33, 614.12, 200.12}, a.Coords)
		assert.Equal(t, [3]float64{1.65, 1.67, 3.64}, a.Dimensions)
		assert.Equal(t, [3]float64{-0.65, 1.71, 46.70}, a.Location)
		assert.InDelta(t, -1.59, a.RotationY, 1e-9)
		assert.Equal(t, 0.0, a.Score)
	})

	t.Run("parses the optional confidence score", func(t *testing.T) {
		line := "Pedestrian 0.80 1 -0.20 423.17 173.67 433.17 224.03 1.60 0.38 0.30 -5.87 1.63 23.11 -0.03 0.93"

		a, err := ParseKittiAnnotation(line)
		require.NoError(t, err)
		assert.Equal(t, "Pedestrian", a.Label)
		assert.Equal(t, 0.93, a.Score)
	})

	t.Run("rejects short lines", func(t *testing.T) {
		_, err := ParseKittiAnnotation("DontCare -1 -1 -10 503.89 169.71 590.61 190.13")
		assert.Error(t, err)
	})

	t.Run("rejects non-numeric values", func(t *testing.T) {
		_, err := ParseKittiAnnotation(
			"Car 0.00 0 -1.58 x 173.33 614.12 200.12 1.65 1.67 3.64 -0.65 1.71 46.70 -1.59")
		assert.Error(t, err)
	})
}

func TestFromKitti(t *testing.T) {
	labelDir := t.TempDir()
	imageDir := t.TempDir()

	writeTestImage(t, filepath.Join(imageDir, "000001.png"), 200, 100)
	require.NoError(t, os.WriteFile(filepath.Join(labelDir, "000001.txt"), []byte(
		"Car 0.00 0 -1.58 10.2 20.7 60.4 50.1 1.65 1.67 3.64 -0.65 1.71 46.70 -1.59\n"+
			"bogus line\n"+
			"Cyclist 0.00 0 1.89 120 30 150 80 1.72 0.57 1.97 -2.72 0.82 48.22 1.84\n"), 0644))

	// A label file with no matching image must be skipped.
	require.NoError(t, os.WriteFile(filepath.Join(labelDir, "000002.txt"), []byte(
		"Car 0.00 0 -1.58 10 20 60 50 1.65 1.67 3.64 -0.65 1.71 46.70 -1.59\n"), 0644))

	data, err := FromKitti(labelDir, imageDir)
	require.NoError(t, err)
	require.Len(t, data, 1)

	f := data[0]
	assert.Equal(t, filepath.Join(imageDir, "000001.png"), f.FilePath)
	require.Len(t, f.Annotations, 2, "the malformed line must be skipped")
	assert.Equal(t, "Car", f.Annotations[0].Label)
	assert.Equal(t, [4]float64{10.2, 20.7, 60.4, 50.1}, f.Annotations[0].Coords)
	assert.Equal(t, Box{10, 21, 60, 50}, f.Annotations[0].Box())
	assert.Equal(t, "Cyclist", f.Annotations[1].Label)
}

func TestFromKittiMissingDir(t *testing.T) {
	_, err := FromKitti(filepath.Join(t.TempDir(), "nope"), t.TempDir())
	assert.Error(t, err)
}
