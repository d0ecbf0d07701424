package patchex

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	data := make(AnnotatedFiles, 50)
	for i := range data {
		data[i] = AnnotatedFile{FilePath: fmt.Sprintf("%06d.png", i)}
	}

	t.Run("partitions all files", func(t *testing.T) {
		datasets, err := data.Split([]int{80, 100})
		require.NoError(t, err)
		require.Len(t, datasets, 2)
		assert.Equal(t, len(data), len(datasets[0])+len(datasets[1]))
	})

	t.Run("a single split keeps everything together", func(t *testing.T) {
		datasets, err := data.Split([]int{100})
		require.NoError(t, err)
		require.Len(t, datasets, 1)
		assert.Len(t, datasets[0], len(data))
	})

	t.Run("rejects percentages that do not sum to 100", func(t *testing.T) {
		_, err := data.Split([]int{50, 90})
		assert.Error(t, err)
	})
}
