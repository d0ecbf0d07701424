package patchex

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/protobuf/proto"
	"github.com/ryszard/tfutils/proto/tensorflow/core/example" // package tensorflow
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readTFRecords splits a TFRecord file into its raw payloads. Each record is
// framed as a little-endian uint64 length, a length CRC, the payload and a
// payload CRC.
func readTFRecords(t *testing.T, path string) [][]byte {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var records [][]byte
	for off := 0; off < len(data); {
		require.LessOrEqual(t, off+12, len(data), "truncated record header")
		n := int(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 12

		require.LessOrEqual(t, off+n+4, len(data), "truncated record payload")
		records = append(records, data[off:off+n])
		off += n + 4
	}

	return records
}

func testPatches(t *testing.T, dir string, labels ...string) []Patch {
	t.Helper()

	patches := make([]Patch, len(labels))
	for i, label := range labels {
		path := filepath.Join(dir, label+".png")
		writeTestImage(t, path, 32, 32)
		patches[i] = Patch{
			FilePath:   path,
			Label:      label,
			Box:        Box{0, 0, 32, 32},
			SourcePath: "source.png",
		}
	}

	return patches
}

func TestWriteTFRecord(t *testing.T) {
	dir := t.TempDir()
	recordPath := filepath.Join(dir, "patches.tfrecord")
	classMapPath := filepath.Join(dir, "class_map.json")

	patches := testPatches(t, dir, "Car", "Pedestrian")
	require.NoError(t, WriteTFRecord(recordPath, classMapPath, patches, 1))

	records := readTFRecords(t, recordPath)
	require.Len(t, records, 2)

	var e tensorflow.Example
	require.NoError(t, proto.Unmarshal(records[0], &e))
	features := e.GetFeatures().GetFeature()

	assert.Equal(t, []byte("Car"), features["image/class/text"].GetBytesList().Value[0])
	assert.Equal(t, int64(1), features["image/class/label"].GetInt64List().Value[0])
	assert.Equal(t, int64(32), features["image/height"].GetInt64List().Value[0])
	assert.Equal(t, int64(32), features["image/width"].GetInt64List().Value[0])
	assert.Equal(t, []byte("png"), features["image/format"].GetBytesList().Value[0])
	assert.NotEmpty(t, features["image/encoded"].GetBytesList().Value[0])

	// The class map assigns IDs in order of first use.
	var m struct {
		IDs map[string]int32 `json:"ids"`
	}
	enc, err := os.ReadFile(classMapPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(enc, &m))
	assert.Equal(t, map[string]int32{"Car": 1, "Pedestrian": 2}, m.IDs)
}

func TestWriteTFRecordReusesClassMap(t *testing.T) {
	dir := t.TempDir()
	classMapPath := filepath.Join(dir, "class_map.json")

	patches := testPatches(t, dir, "Car", "Pedestrian")
	require.NoError(t,
		WriteTFRecord(filepath.Join(dir, "train.tfrecord"), classMapPath, patches, 1))

	// A later run with a new class must keep existing IDs stable.
	more := testPatches(t, dir, "Cyclist", "Car")
	require.NoError(t,
		WriteTFRecord(filepath.Join(dir, "val.tfrecord"), classMapPath, more, 1))

	var m struct {
		IDs map[string]int32 `json:"ids"`
	}
	enc, err := os.ReadFile(classMapPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(enc, &m))
	assert.Equal(t, map[string]int32{"Car": 1, "Pedestrian": 2, "Cyclist": 3}, m.IDs)
}

func TestWriteTFRecordSharded(t *testing.T) {
	dir := t.TempDir()
	recordPath := filepath.Join(dir, "patches.tfrecord")

	patches := testPatches(t, dir, "Car", "Van", "Truck", "Tram")
	require.NoError(t,
		WriteTFRecord(recordPath, filepath.Join(dir, "class_map.json"), patches, 2))

	total := 0
	for _, suffix := range []string{"-00000-of-00002", "-00001-of-00002"} {
		records := readTFRecords(t, recordPath+suffix)
		total += len(records)
	}
	assert.Equal(t, len(patches), total)
}

func TestWriteTFRecordSkipsUnreadablePatches(t *testing.T) {
	dir := t.TempDir()
	recordPath := filepath.Join(dir, "patches.tfrecord")

	patches := testPatches(t, dir, "Car")
	patches = append(patches, Patch{
		FilePath: filepath.Join(dir, "missing.png"),
		Label:    "Van",
	})

	require.NoError(t,
		WriteTFRecord(recordPath, filepath.Join(dir, "class_map.json"), patches, 1))
	assert.Len(t, readTFRecords(t, recordPath), 1)
}
