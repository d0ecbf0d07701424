package patchex

// TFRecord classification dataset output.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/golang/protobuf/proto"
	"github.com/ryszard/tfutils/go/example"
	"github.com/ryszard/tfutils/go/tfrecord"
	"github.com/ryszard/tfutils/proto/tensorflow/core/example" // package tensorflow
)

// TFFeatureMap maps feature names to their values. Values must be
// convertible to tensorflow.Feature.
type TFFeatureMap map[string]interface{}

// classMap assigns stable integer IDs to class strings. It is persisted as
// JSON so that IDs survive across runs and dataset splits.
type classMap struct {
	IDs    map[string]int32 `json:"ids"`
	nextID int32
}

// idFor returns the ID mapped to label, assigning the next free ID on first
// use.
func (m *classMap) idFor(label string) int32 {
	id, ok := m.IDs[label]
	if !ok {
		id = m.nextID
		m.IDs[label] = id
		m.nextID++
	}
	return id
}

// loadClassMap loads the class map from path. A missing file yields a new,
// empty map with IDs starting at 1.
func loadClassMap(path string) (*classMap, error) {
	m := &classMap{IDs: make(map[string]int32), nextID: 1}

	enc, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Infof("Creating a new class map at %q", path)
		return m, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read the class map from %q: %v", path, err)
	}

	if err := json.Unmarshal(enc, m); err != nil {
		return nil, fmt.Errorf("failed to parse the class map %q: %v", path, err)
	}
	for k, v := range m.IDs {
		if k == "" || v <= 0 {
			return nil, fmt.Errorf("invalid class map entry: %s: %d", k, v)
		}
		if v >= m.nextID {
			m.nextID = v + 1
		}
	}
	logger.Infof("Class map loaded with %d classes", len(m.IDs))

	return m, nil
}

// save writes the class map as JSON to path.
func (m *classMap) save(path string) error {
	enc, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, enc, 0644); err != nil {
		return fmt.Errorf("cannot write class map %q: %v", path, err)
	}
	return nil
}

// toTFExample converts a single patch to the feature map of a classification
// example.
func toTFExample(p Patch, classes *classMap) (TFFeatureMap, error) {
	// Get the patch width and height.
	img, format, err := decodeImageConfig(p.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to decode the image metadata: %v", err)
	}

	// Read the encoded image data.
	imgData, err := os.ReadFile(p.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read the image: %v", err)
	}

	f := make(TFFeatureMap, 8)
	f["image/height"] = img.Height
	f["image/width"] = img.Width
	f["image/filename"] = p.FilePath
	f["image/source_id"] = p.SourcePath
	f["image/encoded"] = imgData
	f["image/format"] = format
	f["image/class/text"] = p.Label
	f["image/class/label"] = int(classes.idFor(p.Label))

	return f, nil
}

// WriteCustomTFRecord works like WriteTFRecord, except that it allows for the
// TFFeatureMap to be customised.
//
// Before generating a tensorflow.Example from each Patch and writing it to
// the TFRecord file, the patch and the feature map containing the default
// conversion are passed to customiseFeature, which may modify the feature map
// to its liking, as long as all of its values can be converted to
// tensorflow.Feature.
func WriteCustomTFRecord(recordFilePath, classMapPath string, patches []Patch,
		numShards int, customiseFeature func(p Patch, m TFFeatureMap)) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("conversion to TensorFlow Example failed: %v", e)
		}
	}()

	if numShards <= 0 {
		numShards = 1
	}

	classes, err := loadClassMap(classMapPath)
	if err != nil {
		return err
	}

	fmtShardSuffix := func(idx int) string {
		return fmt.Sprintf("-%05d-of-%05d", idx, numShards)
	}

	var shardFile *os.File
	shardSize := int(math.Ceil(float64(len(patches)) / float64(numShards)))
	shardIdx := -1

	// Convert and serialise one patch at a time.
	for i, p := range patches {
		// Check if a new shard file needs to be opened for writing.
		if i%shardSize == 0 {
			shardIdx++

			// Close the previous shard file.
			if shardFile != nil {
				_ = shardFile.Close()
				shardFile = nil
			}

			// Create the new shard file.
			shardPath := recordFilePath
			if numShards > 1 {
				shardPath += fmtShardSuffix(shardIdx)
			}
			f, err := os.Create(shardPath)
			if err != nil {
				return fmt.Errorf("failed to create shard at %q: %v", shardPath, err)
			}
			shardFile = f
		}

		// Convert the patch to an example.
		features, err := toTFExample(p, classes)
		if err != nil {
			logger.Warnf("Failed to convert %q: %v", p.FilePath, err)
			continue
		}
		if customiseFeature != nil {
			customiseFeature(p, features)
		}
		tfExample := example.New(features)

		// Write the example.
		if err := writeTFRecordExample(shardFile, tfExample); err != nil {
			logger.Warnf("Failed to write example: %v", err)
			break
		}
	}

	if shardFile != nil {
		shardFile.Close()
	}

	return classes.save(classMapPath)
}

// WriteTFRecord does a streaming conversion, serialisation and file write of
// the extracted patches to one or more TFRecord files stored under
// recordFilePath (with suffixes added when numShards > 1).
//
// A class map is maintained at classMapPath.
func WriteTFRecord(recordFilePath, classMapPath string, patches []Patch, numShards int) error {
	return WriteCustomTFRecord(recordFilePath, classMapPath, patches, numShards, nil)
}

// writeTFRecordExample serialises the example and writes it as a TFRecord
// to w.
func writeTFRecordExample(w io.Writer, e *tensorflow.Example) error {
	enc, err := proto.Marshal(e)
	if err != nil {
		return err
	}

	return tfrecord.Write(w, enc)
}
