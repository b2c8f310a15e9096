package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"alert-classifier/pkg/api"
)

// ModelType identifies a classifier family.
type ModelType string

const (
	// CatsBroad is the broad-class hierarchical classifier (ELAsTiCC
	// style fluxes, five coarse classes).
	CatsBroad ModelType = "cats"

	// T2Fine is the fine-grained transient classifier (ZTF magnitudes,
	// Gaussian process features).
	T2Fine ModelType = "t2"
)

// SentinelProb marks objects that were excluded from classification.
const SentinelProb float32 = -1.0

// Classifier turns a columnar alert batch into one prediction per object.
// Implementations must return exactly batch.Len() predictions in input
// order; excluded objects get the sentinel prediction rather than an error.
type Classifier interface {
	Classify(ctx context.Context, batch *api.AlertBatch) ([]api.Prediction, error)

	Classes() []string

	Release()
}

type ModelLoader func(modelDir string) (Classifier, error)

func NewModelLoaders() map[ModelType]ModelLoader {
	return map[ModelType]ModelLoader{
		CatsBroad: LoadCatsModel,
		T2Fine:    LoadT2Model,
	}
}

// ModelMetadata describes an ONNX artifact: tensor names and the class
// labels of the output vector, stored as metadata.json next to model.onnx.
type ModelMetadata struct {
	InputName  string   `json:"input_name"`
	OutputName string   `json:"output_name"`
	Classes    []string `json:"classes"`
}

func loadMetadata(modelDir string) (ModelMetadata, error) {
	var meta ModelMetadata
	data, err := os.ReadFile(filepath.Join(modelDir, "metadata.json"))
	if err != nil {
		return meta, fmt.Errorf("failed to read model metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to parse model metadata: %w", err)
	}
	if meta.InputName == "" {
		meta.InputName = "input"
	}
	if meta.OutputName == "" {
		meta.OutputName = "output"
	}
	return meta, nil
}

func sentinelPrediction(objectId int64, classes []string) api.Prediction {
	probs := make(map[string]float32, len(classes))
	for _, c := range classes {
		probs[c] = SentinelProb
	}
	return api.Prediction{
		ObjectId:      objectId,
		Probabilities: probs,
		TopProb:       SentinelProb,
		Skipped:       true,
	}
}

func newPrediction(objectId int64, classes []string, probs []float32) api.Prediction {
	m := make(map[string]float32, len(classes))
	top, topProb := "", float32(0)
	for i, c := range classes {
		var p float32
		if i < len(probs) {
			p = probs[i]
		}
		m[c] = p
		if top == "" || p > topProb {
			top, topProb = c, p
		}
	}
	return api.Prediction{
		ObjectId:      objectId,
		Probabilities: m,
		TopClass:      top,
		TopProb:       topProb,
	}
}

// MaxClass returns the class with the highest probability, or "" for
// sentinel predictions.
func MaxClass(p api.Prediction) string {
	if p.Skipped {
		return ""
	}
	top, topProb, first := "", float32(0), true
	for c, v := range p.Probabilities {
		if first || v > topProb || (v == topProb && c < top) {
			top, topProb, first = c, v, false
		}
	}
	return top
}

// ModelCache hands out loaded classifiers keyed by model directory, loading
// each at most once. Loaded models are immutable and shared across tasks.
type ModelCache struct {
	mu      sync.Mutex
	loaders map[ModelType]ModelLoader
	models  map[string]Classifier
}

func NewModelCache(loaders map[ModelType]ModelLoader) *ModelCache {
	return &ModelCache{
		loaders: loaders,
		models:  make(map[string]Classifier),
	}
}

func (c *ModelCache) Get(modelType ModelType, modelDir string) (Classifier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if model, ok := c.models[modelDir]; ok {
		return model, nil
	}

	loader, ok := c.loaders[modelType]
	if !ok {
		return nil, fmt.Errorf("unknown model type %q", modelType)
	}

	model, err := loader(modelDir)
	if err != nil {
		return nil, err
	}
	c.models[modelDir] = model
	return model, nil
}

func (c *ModelCache) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for dir, model := range c.models {
		model.Release()
		delete(c.models, dir)
	}
}
