package core

import (
	"context"
	"fmt"
	"math"

	"alert-classifier/pkg/api"
)

const catsChannels = 4

// catsClasses are the broad classes of the default model, in output order.
var catsClasses = []string{"SN-like", "Fast", "Long", "Periodic", "Non-Periodic"}

// CatsModel classifies light curves into broad transient classes. Each
// object's time, flux, flux error and band series are padded to a fixed
// length, stacked into a [N][395][4] tensor and classified in a single
// model call.
type CatsModel struct {
	runner  TensorRunner
	classes []string
}

var _ Classifier = (*CatsModel)(nil)

func LoadCatsModel(modelDir string) (Classifier, error) {
	meta, err := loadMetadata(modelDir)
	if err != nil {
		return nil, err
	}
	if len(meta.Classes) == 0 {
		meta.Classes = catsClasses
	}

	runner, err := newOnnxSession(modelDir, meta)
	if err != nil {
		return nil, err
	}

	return NewCatsModel(runner, meta.Classes), nil
}

func NewCatsModel(runner TensorRunner, classes []string) *CatsModel {
	if len(classes) == 0 {
		classes = catsClasses
	}
	return &CatsModel{runner: runner, classes: classes}
}

func (m *CatsModel) Classes() []string { return m.classes }

func (m *CatsModel) Release() { m.runner.Destroy() }

func (m *CatsModel) Classify(ctx context.Context, batch *api.AlertBatch) ([]api.Prediction, error) {
	preds := make([]api.Prediction, batch.Len())
	for i := range preds {
		preds[i] = sentinelPrediction(batch.ObjectId[i], m.classes)
	}

	var rows []int
	input := make([]float32, 0, batch.Len()*CatsMaxSteps*catsChannels)

	for i := 0; i < batch.Len(); i++ {
		steps, ok := catsObjectChannels(batch, i)
		if !ok {
			continue
		}
		input = append(input, steps...)
		rows = append(rows, i)
	}

	if len(rows) == 0 {
		return preds, nil
	}

	out, err := m.runner.Run(input, []int64{int64(len(rows)), CatsMaxSteps, catsChannels})
	if err != nil {
		return nil, fmt.Errorf("broad classifier inference failed: %w", err)
	}

	numClasses := len(m.classes)
	if len(out) != len(rows)*numClasses {
		return nil, fmt.Errorf("unexpected output size %d for %d objects", len(out), len(rows))
	}

	for k, i := range rows {
		preds[i] = newPrediction(batch.ObjectId[i], m.classes, out[k*numClasses:(k+1)*numClasses])
	}

	return preds, nil
}

// catsObjectChannels builds one object's [395][4] channel block: relative
// time, min-max normalized flux, min-max normalized flux error and the band
// code, padded after the data. Objects with no observations, ragged columns
// or unknown bands are rejected.
func catsObjectChannels(batch *api.AlertBatch, i int) ([]float32, bool) {
	if i >= len(batch.Time) || i >= len(batch.Flux) || i >= len(batch.FluxErr) || i >= len(batch.Band) {
		return nil, false
	}

	times := batch.Time[i]
	n := len(times)
	if n == 0 || len(batch.Flux[i]) != n || len(batch.FluxErr[i]) != n || len(batch.Band[i]) != n {
		return nil, false
	}

	bands := make([]float64, n)
	for j, name := range batch.Band[i] {
		code, ok := bandIndex[name]
		if !ok {
			return nil, false
		}
		bands[j] = float64(code)
	}
	for _, xs := range [][]float64{times, batch.Flux[i], batch.FluxErr[i]} {
		if validCount(xs) != n {
			return nil, false
		}
	}

	time := padSeries(relativeTimes(times), CatsMaxSteps, PadValue)
	flux := padSeries(minMaxNorm(batch.Flux[i]), CatsMaxSteps, PadValue)
	fluxErr := padSeries(minMaxNorm(batch.FluxErr[i]), CatsMaxSteps, PadValue)
	band := padSeries(bands, CatsMaxSteps, 0)

	steps := make([]float32, 0, CatsMaxSteps*catsChannels)
	for s := 0; s < CatsMaxSteps; s++ {
		steps = append(steps, float32(time[s]), float32(flux[s]), float32(fluxErr[s]), float32(band[s]))
	}
	return steps, true
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
