package core

import (
	"context"
	"testing"

	"alert-classifier/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func t2Probs(class string) []float32 {
	out := make([]float32, len(t2Classes))
	for i, c := range t2Classes {
		if c == class {
			out[i] = 0.9
		} else {
			out[i] = 0.1 / float32(len(t2Classes)-1)
		}
	}
	return out
}

func t2Batch() *api.AlertBatch {
	return &api.AlertBatch{
		ObjectId:       []int64{201},
		Time:           [][]float64{{60000, 60002, 60005, 60009, 60014}},
		Magnitude:      [][]float64{{18.5, 18.2, 18.0, 18.3, 18.6}},
		MagnitudeErr:   [][]float64{{0.1, 0.1, 0.1, 0.1, 0.1}},
		FilterId:       [][]int64{{1, 2, 1, 2, 1}},
		Xmatch:         []string{"Unknown"},
		Roid:           []int64{0},
		FirstDetection: []float64{60000},
	}
}

func TestT2Classify(t *testing.T) {
	runner := &stubRunner{outputs: [][]float32{t2Probs("SNIa")}}
	model := NewT2Model(runner, nil)

	preds, err := model.Classify(context.Background(), t2Batch())
	require.NoError(t, err)
	require.Len(t, preds, 1)

	assert.Equal(t, int64(201), preds[0].ObjectId)
	assert.Equal(t, "SNIa", preds[0].TopClass)
	assert.False(t, preds[0].Skipped)
	assert.Len(t, preds[0].Probabilities, len(t2Classes))

	require.Len(t, runner.shapes, 1)
	assert.Equal(t, []int64{1, T2GridSteps, 2}, runner.shapes[0])
	assert.Len(t, runner.inputs[0], T2GridSteps*2)
}

func TestT2Classify_CutObjectsGetSentinel(t *testing.T) {
	runner := &stubRunner{outputs: [][]float32{t2Probs("TDE")}}
	model := NewT2Model(runner, nil)

	batch := &api.AlertBatch{
		ObjectId: []int64{1, 2, 3, 4},
		Time: [][]float64{
			{60000, 60002, 60005, 60009},
			{60000, 60002, 60005},        // too few points
			{60000, 60002, 60005, 60009}, // solar system object
			{60000, 60002, 60005, 60009}, // known star
		},
		Magnitude: [][]float64{
			{18.5, 18.2, 18.0, 18.3},
			{18.5, 18.2, 18.0},
			{18.5, 18.2, 18.0, 18.3},
			{18.5, 18.2, 18.0, 18.3},
		},
		MagnitudeErr: [][]float64{
			{0.1, 0.1, 0.1, 0.1},
			{0.1, 0.1, 0.1},
			{0.1, 0.1, 0.1, 0.1},
			{0.1, 0.1, 0.1, 0.1},
		},
		FilterId: [][]int64{
			{1, 2, 1, 2},
			{1, 2, 1},
			{1, 2, 1, 2},
			{1, 2, 1, 2},
		},
		Xmatch:         []string{"Unknown", "Unknown", "Unknown", "RRLyr"},
		Roid:           []int64{0, 0, 3, 0},
		FirstDetection: []float64{60000, 60000, 60000, 60000},
	}

	preds, err := model.Classify(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, preds, batch.Len())

	assert.False(t, preds[0].Skipped)
	assert.True(t, preds[1].Skipped)
	assert.True(t, preds[2].Skipped)
	assert.True(t, preds[3].Skipped)

	// Only the surviving object reaches the model.
	assert.Len(t, runner.inputs, 1)
}

func TestT2Classify_RequiresBothPassbands(t *testing.T) {
	runner := &stubRunner{}
	model := NewT2Model(runner, nil)

	batch := t2Batch()
	batch.FilterId = [][]int64{{1, 1, 1, 1, 1}} // ztfg only

	preds, err := model.Classify(context.Background(), batch)
	require.NoError(t, err)
	assert.True(t, preds[0].Skipped)
	assert.Empty(t, runner.inputs)
}

func TestT2Classify_UnknownFilterObservationsDropped(t *testing.T) {
	runner := &stubRunner{outputs: [][]float32{t2Probs("KN")}}
	model := NewT2Model(runner, nil)

	batch := t2Batch()
	batch.Time = [][]float64{{60000, 60002, 60005, 60009, 60014, 60015}}
	batch.Magnitude = [][]float64{{18.5, 18.2, 18.0, 18.3, 18.6, 18.7}}
	batch.MagnitudeErr = [][]float64{{0.1, 0.1, 0.1, 0.1, 0.1, 0.1}}
	batch.FilterId = [][]int64{{1, 2, 1, 2, 1, 99}}

	preds, err := model.Classify(context.Background(), batch)
	require.NoError(t, err)
	assert.False(t, preds[0].Skipped)
	assert.Equal(t, "KN", preds[0].TopClass)
}

func TestT2Classify_LongHistoryCut(t *testing.T) {
	runner := &stubRunner{}
	model := NewT2Model(runner, nil)

	batch := t2Batch()
	batch.Time = [][]float64{{60000, 60050, 60100, 60150, 60200}}

	preds, err := model.Classify(context.Background(), batch)
	require.NoError(t, err)
	assert.True(t, preds[0].Skipped)
	assert.Empty(t, runner.inputs)
}

func TestT2Classify_InferenceFailureFallsBackToSentinel(t *testing.T) {
	runner := &stubRunner{err: assert.AnError}
	model := NewT2Model(runner, nil)

	preds, err := model.Classify(context.Background(), t2Batch())
	require.NoError(t, err)
	assert.True(t, preds[0].Skipped)
}

func TestT2Classify_MissingTimeColumn(t *testing.T) {
	runner := &stubRunner{}
	model := NewT2Model(runner, nil)

	batch := t2Batch()
	batch.Time = nil

	preds, err := model.Classify(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.True(t, preds[0].Skipped)
	assert.Empty(t, runner.inputs)
}

func TestT2Classify_ShortOutputFallsBackToSentinel(t *testing.T) {
	runner := &stubRunner{outputs: [][]float32{{0.5, 0.5}}}
	model := NewT2Model(runner, nil)

	preds, err := model.Classify(context.Background(), t2Batch())
	require.NoError(t, err)
	assert.True(t, preds[0].Skipped)
	assert.Equal(t, float32(-1), preds[0].TopProb)
}

func TestT2Classify_ContextCancelled(t *testing.T) {
	runner := &stubRunner{outputs: [][]float32{t2Probs("SNIa")}}
	model := NewT2Model(runner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := model.Classify(ctx, t2Batch())
	assert.ErrorIs(t, err, context.Canceled)
}
