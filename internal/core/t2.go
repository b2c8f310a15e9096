package core

import (
	"context"
	"log/slog"

	"alert-classifier/internal/core/gp"
	"alert-classifier/pkg/api"
)

const (
	// T2GridSteps is the number of time steps of the interpolated grid fed
	// to the fine-grained model.
	T2GridSteps = 100
)

// t2Passbands are the passbands the fine-grained model was trained on. An
// object must have observations in exactly these bands to be classified.
var t2Passbands = []string{"ztfg", "ztfr"}

// t2Classes are the transient classes of the fine-grained model, in output
// order.
var t2Classes = []string{
	"mu-Lens-Single", "TDE", "EB", "SNII", "SNIax", "Mira", "SNIbc",
	"KN", "M-dwarf", "SNIa-91bg", "AGN", "SNIa", "RRL", "SLSN-I",
}

// T2Model classifies transients from Gaussian-process interpolated light
// curves. Selection cuts run batch-wide first; surviving objects are
// processed one at a time: magnitudes are converted to calibrated fluxes, a
// GP is fit over (time, wavelength) and evaluated on a fixed grid, and the
// robust-scaled grid is classified.
type T2Model struct {
	runner  TensorRunner
	classes []string
	cuts    CutConfig
}

var _ Classifier = (*T2Model)(nil)

func LoadT2Model(modelDir string) (Classifier, error) {
	meta, err := loadMetadata(modelDir)
	if err != nil {
		return nil, err
	}
	if len(meta.Classes) == 0 {
		meta.Classes = t2Classes
	}

	runner, err := newOnnxSession(modelDir, meta)
	if err != nil {
		return nil, err
	}

	return NewT2Model(runner, meta.Classes), nil
}

func NewT2Model(runner TensorRunner, classes []string) *T2Model {
	if len(classes) == 0 {
		classes = t2Classes
	}
	return &T2Model{runner: runner, classes: classes, cuts: DefaultCutConfig()}
}

func (m *T2Model) Classes() []string { return m.classes }

func (m *T2Model) Release() { m.runner.Destroy() }

func (m *T2Model) Classify(ctx context.Context, batch *api.AlertBatch) ([]api.Prediction, error) {
	preds := make([]api.Prediction, batch.Len())
	for i := range preds {
		preds[i] = sentinelPrediction(batch.ObjectId[i], m.classes)
	}

	mask := ApplySelectionCuts(batch, m.cuts)

	for i, keep := range mask {
		if !keep {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if pred, ok := m.classifyObject(batch, i); ok {
			preds[i] = pred
		}
	}

	return preds, nil
}

// classifyObject runs the GP interpolation and inference for one object.
// Returns false when the object cannot be classified; the caller keeps the
// sentinel row in that case.
func (m *T2Model) classifyObject(batch *api.AlertBatch, i int) (api.Prediction, bool) {
	points, values, noise, ok := t2Observations(batch, i)
	if !ok {
		return api.Prediction{}, false
	}

	reg, err := gp.Fit(points, values, noise, gp.DefaultKernel(values))
	if err != nil {
		slog.Warn("gaussian process fit failed", "object_id", batch.ObjectId[i], "error", err)
		return api.Prediction{}, false
	}

	maxTime := 0.0
	for _, p := range points {
		if p.Time > maxTime {
			maxTime = p.Time
		}
	}

	wavelengths := make([]float64, len(t2Passbands))
	for j, band := range t2Passbands {
		wavelengths[j] = passbandWavelengths[band]
	}

	grid := reg.PredictGrid(gp.Grid(0, maxTime, T2GridSteps), wavelengths)

	// Scale each passband column independently.
	col := make([]float64, T2GridSteps)
	for j := range wavelengths {
		for s := 0; s < T2GridSteps; s++ {
			col[s] = grid[s][j]
		}
		robustScale(col)
		for s := 0; s < T2GridSteps; s++ {
			grid[s][j] = col[s]
		}
	}

	input := make([]float32, 0, T2GridSteps*len(wavelengths))
	for s := 0; s < T2GridSteps; s++ {
		for j := range wavelengths {
			input = append(input, float32(grid[s][j]))
		}
	}

	out, err := m.runner.Run(input, []int64{1, T2GridSteps, int64(len(wavelengths))})
	if err != nil {
		slog.Error("fine-grained classifier inference failed", "object_id", batch.ObjectId[i], "error", err)
		return api.Prediction{}, false
	}
	if len(out) != len(m.classes) {
		slog.Error("unexpected fine-grained classifier output size", "object_id", batch.ObjectId[i], "size", len(out), "classes", len(m.classes))
		return api.Prediction{}, false
	}

	return newPrediction(batch.ObjectId[i], m.classes, out), true
}

// t2Observations converts one object's magnitudes into GP training data:
// (time, wavelength) coordinates, calibrated fluxes and flux errors.
// Requires coverage of exactly the trained passbands.
func t2Observations(batch *api.AlertBatch, i int) (points []gp.Point, values, noise []float64, ok bool) {
	if i >= len(batch.Time) || i >= len(batch.Magnitude) || i >= len(batch.MagnitudeErr) || i >= len(batch.FilterId) {
		return nil, nil, nil, false
	}

	times := relativeTimes(batch.Time[i])
	n := len(times)
	if len(batch.Magnitude[i]) != n || len(batch.MagnitudeErr[i]) != n || len(batch.FilterId[i]) != n {
		return nil, nil, nil, false
	}

	seen := make(map[string]bool)
	for j := 0; j < n; j++ {
		mag, magErr := batch.Magnitude[i][j], batch.MagnitudeErr[i][j]
		if !isFinite(mag) || !isFinite(magErr) {
			continue
		}
		band, known := ztfFilterNames[batch.FilterId[i][j]]
		if !known {
			continue
		}

		flux, fluxErr := magToFluxcal(mag, magErr)
		points = append(points, gp.Point{Time: times[j], Wavelength: passbandWavelengths[band]})
		values = append(values, flux)
		noise = append(noise, fluxErr)
		seen[band] = true
	}

	if len(seen) != len(t2Passbands) {
		return nil, nil, nil, false
	}
	for _, band := range t2Passbands {
		if !seen[band] {
			return nil, nil, nil, false
		}
	}

	return points, values, noise, true
}
