package gp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitAndPredict(t *testing.T) {
	// A smooth function of time at a single wavelength; the posterior mean
	// should pass close to the training points.
	var points []Point
	var values []float64
	for i := 0; i < 10; i++ {
		tm := float64(i) * 3
		points = append(points, Point{Time: tm, Wavelength: 4804.79})
		values = append(values, math.Sin(tm/10))
	}

	reg, err := Fit(points, values, nil, DefaultKernel(values))
	require.NoError(t, err)

	for i, p := range points {
		assert.InDelta(t, values[i], reg.Predict(p), 0.05)
	}
}

func TestFitWithNoise(t *testing.T) {
	points := []Point{
		{Time: 0, Wavelength: 4804.79},
		{Time: 5, Wavelength: 6436.92},
		{Time: 10, Wavelength: 4804.79},
		{Time: 15, Wavelength: 6436.92},
	}
	values := []float64{1.0, 1.5, 2.0, 1.2}
	noise := []float64{0.1, 0.1, 0.1, 0.1}

	reg, err := Fit(points, values, noise, DefaultKernel(values))
	require.NoError(t, err)

	// With measurement noise the fit regularizes rather than interpolating
	// exactly, but predictions stay near the data.
	for i, p := range points {
		assert.InDelta(t, values[i], reg.Predict(p), 0.5)
	}
}

func TestFit_DuplicatePoints(t *testing.T) {
	// Duplicate coordinates make the covariance singular; jitter must rescue
	// the factorization.
	points := []Point{
		{Time: 1, Wavelength: 4804.79},
		{Time: 1, Wavelength: 4804.79},
		{Time: 2, Wavelength: 4804.79},
	}
	values := []float64{1, 1, 2}

	_, err := Fit(points, values, nil, DefaultKernel(values))
	assert.NoError(t, err)
}

func TestFit_Errors(t *testing.T) {
	_, err := Fit(nil, nil, nil, Kernel{Amplitude: 1, TimeScale: 20, WavelengthScale: 6000})
	assert.Error(t, err)

	_, err = Fit([]Point{{Time: 1}}, []float64{1, 2}, nil, DefaultKernel([]float64{1, 2}))
	assert.Error(t, err)
}

func TestPredictGrid(t *testing.T) {
	points := []Point{
		{Time: 0, Wavelength: 4804.79},
		{Time: 10, Wavelength: 6436.92},
	}
	values := []float64{1, 2}

	reg, err := Fit(points, values, nil, DefaultKernel(values))
	require.NoError(t, err)

	times := Grid(0, 10, 100)
	wavelengths := []float64{4804.79, 6436.92}
	grid := reg.PredictGrid(times, wavelengths)

	require.Len(t, grid, 100)
	for _, row := range grid {
		require.Len(t, row, 2)
		for _, v := range row {
			assert.False(t, math.IsNaN(v))
		}
	}
}

func TestGrid(t *testing.T) {
	g := Grid(0, 9, 10)
	require.Len(t, g, 10)
	assert.Equal(t, 0.0, g[0])
	assert.Equal(t, 9.0, g[9])
	assert.InDelta(t, 1.0, g[1]-g[0], 1e-12)

	assert.Equal(t, []float64{5}, Grid(5, 8, 1))
}

func TestDefaultKernel(t *testing.T) {
	k := DefaultKernel([]float64{1, 2, 3})
	assert.InDelta(t, 1.0, k.Amplitude, 1e-12) // sample variance of 1,2,3
	assert.Equal(t, 20.0, k.TimeScale)
	assert.Equal(t, 6000.0, k.WavelengthScale)

	// Degenerate data falls back to unit amplitude.
	k = DefaultKernel([]float64{5})
	assert.Equal(t, 1.0, k.Amplitude)
	k = DefaultKernel([]float64{2, 2, 2})
	assert.Equal(t, 1.0, k.Amplitude)
}

func TestKernelEval(t *testing.T) {
	k := Kernel{Amplitude: 2, TimeScale: 20, WavelengthScale: 6000}
	p := Point{Time: 5, Wavelength: 4804.79}

	// Identical points give the full amplitude.
	assert.InDelta(t, 2.0, k.Eval(p, p), 1e-12)

	// Covariance decays with separation and is symmetric.
	q := Point{Time: 30, Wavelength: 6436.92}
	assert.Less(t, k.Eval(p, q), 2.0)
	assert.Equal(t, k.Eval(p, q), k.Eval(q, p))
}
