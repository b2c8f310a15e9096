// Package gp implements the Gaussian process regression used to interpolate
// irregularly sampled light curves onto a fixed grid. The process is fit
// jointly over time and wavelength so that one model covers all passbands of
// an object.
package gp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Point is a single observation coordinate: days since the first epoch and
// the central wavelength of the passband in Angstrom.
type Point struct {
	Time       float64
	Wavelength float64
}

// Kernel is a squared-exponential covariance over (time, wavelength) with
// independent length scales.
type Kernel struct {
	Amplitude       float64
	TimeScale       float64
	WavelengthScale float64
}

// DefaultKernel returns the fixed hyperparameters used for light-curve
// interpolation, with the amplitude tied to the variance of the data.
func DefaultKernel(values []float64) Kernel {
	amp := variance(values)
	if amp <= 0 || math.IsNaN(amp) {
		amp = 1
	}
	return Kernel{
		Amplitude:       amp,
		TimeScale:       20,
		WavelengthScale: 6000,
	}
}

func (k Kernel) Eval(a, b Point) float64 {
	dt := (a.Time - b.Time) / k.TimeScale
	dw := (a.Wavelength - b.Wavelength) / k.WavelengthScale
	return k.Amplitude * math.Exp(-0.5*(dt*dt+dw*dw))
}

func variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var v float64
	for _, x := range xs {
		v += (x - mean) * (x - mean)
	}
	return v / float64(len(xs)-1)
}

// Regressor is a fitted Gaussian process. It predicts the posterior mean at
// arbitrary coordinates.
type Regressor struct {
	kernel Kernel
	points []Point
	alpha  *mat.VecDense
}

const (
	baseJitter  = 1e-8
	maxAttempts = 5
)

// Fit conditions a Gaussian process on the given observations. noise holds
// the per-point measurement uncertainties (one sigma); it may be nil for
// noise-free data. Jitter is added to the diagonal and grown geometrically if
// the covariance matrix is not positive definite.
func Fit(points []Point, values, noise []float64, k Kernel) (*Regressor, error) {
	n := len(points)
	if n == 0 {
		return nil, errors.New("gp: no observations to fit")
	}
	if len(values) != n || (noise != nil && len(noise) != n) {
		return nil, fmt.Errorf("gp: mismatched lengths: %d points, %d values", n, len(values))
	}

	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := k.Eval(points[i], points[j])
			if i == j && noise != nil {
				v += noise[i] * noise[i]
			}
			cov.SetSym(i, j, v)
		}
	}

	y := mat.NewVecDense(n, nil)
	for i, v := range values {
		y.SetVec(i, v)
	}

	var chol mat.Cholesky
	jitter := baseJitter * k.Amplitude
	for attempt := 0; ; attempt++ {
		for i := 0; i < n; i++ {
			cov.SetSym(i, i, cov.At(i, i)+jitter)
		}
		if chol.Factorize(cov) {
			break
		}
		if attempt+1 >= maxAttempts {
			return nil, errors.New("gp: covariance matrix is not positive definite")
		}
		jitter *= 10
	}

	alpha := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(alpha, y); err != nil {
		return nil, fmt.Errorf("gp: solving for weights: %w", err)
	}

	return &Regressor{kernel: k, points: points, alpha: alpha}, nil
}

// Predict returns the posterior mean at x.
func (r *Regressor) Predict(x Point) float64 {
	var sum float64
	for i, p := range r.points {
		sum += r.kernel.Eval(x, p) * r.alpha.AtVec(i)
	}
	return sum
}

// PredictGrid evaluates the posterior mean on the cross product of times and
// wavelengths. The result is indexed [time][wavelength].
func (r *Regressor) PredictGrid(times, wavelengths []float64) [][]float64 {
	out := make([][]float64, len(times))
	for i, t := range times {
		row := make([]float64, len(wavelengths))
		for j, w := range wavelengths {
			row[j] = r.Predict(Point{Time: t, Wavelength: w})
		}
		out[i] = row
	}
	return out
}

// Grid returns n evenly spaced values covering [lo, hi].
func Grid(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = lo
		return out
	}
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out
}
