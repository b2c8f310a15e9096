package core

import (
	"math"
	"sort"
)

const (
	// Fixed sequence length of the broad classifier's input tensor.
	CatsMaxSteps = 395

	// Sentinel used to pad the time/flux/error channels. The band channel
	// pads with 0 (no filter).
	PadValue = -999.0
)

// bandIndex maps LSST filter names to the integer codes the broad model was
// trained with. 0 is reserved for padding.
var bandIndex = map[string]int64{
	"u": 1, "g": 2, "r": 3, "i": 4, "z": 5, "Y": 6,
}

// ztfFilterNames maps ZTF numeric filter ids to passband names.
var ztfFilterNames = map[int64]string{
	1: "ztfg",
	2: "ztfr",
	3: "ztfi",
}

// Central wavelengths (Angstrom) of the ZTF passbands, used as the second
// coordinate of the Gaussian process.
var passbandWavelengths = map[string]float64{
	"ztfg": 4804.79,
	"ztfr": 6436.92,
	"ztfi": 7968.22,
}

// relativeTimes shifts a time series so it starts at zero.
func relativeTimes(times []float64) []float64 {
	out := make([]float64, len(times))
	if len(times) == 0 {
		return out
	}
	first := times[0]
	for i, t := range times {
		out[i] = t - first
	}
	return out
}

// minMaxNorm rescales a series to [0, 1]. A constant or empty series maps to
// all zeros so it stays distinguishable from the pad sentinel.
func minMaxNorm(xs []float64) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	if hi == lo {
		return out
	}
	for i, x := range xs {
		out[i] = (x - lo) / (hi - lo)
	}
	return out
}

// padSeries pads a series to exactly n steps with the given pad value.
// Padding is appended after the data; series longer than n keep the most
// recent n observations.
func padSeries(xs []float64, n int, pad float64) []float64 {
	out := make([]float64, n)
	if len(xs) > n {
		xs = xs[len(xs)-n:]
	}
	copy(out, xs)
	for i := len(xs); i < n; i++ {
		out[i] = pad
	}
	return out
}

const snanaZeroPoint = 1e11 // 10^(27.5/2.5), the SNANA flux calibration

// magToFluxcal converts a PSF magnitude and its error to SNANA calibrated
// flux, matching the conversion the fine-grained model was trained on.
func magToFluxcal(mag, magErr float64) (flux, fluxErr float64) {
	flux = math.Pow(10, -0.4*mag) * snanaZeroPoint
	fluxErr = magErr * flux * math.Ln10 / 2.5
	return flux, fluxErr
}

// quantile returns the q-th quantile of xs using linear interpolation.
// xs must be sorted.
func quantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	if len(xs) == 1 {
		return xs[0]
	}
	pos := q * float64(len(xs)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return xs[lo]
	}
	frac := pos - float64(lo)
	return xs[lo]*(1-frac) + xs[hi]*frac
}

// robustScale centers a series on its median and scales by the interquartile
// range, in place. A degenerate IQR leaves the spread untouched.
func robustScale(xs []float64) {
	if len(xs) == 0 {
		return
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	med := quantile(sorted, 0.5)
	iqr := quantile(sorted, 0.75) - quantile(sorted, 0.25)
	if iqr == 0 {
		iqr = 1
	}
	for i := range xs {
		xs[i] = (xs[i] - med) / iqr
	}
}

// validCount returns the number of finite entries in xs.
func validCount(xs []float64) int {
	n := 0
	for _, x := range xs {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			n++
		}
	}
	return n
}
