package core

import "alert-classifier/pkg/api"

// CutConfig holds the thresholds of the pre-classification selection cuts.
type CutConfig struct {
	// Minimum number of finite magnitude measurements.
	MinPoints int

	// Maximum span, in days, between the first detection and the latest
	// observation. Long-lived histories are not transient candidates.
	MaxHistoryDays float64
}

func DefaultCutConfig() CutConfig {
	return CutConfig{
		MinPoints:      4,
		MaxHistoryDays: 90,
	}
}

// roid values 2 and 3 flag confirmed or candidate solar system objects.
func isSolarSystemObject(roid int64) bool {
	return roid == 2 || roid == 3
}

// allowedXmatch lists the CDS cross-match classes an alert may carry and
// still be considered a transient candidate: unclassified objects plus
// extragalactic and supernova-like types. Anything else (known stars,
// galactic variables, ...) is cut.
var allowedXmatch = map[string]struct{}{
	"Unknown":       {},
	"Transient":     {},
	"Fail":          {},
	"Candidate_SN*": {},
	"SN":            {},
	"SN candidate":  {},
	"Candidate_AGN": {},
	"AGN":           {},
	"QSO":           {},
	"Galaxy":        {},
}

// ApplySelectionCuts returns a boolean mask over the batch marking the
// objects worth classifying. The cuts mirror the alert stream's quality
// filters: enough valid photometry, not a solar system object, no
// conflicting catalog cross-match, and a detection history short enough to
// be a live transient.
func ApplySelectionCuts(batch *api.AlertBatch, cfg CutConfig) []bool {
	mask := make([]bool, batch.Len())

	for i := range mask {
		if i >= len(batch.Magnitude) || validCount(batch.Magnitude[i]) < cfg.MinPoints {
			continue
		}
		if i < len(batch.Roid) && isSolarSystemObject(batch.Roid[i]) {
			continue
		}
		if i < len(batch.Xmatch) {
			if _, ok := allowedXmatch[batch.Xmatch[i]]; !ok {
				continue
			}
		}
		if i < len(batch.FirstDetection) && i < len(batch.Time) && len(batch.Time[i]) > 0 {
			last := batch.Time[i][len(batch.Time[i])-1]
			if last-batch.FirstDetection[i] > cfg.MaxHistoryDays {
				continue
			}
		}
		mask[i] = true
	}

	return mask
}
