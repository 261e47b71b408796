package stats

import "math"

// HHI band cutoffs, on the 0–10000 scale.
const (
	hhiLowCutoff      = 1500
	hhiModerateCutoff = 2500

	// HHIMax is the index of a single entity holding everything.
	HHIMax = 10000

	percent = 100
)

// Band labels for the Herfindahl-Hirschman index.
const (
	HHILow      = "baja"
	HHIModerate = "moderada"
	HHIHigh     = "alta"
)

// EntropyResult carries the Shannon entropy of a distribution and the
// maximum it could reach for the same number of entities.
type EntropyResult struct {
	Entropy float64 `json:"entropia"`
	Max     float64 `json:"maxima"`
}

// Evenness returns Entropy/Max in [0,1], or 0 when Max is 0.
func (r EntropyResult) Evenness() float64 {
	if r.Max == 0 {
		return 0
	}
	return r.Entropy / r.Max
}

// Entropy returns −Σ p·log2(p) over the non-zero entries, together with
// log2(n) for the full (unfiltered) length. A zero total yields {0, 0}.
func Entropy(values []float64) EntropyResult {
	total := sum(values)
	if total == 0 {
		return EntropyResult{}
	}

	var h float64
	for _, v := range values {
		if v == 0 {
			continue
		}
		p := v / total
		h -= p * math.Log2(p)
	}
	return EntropyResult{
		Entropy: h,
		Max:     math.Log2(float64(len(values))),
	}
}

// HHI returns the Herfindahl-Hirschman index: the sum of squared percentage
// shares. One entity holding everything gives HHIMax. Zero total gives 0.
func HHI(values []float64) float64 {
	total := sum(values)
	if total == 0 {
		return 0
	}

	var idx float64
	for _, v := range values {
		share := v / total * percent
		idx += share * share
	}
	return idx
}

// HHIBand maps an index to its qualitative band.
func HHIBand(h float64) string {
	switch {
	case h < hhiLowCutoff:
		return HHILow
	case h < hhiModerateCutoff:
		return HHIModerate
	default:
		return HHIHigh
	}
}
