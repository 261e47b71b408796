package stats

import (
	"math"
	"slices"
)

// Palma ratio constants. The sentinels are kept for compatibility with
// existing reports; use PalmaRatioChecked to tell them apart from real values.
const (
	PalmaMinEntities     = 10
	PalmaInsufficient    = 1.0
	PalmaUndefinedBottom = 10.0

	palmaTopShare    = 0.1
	palmaBottomStart = 0.6
)

// Gini band cutoffs.
const (
	giniLowCutoff      = 0.25
	giniModerateCutoff = 0.40
)

// Band labels for the Gini coefficient.
const (
	GiniLow      = "bajo"
	GiniModerate = "moderado"
	GiniHigh     = "alto"
)

// Gini returns the Gini coefficient of values:
//
//	2·Σ(i·x_i) / (n·Σx) − (n+1)/n,  x sorted ascending, i = 1..n
//
// Returns 0 for an empty slice or when the values sum to 0. Rounding never
// pushes the result below 0.
func Gini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	total := sum(values)
	if total == 0 {
		return 0
	}

	sorted := sortedCopy(values)
	var weighted float64
	for i, v := range sorted {
		weighted += float64(i+1) * v
	}
	fn := float64(n)
	return math.Max(0, (2*weighted)/(fn*total)-(fn+1)/fn)
}

// GiniBand maps a coefficient to its qualitative band.
func GiniBand(g float64) string {
	switch {
	case g < giniLowCutoff:
		return GiniLow
	case g < giniModerateCutoff:
		return GiniModerate
	default:
		return GiniHigh
	}
}

// PalmaRatio returns the share held by the top 10% divided by the share held
// by the bottom 40%.
//
// Fewer than PalmaMinEntities values yield PalmaInsufficient (1). A zero
// bottom-40 sum yields PalmaUndefinedBottom (10). Both are sentinels, not
// measurements.
func PalmaRatio(values []float64) float64 {
	ratio, _ := PalmaRatioChecked(values)
	return ratio
}

// PalmaRatioChecked is PalmaRatio plus ok=false whenever a sentinel was
// returned instead of a measured ratio.
func PalmaRatioChecked(values []float64) (float64, bool) {
	n := len(values)
	if n < PalmaMinEntities {
		return PalmaInsufficient, false
	}

	desc := sortedCopy(values)
	slices.Reverse(desc)

	topCount := int(math.Ceil(float64(n) * palmaTopShare))
	bottomStart := int(math.Floor(float64(n) * palmaBottomStart))

	top := sum(desc[:topCount])
	bottom := sum(desc[bottomStart:])
	if bottom == 0 {
		return PalmaUndefinedBottom, false
	}
	return top / bottom, true
}
