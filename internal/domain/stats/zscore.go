package stats

// ZCategory is the qualitative band of a Z-score.
type ZCategory string

// Z-score categories, ordered from most to least favoured.
const (
	VeryFavored      ZCategory = "MUY_FAVORECIDO"
	Favored          ZCategory = "FAVORECIDO"
	Normal           ZCategory = "NORMAL"
	Underfavored     ZCategory = "SUBFAVORECIDO"
	VeryUnderfavored ZCategory = "MUY_SUBFAVORECIDO"
)

const (
	zOneDeviation = 1.0
	zTwoDeviation = 2.0
)

// CategorizeZScore maps a Z-score to its band using cutoffs at ±1 and ±2.
// Values exactly on a cutoff fall in the band closer to NORMAL; NaN is NORMAL.
func CategorizeZScore(z float64) ZCategory {
	switch {
	case z > zTwoDeviation:
		return VeryFavored
	case z > zOneDeviation:
		return Favored
	case z < -zTwoDeviation:
		return VeryUnderfavored
	case z < -zOneDeviation:
		return Underfavored
	default:
		return Normal
	}
}

// Categories returns every category in band order.
func Categories() []ZCategory {
	return []ZCategory{VeryFavored, Favored, Normal, Underfavored, VeryUnderfavored}
}
