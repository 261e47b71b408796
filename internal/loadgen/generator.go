package loadgen

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/okian/equity/internal/domain/model"
	"github.com/okian/equity/internal/domain/names"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	givenNames = []string{ //nolint:gochecknoglobals // fixed name pool
		"José", "María", "Lucía", "Andrés", "Sofía", "Martín", "Inés", "Ramón",
		"Ángela", "Nicolás", "Julián", "Mónica", "Héctor", "Begoña", "Tomás", "Raúl",
	}
	surnames = []string{ //nolint:gochecknoglobals // fixed name pool
		"Pérez", "García", "Núñez", "Gómez", "Martínez", "Fernández", "Ibáñez", "López",
		"Sánchez", "Rodríguez", "Muñoz", "Jiménez", "Hernández", "Díaz", "Álvarez", "Castaño",
	}
	serviceTypes = []string{"escolta", "custodia", "traslado", "vigilancia"} //nolint:gochecknoglobals // fixed pool
)

// Batch is a generated workload plus the tallies it should produce.
type Batch struct {
	Assignments []model.Assignment

	// Expected maps each normalised key to its total units.
	Expected map[string]float64

	// Display maps each normalised key to the roster spelling.
	Display map[string]string
}

// Tallies returns the expected tallies under their display names.
func (b *Batch) Tallies() []model.Tally {
	out := make([]model.Tally, 0, len(b.Expected))
	for key, v := range b.Expected {
		out = append(out, model.Tally{Name: b.Display[key], Value: v})
	}
	return out
}

type generator struct {
	rng    *rand.Rand
	zipf   *rand.Zipf
	roster []string
	upper  cases.Caser
	lower  cases.Caser
	start  time.Time
}

func newGenerator(cfg *Config) *generator {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	g := &generator{
		rng:    rng,
		roster: roster(cfg.Custodians),
		upper:  cases.Upper(language.Spanish),
		lower:  cases.Lower(language.Spanish),
		start:  time.Now().UTC().Truncate(time.Hour),
	}
	if cfg.Skew > 1 && cfg.Custodians > 1 {
		g.zipf = rand.NewZipf(rng, cfg.Skew, 1, uint64(cfg.Custodians-1))
	}
	return g
}

// roster returns n distinct full names. Names past the pool's combinations
// get a numeric suffix.
func roster(n int) []string {
	out := make([]string, n)
	combos := len(givenNames) * len(surnames)
	for i := range out {
		c := i % combos
		name := givenNames[c%len(givenNames)] + " " + surnames[(c/len(givenNames))%len(surnames)]
		if i >= combos {
			name += " " + strconv.Itoa(i/combos+1)
		}
		out[i] = name
	}
	return out
}

func (g *generator) pick() int {
	if g.zipf != nil {
		return int(g.zipf.Uint64())
	}
	return g.rng.IntN(len(g.roster))
}

// variant returns a spelling of name as an operator might type it.
func (g *generator) variant(name string) string {
	switch g.rng.IntN(5) {
	case 0:
		return g.upper.String(name)
	case 1:
		return g.lower.String(name)
	case 2:
		return names.StripAccents(name)
	case 3:
		return "  " + strings.ReplaceAll(name, " ", "   ") + " "
	default:
		return name
	}
}

// Generate builds cfg.Assignments assignments over cfg.Custodians
// custodians, spelled inconsistently, with 1 to 3 units each.
func Generate(cfg *Config) *Batch {
	g := newGenerator(cfg)
	b := &Batch{
		Assignments: make([]model.Assignment, cfg.Assignments),
		Expected:    make(map[string]float64, cfg.Custodians),
		Display:     make(map[string]string, cfg.Custodians),
	}
	for i := range b.Assignments {
		name := g.roster[g.pick()]
		spelled := g.variant(name)
		units := float64(1 + g.rng.IntN(3))

		key := names.Normalize(name)
		b.Display[key] = name
		b.Expected[key] += units

		b.Assignments[i] = model.Assignment{
			AssignmentID: uuid.NewString(),
			Custodian:    spelled,
			Units:        units,
			ServiceType:  serviceTypes[g.rng.IntN(len(serviceTypes))],
			TS:           g.start.Add(time.Duration(i) * time.Second),
		}
	}
	return b
}

// Sample returns roughly frac of the batch's assignments for resubmission.
func (b *Batch) Sample(frac float64, seed uint64) []model.Assignment {
	n := int(float64(len(b.Assignments)) * frac)
	if n <= 0 {
		return nil
	}
	rng := rand.New(rand.NewPCG(seed, seed+1))
	idx := rng.Perm(len(b.Assignments))[:n]
	out := make([]model.Assignment, n)
	for i, j := range idx {
		out[i] = b.Assignments[j]
	}
	return out
}
