// Package model contains domain models passed between layers.
package model

import "time"

// DefaultUnits is applied when an assignment arrives without a unit count.
const DefaultUnits = 1

// Assignment records a service assigned to a custodian.
// Fields mirror the OpenAPI schema for /assignments.
type Assignment struct {
	AssignmentID string    // unique id for idempotency
	Custodian    string    // free-text custodian name as entered upstream
	Units        float64   // services counted by this assignment
	ServiceType  string    // e.g. "escolta", "custodia"; informational only
	TS           time.Time // time the service was assigned
}

// UnitsOrDefault returns Units, or DefaultUnits when Units is not positive.
func (a Assignment) UnitsOrDefault() float64 { //nolint:gocritic // hugeParam: value receiver matches channel semantics
	if a.Units <= 0 {
		return DefaultUnits
	}
	return a.Units
}

// Tally is one entity's total for the period under audit.
type Tally struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Values extracts the value vector from tallies, preserving order.
func Values(tallies []Tally) []float64 {
	out := make([]float64, len(tallies))
	for i, t := range tallies {
		out[i] = t.Value
	}
	return out
}
