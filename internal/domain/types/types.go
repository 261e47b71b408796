// Package types contains common types used across the application
package types

// CustodianEntry is one row of the custodian ranking
type CustodianEntry struct {
	Rank        int     `json:"rank"`
	Key         string  `json:"key"`
	Name        string  `json:"name"`
	Assignments float64 `json:"assignments"`
}
