// Package units defines byte size constants.
package units

const (
	// Kb is one binary kilobyte.
	Kb = 1 << 10
	// Mb is one binary megabyte.
	Mb = 1 << 20
	// Gb is one binary gigabyte.
	Gb = 1 << 30
)
