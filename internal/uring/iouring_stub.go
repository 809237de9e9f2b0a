//go:build !giouring
// +build !giouring

package uring

import "fmt"

// NewGiouringRing is available when built with -tags giouring; without
// that tag the reactor falls back to newMinimalRing (see ring_minimal.go).
func NewGiouringRing(config Config) (Ring, error) {
	return nil, fmt.Errorf("giouring not enabled; build with -tags giouring")
}
