//go:build !giouring

package uring

// NewRing creates the default hand-rolled Ring implementation.
func NewRing(config Config) (Ring, error) {
	return newMinimalRing(config.Entries)
}
