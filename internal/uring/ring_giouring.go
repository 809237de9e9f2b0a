//go:build giouring

package uring

// NewRing creates the giouring-backed Ring implementation.
func NewRing(config Config) (Ring, error) {
	return NewGiouringRing(config)
}
