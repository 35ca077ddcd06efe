// Package region provides the growth primitives an implicit-free-list heap is built over, and the
// Region type that tracks the bounds of the range a heap has obtained from one of them.
package region

import "github.com/pkg/errors"

// ErrExhausted is returned (wrapped) by a Grower that cannot satisfy a growth request
var ErrExhausted error = errors.New("growth primitive exhausted")

// ErrUnsupported is returned when a Grower implementation is not available on this platform
var ErrUnsupported error = errors.New("growth primitive not supported on this platform")

//go:generate mockgen -source grower.go -destination mocks/grower.go -package mocks

// Grower is the single primitive a heap consumes from its hosting environment: it extends a
// contiguous range of bytes, sbrk-style.
//
// Grow extends the break by n bytes and returns the previous break. Implementations must never
// return a break lower than a previous result, and must preserve the contents of bytes they have
// already handed out. On failure no bytes are added and the returned error wraps ErrExhausted.
//
// Bytes returns a view over [0, break). The view may be invalidated by Grow, so consumers must
// fetch it again after every successful growth.
type Grower interface {
	Grow(n int) (int, error)
	Bytes() []byte
}
