package region

import (
	"github.com/cockroachdb/errors"
)

// Region tracks the range a single heap has obtained from a Grower. Start is the break observed by
// the first growth; End is the current break. End never decreases.
type Region struct {
	grower  Grower
	start   int
	end     int
	grows   int
	started bool
}

// New creates a Region over the provided Grower. Nothing is requested from the Grower until Extend
// is first called.
func New(grower Grower) *Region {
	return &Region{grower: grower}
}

// Grower returns the growth primitive backing this region
func (r *Region) Grower() Grower { return r.grower }

// Start returns the address of the first byte this region obtained, or 0 before the first Extend
func (r *Region) Start() int { return r.start }

// End returns the address one past the last byte this region obtained
func (r *Region) End() int { return r.end }

// Size returns the number of bytes obtained so far
func (r *Region) Size() int { return r.end - r.start }

// GrowCount returns the number of successful Extend calls
func (r *Region) GrowCount() int { return r.grows }

// Bytes returns the backing bytes, indexed by address. The slice must be refetched after Extend.
func (r *Region) Bytes() []byte { return r.grower.Bytes() }

// Extend requests n more bytes from the Grower and returns the address of the first new byte.
// Failures are returned unchanged so that callers can match ErrExhausted.
func (r *Region) Extend(n int) (int, error) {
	if n <= 0 {
		return 0, errors.Newf("region growth must be positive, was %d", n)
	}

	prev, err := r.grower.Grow(n)
	if err != nil {
		return 0, err
	}

	if !r.started {
		r.start = prev
		r.end = prev
		r.started = true
	}

	if prev != r.end {
		return 0, errors.Newf("growth primitive returned break %d, but the region ends at %d", prev, r.end)
	}

	r.end = prev + n
	r.grows++
	return prev, nil
}
