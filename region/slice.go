package region

import (
	"github.com/cockroachdb/errors"
)

// SliceGrower is a Grower backed by a Go byte slice with a hard limit, the equivalent of a process
// whose memory quota is fixed at creation. Growing may move the slice, so Bytes must be refetched.
type SliceGrower struct {
	mem   []byte
	limit int
}

var _ Grower = &SliceGrower{}

// NewSliceGrower creates a SliceGrower that will refuse to grow past limit bytes
func NewSliceGrower(limit int) *SliceGrower {
	return &SliceGrower{limit: limit}
}

func (g *SliceGrower) Grow(n int) (int, error) {
	prev := len(g.mem)
	if n < 0 || n > g.limit-prev {
		return 0, errors.Wrapf(ErrExhausted, "cannot grow %d bytes past %d with a limit of %d", n, prev, g.limit)
	}

	if prev+n > cap(g.mem) {
		newCap := cap(g.mem) * 2
		if newCap < prev+n {
			newCap = prev + n
		}
		if newCap > g.limit {
			newCap = g.limit
		}

		grown := make([]byte, prev, newCap)
		copy(grown, g.mem)
		g.mem = grown
	}

	g.mem = g.mem[:prev+n]
	return prev, nil
}

func (g *SliceGrower) Bytes() []byte {
	return g.mem
}

// Limit returns the maximum break this grower will reach
func (g *SliceGrower) Limit() int {
	return g.limit
}
