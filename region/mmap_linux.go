//go:build linux

package region

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// MmapGrower is a Grower that reserves its whole limit of address space up front with an anonymous
// mapping and moves a break forward inside it. Pages are only committed by the kernel when touched,
// and addresses never move, so views returned from Bytes stay valid across growth.
type MmapGrower struct {
	mapping []byte
	brk     int
}

var _ Grower = &MmapGrower{}

// NewMmapGrower reserves limit bytes of address space
func NewMmapGrower(limit int) (*MmapGrower, error) {
	if limit <= 0 {
		return nil, errors.Newf("mmap grower limit must be positive, was %d", limit)
	}

	mapping, err := unix.Mmap(-1, 0, limit,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to reserve %d bytes", limit)
	}

	return &MmapGrower{mapping: mapping}, nil
}

func (g *MmapGrower) Grow(n int) (int, error) {
	if g.mapping == nil {
		return 0, errors.Wrap(ErrExhausted, "mmap grower is closed")
	}

	prev := g.brk
	if n < 0 || n > len(g.mapping)-prev {
		return 0, errors.Wrapf(ErrExhausted, "cannot grow %d bytes past %d with a reservation of %d", n, prev, len(g.mapping))
	}

	g.brk += n
	return prev, nil
}

func (g *MmapGrower) Bytes() []byte {
	return g.mapping[:g.brk]
}

// Close releases the reservation. The grower and every view it returned are unusable afterward.
func (g *MmapGrower) Close() error {
	if g.mapping == nil {
		return nil
	}

	err := unix.Munmap(g.mapping)
	g.mapping = nil
	g.brk = 0
	return err
}
