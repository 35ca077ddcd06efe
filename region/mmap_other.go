//go:build !linux

package region

// MmapGrower is only available on linux
type MmapGrower struct{}

var _ Grower = &MmapGrower{}

// NewMmapGrower always fails with ErrUnsupported on this platform
func NewMmapGrower(limit int) (*MmapGrower, error) {
	return nil, ErrUnsupported
}

func (g *MmapGrower) Grow(n int) (int, error) { return 0, ErrUnsupported }
func (g *MmapGrower) Bytes() []byte           { return nil }
func (g *MmapGrower) Close() error            { return nil }
