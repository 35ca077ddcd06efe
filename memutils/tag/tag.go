// Package tag encodes the boundary tags that bound every block of an implicit-free-list heap.
//
// A tag is a single 32-bit little-endian word. Block sizes are always multiples of DoubleWordSize,
// so the low three bits of the size are zero and the lowest one carries the allocated flag.
package tag

import "encoding/binary"

const (
	// WordSize is the size in bytes of a single tag
	WordSize = 4
	// DoubleWordSize is the alignment unit of every block and every payload address
	DoubleWordSize = 8
	// MinBlockSize is the smallest block that can exist: a header, a footer and one double word of payload
	MinBlockSize = 2 * DoubleWordSize

	allocatedBit Tag = 0x1
	sizeMask     Tag = ^Tag(DoubleWordSize - 1)
)

// Tag is a packed (size, allocated) pair
type Tag uint32

// Pack builds a tag from a block size and allocated flag. The low bits of size are discarded.
func Pack(size int, allocated bool) Tag {
	t := Tag(uint32(size)) & sizeMask
	if allocated {
		t |= allocatedBit
	}
	return t
}

// Size returns the block size, in bytes, encoded in the tag
func (t Tag) Size() int {
	return int(t & sizeMask)
}

// Allocated returns whether the tag marks its block as allocated
func (t Tag) Allocated() bool {
	return t&allocatedBit != 0
}

// Get reads the tag stored at addr
func Get(mem []byte, addr int) Tag {
	return Tag(binary.LittleEndian.Uint32(mem[addr : addr+WordSize]))
}

// Put writes t at addr
func Put(mem []byte, addr int, t Tag) {
	binary.LittleEndian.PutUint32(mem[addr:addr+WordSize], uint32(t))
}
