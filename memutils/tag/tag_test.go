package tag_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/tagheap/memutils/tag"
)

func TestPackUnpack(t *testing.T) {
	free := tag.Pack(4096, false)
	require.Equal(t, 4096, free.Size())
	require.False(t, free.Allocated())

	used := tag.Pack(16, true)
	require.Equal(t, 16, used.Size())
	require.True(t, used.Allocated())
	require.Equal(t, tag.Tag(17), used)

	epilogue := tag.Pack(0, true)
	require.Equal(t, 0, epilogue.Size())
	require.True(t, epilogue.Allocated())
}

func TestPackDropsLowBits(t *testing.T) {
	require.Equal(t, 48, tag.Pack(51, false).Size())
}

func TestGetPut(t *testing.T) {
	mem := make([]byte, 16)
	tag.Put(mem, 4, tag.Pack(8, true))
	tag.Put(mem, 12, tag.Pack(0, true))

	require.Equal(t, []byte{9, 0, 0, 0}, mem[4:8])
	require.Equal(t, tag.Pack(8, true), tag.Get(mem, 4))
	require.Equal(t, tag.Tag(1), tag.Get(mem, 12))
	require.Equal(t, tag.Tag(0), tag.Get(mem, 0))
}
