package region_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/tagheap/region"
	"github.com/vkngwrapper/tagheap/region/mocks"
	"go.uber.org/mock/gomock"
)

func TestSliceGrowerLimit(t *testing.T) {
	grower := region.NewSliceGrower(64)
	require.Equal(t, 64, grower.Limit())

	prev, err := grower.Grow(16)
	require.NoError(t, err)
	require.Equal(t, 0, prev)

	copy(grower.Bytes(), []byte{1, 2, 3, 4})

	prev, err = grower.Grow(48)
	require.NoError(t, err)
	require.Equal(t, 16, prev)
	require.Len(t, grower.Bytes(), 64)
	require.Equal(t, []byte{1, 2, 3, 4}, grower.Bytes()[:4])

	_, err = grower.Grow(8)
	require.Error(t, err)
	require.True(t, errors.Is(err, region.ErrExhausted))
	require.Len(t, grower.Bytes(), 64)
}

func TestRegionTracksBounds(t *testing.T) {
	r := region.New(region.NewSliceGrower(1024))
	require.Equal(t, 0, r.End())

	addr, err := r.Extend(16)
	require.NoError(t, err)
	require.Equal(t, 0, addr)

	addr, err = r.Extend(32)
	require.NoError(t, err)
	require.Equal(t, 16, addr)
	require.Equal(t, 0, r.Start())
	require.Equal(t, 48, r.End())
	require.Equal(t, 48, r.Size())
	require.Equal(t, 2, r.GrowCount())

	_, err = r.Extend(2048)
	require.True(t, errors.Is(err, region.ErrExhausted))
	require.Equal(t, 48, r.End())

	_, err = r.Extend(0)
	require.Error(t, err)
}

func TestRegionRejectsMovingBreak(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	grower := mocks.NewMockGrower(ctrl)
	grower.EXPECT().Grow(16).Return(64, nil)
	grower.EXPECT().Grow(16).Return(8, nil)

	r := region.New(grower)
	addr, err := r.Extend(16)
	require.NoError(t, err)
	require.Equal(t, 64, addr)
	require.Equal(t, 64, r.Start())

	_, err = r.Extend(16)
	require.Error(t, err)
	require.Equal(t, 80, r.End())
}

func TestWasmGrower(t *testing.T) {
	ctx := context.Background()
	grower, err := region.NewWasmGrower(ctx, 200000)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, grower.Close(ctx))
	}()
	require.Equal(t, 1, grower.Pages())

	prev, err := grower.Grow(70000)
	require.NoError(t, err)
	require.Equal(t, 0, prev)
	require.Equal(t, 2, grower.Pages())

	mem := grower.Bytes()
	require.Len(t, mem, 70000)
	mem[69999] = 0xab

	prev, err = grower.Grow(100000)
	require.NoError(t, err)
	require.Equal(t, 70000, prev)
	require.Equal(t, byte(0xab), grower.Bytes()[69999])

	_, err = grower.Grow(40000)
	require.True(t, errors.Is(err, region.ErrExhausted))
}
