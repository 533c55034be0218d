//go:build purego

package vision

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReflect101(t *testing.T) {
	assert.Equal(t, 1, reflect101(-1, 5))
	assert.Equal(t, 2, reflect101(-2, 5))
	assert.Equal(t, 3, reflect101(5, 5))
	assert.Equal(t, 2, reflect101(6, 5))
	assert.Equal(t, 0, reflect101(3, 1))
}

func TestCannyStepEdgeIsSingleRow(t *testing.T) {
	g := filledGray(100, 100, 0)
	fillRect(g, image.Rect(0, 0, 100, 50), 255)
	blurred, err := GaussianBlur(g, 5)
	require.NoError(t, err)
	edges, err := Canny(blurred, 50, 150)
	require.NoError(t, err)
	assert.Equal(t, 100, CountNonZero(edges))
	for x := 0; x < 100; x++ {
		require.Equal(t, uint8(255), edges.GrayAt(x, 49).Y, "x=%d", x)
	}
}

func TestHoughExactSegment(t *testing.T) {
	g := filledGray(200, 100, 0)
	fillRect(g, image.Rect(20, 40, 180, 41), 255)
	segs, err := HoughSegments(g, HoughParams{Rho: 1, Theta: math.Pi / 180, Threshold: 50, MinLineLength: 100, MaxLineGap: 20})
	require.NoError(t, err)
	require.Len(t, segs, 1)
	s := segs[0]
	assert.Equal(t, Segment{X1: 20, Y1: 40, X2: 179, Y2: 40}, s)
	assert.InDelta(t, 0, s.AngleDeg(), 1e-9)
	assert.InDelta(t, 40, s.MidY(), 1e-9)
}

func TestHoughBridgesSmallGaps(t *testing.T) {
	g := filledGray(200, 100, 0)
	fillRect(g, image.Rect(20, 40, 100, 41), 255)
	fillRect(g, image.Rect(110, 40, 180, 41), 255)
	segs, err := HoughSegments(g, HoughParams{Rho: 1, Theta: math.Pi / 180, Threshold: 50, MinLineLength: 100, MaxLineGap: 20})
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, 20, segs[0].X1)
	assert.Equal(t, 179, segs[0].X2)
}

func TestRGBToHSV(t *testing.T) {
	cases := []struct {
		r, g, b uint8
		h, s, v uint8
	}{
		{255, 0, 0, 0, 255, 255},
		{0, 255, 0, 60, 255, 255},
		{0, 0, 255, 120, 255, 255},
		{128, 128, 128, 0, 0, 128},
		{0, 0, 0, 0, 0, 0},
	}
	for _, tc := range cases {
		h, s, v := rgbToHSV(tc.r, tc.g, tc.b)
		assert.Equal(t, [3]uint8{tc.h, tc.s, tc.v}, [3]uint8{h, s, v}, "rgb=%d,%d,%d", tc.r, tc.g, tc.b)
	}
}
