//go:build !purego

package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRGBMatPacksSubImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.SetRGBA(3, 2, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	sub := img.SubImage(image.Rect(2, 2, 5, 4))
	m, err := RGBMat(sub)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, 2, m.Rows())
	assert.Equal(t, 3, m.Cols())
	px := m.ToBytes()
	require.Len(t, px, 2*3*3)
	assert.Equal(t, []byte{10, 20, 30}, px[3:6])
}

func TestGrayMatRoundTrip(t *testing.T) {
	g := filledGray(5, 3, 0)
	g.SetGray(4, 2, color.Gray{Y: 200})
	m, err := GrayMat(g.SubImage(image.Rect(1, 1, 5, 3)).(*image.Gray))
	require.NoError(t, err)
	defer m.Close()
	back, err := GrayImage(m)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 2), back.Rect)
	assert.Equal(t, uint8(200), back.GrayAt(3, 1).Y)
}

func TestGrayImageRejectsColorMat(t *testing.T) {
	m, err := RGBMat(image.NewRGBA(image.Rect(0, 0, 2, 2)))
	require.NoError(t, err)
	defer m.Close()
	_, err = GrayImage(m)
	assert.Error(t, err)
}
