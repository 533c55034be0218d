//go:build purego

package vision

import (
	"image"
	"math"
)

const (
	tan22 = 0.41421356237309503
	tan67 = 2.414213562373095
)

// Canny returns a binary edge map (0 or 255) using 3x3 Sobel gradients with
// an L1 magnitude, non-maximum suppression and hysteresis thresholding.
func Canny(src *image.Gray, low, high float64) (*image.Gray, error) {
	if low > high {
		low, high = high, low
	}
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out, nil
	}
	px := func(x, y int) float64 {
		x, y = clampIndex(x, w), clampIndex(y, h)
		return float64(src.Pix[src.PixOffset(src.Rect.Min.X+x, src.Rect.Min.Y+y)])
	}
	gx := make([]float64, w*h)
	gy := make([]float64, w*h)
	mag := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx := px(x+1, y-1) + 2*px(x+1, y) + px(x+1, y+1) -
				px(x-1, y-1) - 2*px(x-1, y) - px(x-1, y+1)
			dy := px(x-1, y+1) + 2*px(x, y+1) + px(x+1, y+1) -
				px(x-1, y-1) - 2*px(x, y-1) - px(x+1, y-1)
			i := y*w + x
			gx[i], gy[i] = dx, dy
			mag[i] = math.Abs(dx) + math.Abs(dy)
		}
	}
	magAt := func(x, y int) float64 {
		if x < 0 || y < 0 || x >= w || y >= h {
			return 0
		}
		return mag[y*w+x]
	}

	const (
		none uint8 = iota
		weak
		strong
	)
	state := make([]uint8, w*h)
	stack := make([]int, 0, 1024)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			m := mag[i]
			if m <= low {
				continue
			}
			ax, ay := math.Abs(gx[i]), math.Abs(gy[i])
			var peak bool
			switch {
			case ay <= ax*tan22:
				peak = m > magAt(x-1, y) && m >= magAt(x+1, y)
			case ay >= ax*tan67:
				peak = m > magAt(x, y-1) && m >= magAt(x, y+1)
			default:
				s := 1
				if (gx[i] < 0) != (gy[i] < 0) {
					s = -1
				}
				peak = m > magAt(x-s, y-1) && m > magAt(x+s, y+1)
			}
			if !peak {
				continue
			}
			if m > high {
				state[i] = strong
				stack = append(stack, i)
			} else {
				state[i] = weak
			}
		}
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out.Pix[(i/w)*out.Stride+i%w] = 255
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if state[j] == weak {
					state[j] = strong
					stack = append(stack, j)
				}
			}
		}
	}
	return out, nil
}
