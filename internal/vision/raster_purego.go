//go:build purego

package vision

import (
	"image"
	"image/color"
	"math"
)

// Grayscale converts img with the BT.601 luma weights.
func Grayscale(img image.Image) (*image.Gray, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	switch src := img.(type) {
	case *image.RGBA:
		for y := 0; y < h; y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			row := src.Pix[off : off+4*w]
			for x := 0; x < w; x++ {
				out.Pix[y*out.Stride+x] = luma(row[4*x], row[4*x+1], row[4*x+2])
			}
		}
	case *image.Gray:
		for y := 0; y < h; y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Pix[y*out.Stride:y*out.Stride+w], src.Pix[off:off+w])
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
				out.Pix[y*out.Stride+x] = luma(c.R, c.G, c.B)
			}
		}
	}
	return out, nil
}

func luma(r, g, b uint8) uint8 {
	return clampByte(0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b))
}

func clampByte(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// reflect101 maps an out-of-range index as gfedcb|abcdefgh|gfedcba.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func gaussianKernel(ksize int) []float64 {
	switch ksize {
	case 1:
		return []float64{1}
	case 3:
		return []float64{0.25, 0.5, 0.25}
	case 5:
		return []float64{1.0 / 16, 4.0 / 16, 6.0 / 16, 4.0 / 16, 1.0 / 16}
	case 7:
		return []float64{1.0 / 64, 6.0 / 64, 15.0 / 64, 20.0 / 64, 15.0 / 64, 6.0 / 64, 1.0 / 64}
	}
	sigma := 0.3*(float64(ksize-1)*0.5-1) + 0.8
	k := make([]float64, ksize)
	r := ksize / 2
	var sum float64
	for i := range k {
		d := float64(i - r)
		k[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// GaussianBlur smooths src with a separable ksize x ksize kernel whose sigma
// is derived from the size. Even sizes are rounded up.
func GaussianBlur(src *image.Gray, ksize int) (*image.Gray, error) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if ksize <= 1 || w == 0 || h == 0 {
		copyGray(out, src)
		return out, nil
	}
	if ksize%2 == 0 {
		ksize++
	}
	k := gaussianKernel(ksize)
	r := ksize / 2
	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := src.Pix[src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y):]
		for x := 0; x < w; x++ {
			var s float64
			for i := -r; i <= r; i++ {
				s += k[i+r] * float64(row[reflect101(x+i, w)])
			}
			tmp[y*w+x] = s
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var s float64
			for i := -r; i <= r; i++ {
				s += k[i+r] * tmp[reflect101(y+i, h)*w+x]
			}
			out.Pix[y*out.Stride+x] = clampByte(s)
		}
	}
	return out, nil
}

func copyGray(dst, src *image.Gray) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for y := 0; y < h; y++ {
		off := src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y)
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+w], src.Pix[off:off+w])
	}
}

// Or returns the pixelwise maximum of two equally sized binary maps.
func Or(a, b *image.Gray) (*image.Gray, error) {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	copyGray(out, a)
	if b.Rect.Dx() != w || b.Rect.Dy() != h {
		return out, nil
	}
	for y := 0; y < h; y++ {
		off := b.PixOffset(b.Rect.Min.X, b.Rect.Min.Y+y)
		for x := 0; x < w; x++ {
			if v := b.Pix[off+x]; v > out.Pix[y*out.Stride+x] {
				out.Pix[y*out.Stride+x] = v
			}
		}
	}
	return out, nil
}

// Dilate applies a ksize x ksize rectangular max filter. Pixels outside the
// image never win.
func Dilate(src *image.Gray, ksize int) (*image.Gray, error) {
	return morph(src, ksize, true), nil
}

// Erode applies a ksize x ksize rectangular min filter.
func Erode(src *image.Gray, ksize int) (*image.Gray, error) {
	return morph(src, ksize, false), nil
}

// Close is a dilation followed by an erosion.
func Close(src *image.Gray, ksize int) (*image.Gray, error) {
	d, err := Dilate(src, ksize)
	if err != nil {
		return nil, err
	}
	return Erode(d, ksize)
}

func morph(src *image.Gray, ksize int, dilate bool) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if ksize <= 1 {
		copyGray(out, src)
		return out
	}
	r := ksize / 2
	at := func(x, y int) uint8 {
		return src.Pix[src.PixOffset(src.Rect.Min.X+x, src.Rect.Min.Y+y)]
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v uint8
			if !dilate {
				v = 255
			}
			for dy := -r; dy <= r; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				for dx := -r; dx <= r; dx++ {
					xx := x + dx
					if xx < 0 || xx >= w {
						continue
					}
					p := at(xx, yy)
					if dilate && p > v || !dilate && p < v {
						v = p
					}
				}
			}
			out.Pix[y*out.Stride+x] = v
		}
	}
	return out
}

// ToHSV converts img to 8-bit HSV planes.
func ToHSV(img image.Image) (HSV, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := HSV{Width: w, Height: h, Hue: make([]uint8, w*h), Sat: make([]uint8, w*h), Val: make([]uint8, w*h)}
	rgba, fast := img.(*image.RGBA)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r, g, bl uint8
			if fast {
				off := rgba.PixOffset(b.Min.X+x, b.Min.Y+y)
				r, g, bl = rgba.Pix[off], rgba.Pix[off+1], rgba.Pix[off+2]
			} else {
				c := color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
				r, g, bl = c.R, c.G, c.B
			}
			i := y*w + x
			out.Hue[i], out.Sat[i], out.Val[i] = rgbToHSV(r, g, bl)
		}
	}
	return out, nil
}

func rgbToHSV(r8, g8, b8 uint8) (uint8, uint8, uint8) {
	r, g, b := float64(r8), float64(g8), float64(b8)
	v := math.Max(r, math.Max(g, b))
	mn := math.Min(r, math.Min(g, b))
	diff := v - mn
	var s, h float64
	if v > 0 {
		s = 255 * diff / v
	}
	if diff > 0 {
		switch v {
		case r:
			h = 60 * (g - b) / diff
		case g:
			h = 120 + 60*(b-r)/diff
		default:
			h = 240 + 60*(r-g)/diff
		}
		if h < 0 {
			h += 360
		}
	}
	hh := math.Round(h / 2)
	if hh >= 180 {
		hh -= 180
	}
	return uint8(hh), clampByte(s), uint8(v)
}

// LaplacianVariance is the variance of the 4-neighbour Laplacian response,
// computed with reflected borders.
func LaplacianVariance(g *image.Gray) (float64, error) {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w == 0 || h == 0 {
		return 0, nil
	}
	at := func(x, y int) float64 {
		return float64(g.Pix[g.PixOffset(g.Rect.Min.X+reflect101(x, w), g.Rect.Min.Y+reflect101(y, h))])
	}
	var sum, sq float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			l := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
			sum += l
			sq += l * l
		}
	}
	n := float64(w * h)
	mean := sum / n
	v := sq/n - mean*mean
	if v < 0 {
		return 0, nil
	}
	return v, nil
}

