// Package vision holds the raster primitives used by region detection and
// occupancy scoring. Every result image is anchored at (0,0). The default
// build runs them on OpenCV through gocv; the purego build tag selects a
// pure Go rendition with the same contracts.
package vision

import (
	"image"
	"math"
)

type Segment struct {
	X1, Y1, X2, Y2 int
}

func (s Segment) Length() float64 {
	return math.Hypot(float64(s.X2-s.X1), float64(s.Y2-s.Y1))
}

// AngleDeg is the absolute segment angle in degrees, in [0,180].
func (s Segment) AngleDeg() float64 {
	return math.Abs(math.Atan2(float64(s.Y2-s.Y1), float64(s.X2-s.X1)) * 180 / math.Pi)
}

func (s Segment) MidY() float64 {
	return float64(s.Y1+s.Y2) / 2
}

type HoughParams struct {
	Rho           float64
	Theta         float64 // radians
	Threshold     int
	MinLineLength int
	MaxLineGap    int
}

// Contour is the outer boundary of one connected blob of non-zero pixels.
// Bounds is the half-open pixel rectangle the blob covers.
type Contour struct {
	Points []image.Point
	Bounds image.Rectangle
}

// Area is the shoelace area of the boundary polygon through pixel centres.
func (c Contour) Area() float64 {
	n := len(c.Points)
	if n < 3 {
		return 0
	}
	var s float64
	for i := 0; i < n; i++ {
		a, b := c.Points[i], c.Points[(i+1)%n]
		s += float64(a.X*b.Y - b.X*a.Y)
	}
	return math.Abs(s) / 2
}

// Perimeter is the closed arc length of the boundary.
func (c Contour) Perimeter() float64 {
	n := len(c.Points)
	if n < 2 {
		return 0
	}
	var s float64
	for i := 0; i < n; i++ {
		a, b := c.Points[i], c.Points[(i+1)%n]
		s += math.Hypot(float64(b.X-a.X), float64(b.Y-a.Y))
	}
	return s
}

// HSV holds the three 8-bit planes of an image converted with hue in
// [0,180) and saturation and value in [0,255].
type HSV struct {
	Width, Height int
	Hue, Sat, Val []uint8
}

// MeanVariance returns the population mean and variance of values.
func MeanVariance(values []uint8) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum, sq float64
	for _, v := range values {
		f := float64(v)
		sum += f
		sq += f * f
	}
	n := float64(len(values))
	mean := sum / n
	variance := sq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, variance
}

// GrayValues flattens g into a row-major slice.
func GrayValues(g *image.Gray) []uint8 {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := make([]uint8, 0, w*h)
	for y := 0; y < h; y++ {
		off := g.PixOffset(g.Rect.Min.X, g.Rect.Min.Y+y)
		out = append(out, g.Pix[off:off+w]...)
	}
	return out
}

// Histogram counts values into bins buckets covering [0, bins).
// Values at or above bins are ignored.
func Histogram(values []uint8, bins int) []int {
	hist := make([]int, bins)
	for _, v := range values {
		if int(v) < bins {
			hist[v]++
		}
	}
	return hist
}

// Entropy is the Shannon entropy, in bits, of the normalised histogram.
func Entropy(hist []int) float64 {
	total := 0
	for _, c := range hist {
		total += c
	}
	if total == 0 {
		return 0
	}
	var e float64
	for _, c := range hist {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		e -= p * math.Log2(p)
	}
	return e
}

// CountNonZero returns the number of non-zero pixels.
func CountNonZero(g *image.Gray) int {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	n := 0
	for y := 0; y < h; y++ {
		off := g.PixOffset(g.Rect.Min.X, g.Rect.Min.Y+y)
		for _, v := range g.Pix[off : off+w] {
			if v != 0 {
				n++
			}
		}
	}
	return n
}
