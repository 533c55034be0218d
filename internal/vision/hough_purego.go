//go:build purego

package vision

import (
	"image"
	"math"
	"sort"
)

type houghCell struct {
	theta, rho int
	votes      int
}

// HoughSegments finds line segments in a binary edge map. Accumulator cells
// are visited strongest first; each cell walks its line, collecting runs of
// unclaimed edge pixels that are no more than MaxLineGap apart, and claims
// the pixels of every run at least MinLineLength long. The result is
// deterministic for a given input.
func HoughSegments(edges *image.Gray, p HoughParams) ([]Segment, error) {
	w, h := edges.Rect.Dx(), edges.Rect.Dy()
	if w == 0 || h == 0 || p.Rho <= 0 || p.Theta <= 0 {
		return nil, nil
	}
	if p.Threshold < 1 {
		p.Threshold = 1
	}
	on := make([]bool, w*h)
	var points []image.Point
	for y := 0; y < h; y++ {
		off := edges.PixOffset(edges.Rect.Min.X, edges.Rect.Min.Y+y)
		for x := 0; x < w; x++ {
			if edges.Pix[off+x] != 0 {
				on[y*w+x] = true
				points = append(points, image.Pt(x, y))
			}
		}
	}
	if len(points) == 0 {
		return nil, nil
	}

	numTheta := int(math.Round(math.Pi / p.Theta))
	if numTheta < 1 {
		numTheta = 1
	}
	cosT := make([]float64, numTheta)
	sinT := make([]float64, numTheta)
	for t := 0; t < numTheta; t++ {
		cosT[t] = math.Cos(float64(t) * p.Theta)
		sinT[t] = math.Sin(float64(t) * p.Theta)
	}
	maxRho := math.Hypot(float64(w), float64(h))
	offset := int(math.Ceil(maxRho / p.Rho))
	numRho := 2*offset + 1
	acc := make([]int, numTheta*numRho)
	for _, pt := range points {
		for t := 0; t < numTheta; t++ {
			r := int(math.Round((float64(pt.X)*cosT[t]+float64(pt.Y)*sinT[t])/p.Rho)) + offset
			acc[t*numRho+r]++
		}
	}
	var cells []houghCell
	for t := 0; t < numTheta; t++ {
		for r := 0; r < numRho; r++ {
			if v := acc[t*numRho+r]; v >= p.Threshold {
				cells = append(cells, houghCell{theta: t, rho: r, votes: v})
			}
		}
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].votes != cells[j].votes {
			return cells[i].votes > cells[j].votes
		}
		if cells[i].theta != cells[j].theta {
			return cells[i].theta < cells[j].theta
		}
		return cells[i].rho < cells[j].rho
	})

	claimed := make([]bool, w*h)
	var out []Segment
	line := make([]image.Point, 0, w+h)
	for _, c := range cells {
		rho := float64(c.rho-offset) * p.Rho
		line = walkLine(line[:0], w, h, cosT[c.theta], sinT[c.theta], rho)
		live := 0
		for _, pt := range line {
			i := pt.Y*w + pt.X
			if on[i] && !claimed[i] {
				live++
			}
		}
		if live < p.Threshold {
			continue
		}
		out = append(out, collectRuns(line, w, on, claimed, p)...)
	}
	return out, nil
}

// walkLine rasterises x*cos + y*sin = rho across the image along its
// dominant axis.
func walkLine(dst []image.Point, w, h int, cos, sin, rho float64) []image.Point {
	if math.Abs(sin) >= math.Abs(cos) {
		for x := 0; x < w; x++ {
			y := int(math.Round((rho - float64(x)*cos) / sin))
			if y >= 0 && y < h {
				dst = append(dst, image.Pt(x, y))
			}
		}
		return dst
	}
	for y := 0; y < h; y++ {
		x := int(math.Round((rho - float64(y)*sin) / cos))
		if x >= 0 && x < w {
			dst = append(dst, image.Pt(x, y))
		}
	}
	return dst
}

func collectRuns(line []image.Point, w int, on, claimed []bool, p HoughParams) []Segment {
	var out []Segment
	start, last := -1, -1
	var members []int
	flush := func() {
		if start >= 0 {
			a, b := line[start], line[last]
			seg := Segment{X1: a.X, Y1: a.Y, X2: b.X, Y2: b.Y}
			if seg.Length() >= float64(p.MinLineLength) {
				out = append(out, seg)
				for _, i := range members {
					claimed[i] = true
				}
			}
		}
		start, last = -1, -1
		members = members[:0]
	}
	for k, pt := range line {
		i := pt.Y*w + pt.X
		if !on[i] || claimed[i] {
			continue
		}
		if start >= 0 && k-last-1 > p.MaxLineGap {
			flush()
		}
		if start < 0 {
			start = k
		}
		last = k
		members = append(members, i)
	}
	flush()
	return out
}
