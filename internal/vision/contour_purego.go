//go:build purego

package vision

import "image"

// clockwise from west, y pointing down
var ring = [8]image.Point{
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
	{1, 0}, {1, 1}, {0, 1}, {-1, 1},
}

func ringIndex(d image.Point) int {
	for i, r := range ring {
		if r == d {
			return i
		}
	}
	return 0
}

// ExternalContours returns the outer boundaries of 8-connected blobs that
// are not enclosed by another blob, ordered by their top-left pixel.
func ExternalContours(bin *image.Gray) ([]Contour, error) {
	w, h := bin.Rect.Dx(), bin.Rect.Dy()
	if w == 0 || h == 0 {
		return nil, nil
	}
	fg := make([]bool, w*h)
	for y := 0; y < h; y++ {
		off := bin.PixOffset(bin.Rect.Min.X, bin.Rect.Min.Y+y)
		for x := 0; x < w; x++ {
			fg[y*w+x] = bin.Pix[off+x] != 0
		}
	}
	isFG := func(x, y int) bool {
		return x >= 0 && y >= 0 && x < w && y < h && fg[y*w+x]
	}

	// background reachable from the border through 4-connected steps
	outside := make([]bool, w*h)
	queue := make([]int, 0, 2*(w+h))
	seed := func(x, y int) {
		i := y*w + x
		if !fg[i] && !outside[i] {
			outside[i] = true
			queue = append(queue, i)
		}
	}
	for x := 0; x < w; x++ {
		seed(x, 0)
		seed(x, h-1)
	}
	for y := 0; y < h; y++ {
		seed(0, y)
		seed(w-1, y)
	}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		x, y := i%w, i/w
		if x > 0 {
			seed(x-1, y)
		}
		if x < w-1 {
			seed(x+1, y)
		}
		if y > 0 {
			seed(x, y-1)
		}
		if y < h-1 {
			seed(x, y+1)
		}
	}
	touchesOutside := func(x, y int) bool {
		if x == 0 || y == 0 || x == w-1 || y == h-1 {
			return true
		}
		return outside[y*w+x-1] || outside[y*w+x+1] || outside[(y-1)*w+x] || outside[(y+1)*w+x]
	}

	seen := make([]bool, w*h)
	var out []Contour
	var stack []int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if !fg[i] || seen[i] {
				continue
			}
			seen[i] = true
			stack = append(stack[:0], i)
			external := false
			size := 0
			bounds := image.Rect(x, y, x+1, y+1)
			for len(stack) > 0 {
				j := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				size++
				jx, jy := j%w, j/w
				bounds = bounds.Union(image.Rect(jx, jy, jx+1, jy+1))
				if !external && touchesOutside(jx, jy) {
					external = true
				}
				for _, d := range ring {
					nx, ny := jx+d.X, jy+d.Y
					if !isFG(nx, ny) {
						continue
					}
					k := ny*w + nx
					if !seen[k] {
						seen[k] = true
						stack = append(stack, k)
					}
				}
			}
			if !external {
				continue
			}
			out = append(out, Contour{
				Points: traceBoundary(isFG, image.Pt(x, y), 4*size+8),
				Bounds: bounds,
			})
		}
	}
	return out, nil
}

// traceBoundary follows the Moore neighbourhood of start, which must be the
// top-left pixel of its blob, until the first step repeats.
func traceBoundary(isFG func(x, y int) bool, start image.Point, limit int) []image.Point {
	pts := []image.Point{start}
	c, back := start, 0
	var second image.Point
	for step := 0; step < limit; step++ {
		next, nback, ok := mooreStep(isFG, c, back)
		if !ok {
			break
		}
		if step == 0 {
			second = next
		} else if c == start && next == second {
			break
		}
		c, back = next, nback
		pts = append(pts, c)
	}
	if len(pts) > 1 && pts[len(pts)-1] == start {
		pts = pts[:len(pts)-1]
	}
	return pts
}

func mooreStep(isFG func(x, y int) bool, c image.Point, back int) (image.Point, int, bool) {
	for k := 1; k <= 8; k++ {
		d := (back + k) % 8
		p := c.Add(ring[d])
		if isFG(p.X, p.Y) {
			prev := c.Add(ring[(back+k-1)%8])
			return p, ringIndex(prev.Sub(p)), true
		}
	}
	return c, back, false
}
