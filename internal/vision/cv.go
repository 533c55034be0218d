//go:build !purego

package vision

import (
	"fmt"
	"image"
	"image/color"
	"runtime"
	"sort"

	"gocv.io/x/gocv"
)

// RGBMat copies img into a new 8-bit three channel Mat in RGB order. The
// caller closes it.
func RGBMat(img image.Image) (gocv.Mat, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	buf := make([]byte, 0, 3*w*h)
	rgba, fast := img.(*image.RGBA)
	for y := 0; y < h; y++ {
		if fast {
			off := rgba.PixOffset(b.Min.X, b.Min.Y+y)
			row := rgba.Pix[off : off+4*w]
			for x := 0; x < w; x++ {
				buf = append(buf, row[4*x], row[4*x+1], row[4*x+2])
			}
			continue
		}
		for x := 0; x < w; x++ {
			c := color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			buf = append(buf, c.R, c.G, c.B)
		}
	}
	return matFromBytes(h, w, gocv.MatTypeCV8UC3, buf)
}

// GrayMat copies g into a new 8-bit single channel Mat. The caller closes it.
func GrayMat(g *image.Gray) (gocv.Mat, error) {
	return matFromBytes(g.Rect.Dy(), g.Rect.Dx(), gocv.MatTypeCV8UC1, GrayValues(g))
}

// matFromBytes clones the wrapped buffer so the Mat never points into Go
// memory.
func matFromBytes(rows, cols int, mt gocv.MatType, buf []byte) (gocv.Mat, error) {
	view, err := gocv.NewMatFromBytes(rows, cols, mt, buf)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("vision: %dx%d mat: %w", cols, rows, err)
	}
	m := view.Clone()
	view.Close()
	runtime.KeepAlive(buf)
	return m, nil
}

// GrayImage copies an 8-bit single channel Mat into a new gray image.
func GrayImage(m gocv.Mat) (*image.Gray, error) {
	if m.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("vision: want 8-bit single channel mat, got type %d", int(m.Type()))
	}
	out := image.NewGray(image.Rect(0, 0, m.Cols(), m.Rows()))
	copy(out.Pix, m.ToBytes())
	return out, nil
}

func packedGray(g *image.Gray) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	return &image.Gray{Pix: GrayValues(g), Stride: w, Rect: image.Rect(0, 0, w, h)}
}

// grayOp runs op on a Mat copy of src. Empty inputs skip OpenCV.
func grayOp(src *image.Gray, name string, op func(in gocv.Mat, out *gocv.Mat) error) (*image.Gray, error) {
	if src.Rect.Empty() {
		return image.NewGray(image.Rect(0, 0, src.Rect.Dx(), src.Rect.Dy())), nil
	}
	in, err := GrayMat(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	out := gocv.NewMat()
	defer out.Close()
	if err := op(in, &out); err != nil {
		return nil, fmt.Errorf("vision: %s: %w", name, err)
	}
	return GrayImage(out)
}

// Grayscale converts img with the BT.601 luma weights.
func Grayscale(img image.Image) (*image.Gray, error) {
	if g, ok := img.(*image.Gray); ok {
		return packedGray(g), nil
	}
	b := img.Bounds()
	if b.Empty() {
		return image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy())), nil
	}
	src, err := RGBMat(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	if err := gocv.CvtColor(src, &dst, gocv.ColorRGBToGray); err != nil {
		return nil, fmt.Errorf("vision: grayscale: %w", err)
	}
	return GrayImage(dst)
}

// GaussianBlur smooths src with a ksize x ksize kernel whose sigma is
// derived from the size, reflecting at the borders. Even sizes are rounded
// up.
func GaussianBlur(src *image.Gray, ksize int) (*image.Gray, error) {
	if ksize <= 1 {
		return packedGray(src), nil
	}
	if ksize%2 == 0 {
		ksize++
	}
	return grayOp(src, "blur", func(in gocv.Mat, out *gocv.Mat) error {
		return gocv.GaussianBlur(in, out, image.Pt(ksize, ksize), 0, 0, gocv.BorderDefault)
	})
}

// Canny returns a binary edge map (0 or 255) from 3x3 Sobel gradients with
// an L1 magnitude and hysteresis between low and high.
func Canny(src *image.Gray, low, high float64) (*image.Gray, error) {
	if low > high {
		low, high = high, low
	}
	return grayOp(src, "canny", func(in gocv.Mat, out *gocv.Mat) error {
		return gocv.Canny(in, out, float32(low), float32(high))
	})
}

// Or returns the pixelwise union of two equally sized binary maps. A size
// mismatch returns a copy of a.
func Or(a, b *image.Gray) (*image.Gray, error) {
	if a.Rect.Size() != b.Rect.Size() || a.Rect.Empty() {
		return packedGray(a), nil
	}
	other, err := GrayMat(b)
	if err != nil {
		return nil, err
	}
	defer other.Close()
	return grayOp(a, "or", func(in gocv.Mat, out *gocv.Mat) error {
		return gocv.BitwiseOr(in, other, out)
	})
}

func morph(src *image.Gray, ksize int, name string, op func(in gocv.Mat, out *gocv.Mat, kernel gocv.Mat) error) (*image.Gray, error) {
	if ksize <= 1 {
		return packedGray(src), nil
	}
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(ksize, ksize))
	defer kernel.Close()
	return grayOp(src, name, func(in gocv.Mat, out *gocv.Mat) error {
		return op(in, out, kernel)
	})
}

// Dilate applies a ksize x ksize rectangular max filter. Pixels outside the
// image never win.
func Dilate(src *image.Gray, ksize int) (*image.Gray, error) {
	return morph(src, ksize, "dilate", gocv.Dilate)
}

// Erode applies a ksize x ksize rectangular min filter.
func Erode(src *image.Gray, ksize int) (*image.Gray, error) {
	return morph(src, ksize, "erode", gocv.Erode)
}

// Close is a dilation followed by an erosion.
func Close(src *image.Gray, ksize int) (*image.Gray, error) {
	return morph(src, ksize, "close", func(in gocv.Mat, out *gocv.Mat, kernel gocv.Mat) error {
		return gocv.MorphologyEx(in, out, gocv.MorphClose, kernel)
	})
}

// HoughSegments finds line segments in a binary edge map with the
// progressive probabilistic Hough transform.
func HoughSegments(edges *image.Gray, p HoughParams) ([]Segment, error) {
	if edges.Rect.Empty() || p.Rho <= 0 || p.Theta <= 0 {
		return nil, nil
	}
	if p.Threshold < 1 {
		p.Threshold = 1
	}
	in, err := GrayMat(edges)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	lines := gocv.NewMat()
	defer lines.Close()
	err = gocv.HoughLinesPWithParams(in, &lines, float32(p.Rho), float32(p.Theta), p.Threshold,
		float32(p.MinLineLength), float32(p.MaxLineGap))
	if err != nil {
		return nil, fmt.Errorf("vision: hough: %w", err)
	}
	out := make([]Segment, 0, lines.Rows())
	for i := 0; i < lines.Rows(); i++ {
		v := lines.GetVeciAt(i, 0)
		out = append(out, Segment{X1: int(v[0]), Y1: int(v[1]), X2: int(v[2]), Y2: int(v[3])})
	}
	return out, nil
}

// ExternalContours returns the outer boundaries of 8-connected blobs that
// are not enclosed by another blob, ordered by bounding box top then left.
func ExternalContours(bin *image.Gray) ([]Contour, error) {
	if bin.Rect.Empty() {
		return nil, nil
	}
	in, err := GrayMat(bin)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	found := gocv.FindContours(in, gocv.RetrievalExternal, gocv.ChainApproxNone)
	defer found.Close()
	out := make([]Contour, 0, found.Size())
	for i := 0; i < found.Size(); i++ {
		c := found.At(i)
		out = append(out, Contour{Points: c.ToPoints(), Bounds: gocv.BoundingRect(c)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Bounds.Min, out[j].Bounds.Min
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	return out, nil
}

// ToHSV converts img to 8-bit HSV planes.
func ToHSV(img image.Image) (HSV, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := HSV{Width: w, Height: h, Hue: make([]uint8, w*h), Sat: make([]uint8, w*h), Val: make([]uint8, w*h)}
	if w == 0 || h == 0 {
		return out, nil
	}
	src, err := RGBMat(img)
	if err != nil {
		return out, err
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	if err := gocv.CvtColor(src, &dst, gocv.ColorRGBToHSV); err != nil {
		return out, fmt.Errorf("vision: hsv: %w", err)
	}
	px := dst.ToBytes()
	if len(px) < 3*w*h {
		return out, fmt.Errorf("vision: hsv: got %d bytes for %dx%d", len(px), w, h)
	}
	for i := 0; i < w*h; i++ {
		out.Hue[i], out.Sat[i], out.Val[i] = px[3*i], px[3*i+1], px[3*i+2]
	}
	return out, nil
}

// LaplacianVariance is the variance of the 4-neighbour Laplacian response,
// computed with reflected borders.
func LaplacianVariance(g *image.Gray) (float64, error) {
	if g.Rect.Empty() {
		return 0, nil
	}
	in, err := GrayMat(g)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	lap := gocv.NewMat()
	defer lap.Close()
	if err := gocv.Laplacian(in, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault); err != nil {
		return 0, fmt.Errorf("vision: laplacian: %w", err)
	}
	vals, err := lap.DataPtrFloat64()
	if err != nil {
		return 0, fmt.Errorf("vision: laplacian: %w", err)
	}
	var sum, sq float64
	for _, v := range vals {
		sum += v
		sq += v * v
	}
	n := float64(len(vals))
	mean := sum / n
	if v := sq/n - mean*mean; v > 0 {
		return v, nil
	}
	return 0, nil
}
