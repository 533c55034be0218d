package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"shelfwatch/internal/model"
)

// Source yields frames in arrival order. Next returns io.EOF at end of
// stream and a *DecodeError for a frame that could not be decoded; the
// caller may keep reading after a DecodeError.
type Source interface {
	Next(ctx context.Context) (model.Frame, error)
	Close() error
}

type DecodeError struct {
	Origin string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame %s: %v", e.Origin, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == model.ErrFrameDecode }

// Decode turns an encoded image into an RGBA raster with origin (0,0). When
// width and height are both positive the image is scaled to that size.
func Decode(origin string, data []byte, width, height int) (*image.RGBA, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Origin: origin, Err: fmt.Errorf("empty payload")}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Origin: origin, Err: err}
	}
	return ToRGBA(img, width, height), nil
}

func ToRGBA(img image.Image, width, height int) *image.RGBA {
	b := img.Bounds()
	if width > 0 && height > 0 && (b.Dx() != width || b.Dy() != height) {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		return dst
	}
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
