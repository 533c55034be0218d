//go:build !purego

package background

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"shelfwatch/internal/model"
	"shelfwatch/internal/vision"
)

// Model wraps an OpenCV MOG2 subtractor for one region. It is not safe for
// concurrent use and must be closed to release the subtractor.
type Model struct {
	p      Params
	w, h   int
	frames int

	mog  gocv.BackgroundSubtractorMOG2
	live bool
}

func New(p Params) *Model {
	return &Model{p: p.withDefaults()}
}

func (m *Model) Params() Params { return m.p }

// Frames is the number of frames absorbed since the last reset.
func (m *Model) Frames() int { return m.frames }

func (m *Model) Reset() {
	if m.live {
		m.mog.Close()
		m.live = false
	}
	m.frames = 0
	m.w, m.h = 0, 0
}

// Close releases the subtractor. The model can be reused afterwards.
func (m *Model) Close() error {
	m.Reset()
	return nil
}

// Update absorbs crop into the model and returns its foreground mask. The
// first frame after a reset only seeds the model. On failure the mask is
// all zero and the error wraps model.ErrBackgroundModel.
func (m *Model) Update(crop image.Image) (*image.Gray, error) {
	b := crop.Bounds()
	w, h := b.Dx(), b.Dy()
	mask := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return mask, fmt.Errorf("%w: empty crop", model.ErrBackgroundModel)
	}
	if m.frames > 0 && (w != m.w || h != m.h) {
		return mask, fmt.Errorf("%w: crop is %dx%d, model is %dx%d", model.ErrBackgroundModel, w, h, m.w, m.h)
	}
	frame, err := vision.RGBMat(crop)
	if err != nil {
		return mask, fmt.Errorf("%w: %v", model.ErrBackgroundModel, err)
	}
	defer frame.Close()
	if !m.live {
		m.mog = gocv.NewBackgroundSubtractorMOG2WithParams(m.p.History, m.p.VarThreshold, m.p.DetectShadows)
		m.live = true
	}
	fg := gocv.NewMat()
	defer fg.Close()
	if err := m.mog.Apply(frame, &fg); err != nil {
		return mask, fmt.Errorf("%w: %v", model.ErrBackgroundModel, err)
	}
	if m.frames == 0 {
		m.w, m.h = w, h
		m.frames = 1
		return mask, nil
	}
	m.frames++
	out, err := vision.GrayImage(fg)
	if err != nil {
		return mask, fmt.Errorf("%w: %v", model.ErrBackgroundModel, err)
	}
	return out, nil
}
