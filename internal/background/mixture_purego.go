//go:build purego

package background

import (
	"fmt"
	"image"
	"image/color"

	"shelfwatch/internal/model"
)

const (
	backgroundRatio = 0.9
	varThresholdGen = 9.0
	varInit         = 15.0
	varMin          = 4.0
	varMax          = 75.0
	complexity      = 0.05
)

// Model is an adaptive per-pixel Gaussian mixture for one region. It is not
// safe for concurrent use.
type Model struct {
	p      Params
	w, h   int
	frames int

	modes  []uint8
	weight []float32
	mean   []float32
	vari   []float32
}

func New(p Params) *Model {
	return &Model{p: p.withDefaults()}
}

func (m *Model) Params() Params { return m.p }

// Frames is the number of frames absorbed since the last reset.
func (m *Model) Frames() int { return m.frames }

func (m *Model) Reset() {
	m.frames = 0
	m.w, m.h = 0, 0
	m.modes, m.weight, m.mean, m.vari = nil, nil, nil, nil
}

// Close drops the model state. The model can be reused afterwards.
func (m *Model) Close() error {
	m.Reset()
	return nil
}

// Update absorbs crop into the model and returns its foreground mask. The
// first frame after a reset only seeds the model. On failure the mask is
// all zero and the error wraps model.ErrBackgroundModel.
func (m *Model) Update(crop image.Image) (mask *image.Gray, err error) {
	b := crop.Bounds()
	w, h := b.Dx(), b.Dy()
	mask = image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return mask, fmt.Errorf("%w: empty crop", model.ErrBackgroundModel)
	}
	defer func() {
		if r := recover(); r != nil {
			mask = image.NewGray(image.Rect(0, 0, w, h))
			err = fmt.Errorf("%w: %v", model.ErrBackgroundModel, r)
		}
	}()
	if m.frames > 0 && (w != m.w || h != m.h) {
		return mask, fmt.Errorf("%w: crop is %dx%d, model is %dx%d", model.ErrBackgroundModel, w, h, m.w, m.h)
	}
	px := pixelReader(crop)
	if m.frames == 0 {
		m.seed(w, h, px)
		m.frames = 1
		return mask, nil
	}
	m.frames++
	alpha := m.p.LearningRate
	if alpha < 0 || alpha > 1 {
		alpha = 1 / float64(min(m.frames, m.p.History))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl := px(x, y)
			mask.Pix[y*mask.Stride+x] = m.updatePixel(y*w+x, [3]float32{r, g, bl}, float32(alpha))
		}
	}
	return mask, nil
}

func (m *Model) seed(w, h int, px func(x, y int) (float32, float32, float32)) {
	k := m.p.MaxModes
	n := w * h
	m.w, m.h = w, h
	m.modes = make([]uint8, n)
	m.weight = make([]float32, n*k)
	m.mean = make([]float32, n*k*3)
	m.vari = make([]float32, n*k)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			r, g, b := px(x, y)
			m.modes[i] = 1
			m.weight[i*k] = 1
			m.mean[i*k*3], m.mean[i*k*3+1], m.mean[i*k*3+2] = r, g, b
			m.vari[i*k] = varInit
		}
	}
}

func (m *Model) updatePixel(i int, d [3]float32, alpha float32) uint8 {
	k := m.p.MaxModes
	base := i * k
	n := int(m.modes[i])
	prune := -alpha * complexity
	tb := float32(m.p.VarThreshold)

	background, fits := false, false
	var total float32
	for j := 0; j < n; j++ {
		wgt := (1-alpha)*m.weight[base+j] + prune
		slot := j
		if !fits {
			v := m.vari[base+j]
			mu := m.mean[(base+j)*3 : (base+j)*3+3]
			d0, d1, d2 := mu[0]-d[0], mu[1]-d[1], mu[2]-d[2]
			dist2 := d0*d0 + d1*d1 + d2*d2
			if total < backgroundRatio && dist2 < tb*v {
				background = true
			}
			if dist2 < varThresholdGen*v {
				fits = true
				wgt += alpha
				q := alpha / wgt
				mu[0] -= q * d0
				mu[1] -= q * d1
				mu[2] -= q * d2
				nv := v + q*(dist2-v)
				m.vari[base+j] = min(max(nv, varMin), varMax)
				for slot > 0 && wgt >= m.weight[base+slot-1] {
					m.swap(base, slot, slot-1)
					slot--
				}
			}
		}
		if wgt < -prune {
			wgt = 0
			n--
		}
		m.weight[base+slot] = wgt
		total += wgt
	}
	if total > 0 {
		inv := 1 / total
		for j := 0; j < n; j++ {
			m.weight[base+j] *= inv
		}
	}
	if !fits && alpha > 0 {
		slot := n
		if n == k {
			slot = k - 1
		} else {
			n++
		}
		if n == 1 {
			m.weight[base] = 1
		} else {
			m.weight[base+slot] = alpha
			for j := 0; j < n-1; j++ {
				m.weight[base+j] *= 1 - alpha
			}
		}
		mu := m.mean[(base+slot)*3 : (base+slot)*3+3]
		mu[0], mu[1], mu[2] = d[0], d[1], d[2]
		m.vari[base+slot] = varInit
		for l := n - 1; l > 0 && alpha >= m.weight[base+l-1]; l-- {
			m.swap(base, l, l-1)
		}
	}
	m.modes[i] = uint8(n)
	if background {
		return 0
	}
	if m.p.DetectShadows && m.isShadow(base, n, d) {
		return Shadow
	}
	return Foreground
}

func (m *Model) swap(base, a, b int) {
	m.weight[base+a], m.weight[base+b] = m.weight[base+b], m.weight[base+a]
	m.vari[base+a], m.vari[base+b] = m.vari[base+b], m.vari[base+a]
	for c := 0; c < 3; c++ {
		ia, ib := (base+a)*3+c, (base+b)*3+c
		m.mean[ia], m.mean[ib] = m.mean[ib], m.mean[ia]
	}
}

func (m *Model) isShadow(base, n int, d [3]float32) bool {
	tau := float32(m.p.ShadowThreshold)
	tb := float32(m.p.VarThreshold)
	var total float32
	for j := 0; j < n; j++ {
		mu := m.mean[(base+j)*3 : (base+j)*3+3]
		num := mu[0]*d[0] + mu[1]*d[1] + mu[2]*d[2]
		den := mu[0]*mu[0] + mu[1]*mu[1] + mu[2]*mu[2]
		if den == 0 {
			return false
		}
		if num <= den && num >= tau*den {
			a := num / den
			e0, e1, e2 := a*mu[0]-d[0], a*mu[1]-d[1], a*mu[2]-d[2]
			if e0*e0+e1*e1+e2*e2 < tb*m.vari[base+j]*a*a {
				return true
			}
		}
		total += m.weight[base+j]
		if total > backgroundRatio {
			return false
		}
	}
	return false
}

func pixelReader(img image.Image) func(x, y int) (float32, float32, float32) {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok {
		return func(x, y int) (float32, float32, float32) {
			off := rgba.PixOffset(b.Min.X+x, b.Min.Y+y)
			return float32(rgba.Pix[off]), float32(rgba.Pix[off+1]), float32(rgba.Pix[off+2])
		}
	}
	return func(x, y int) (float32, float32, float32) {
		c := color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
		return float32(c.R), float32(c.G), float32(c.B)
	}
}
