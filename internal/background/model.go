// Package background keeps one adaptive background model per monitored
// region and reports the moving pixels of each new crop.
package background

import (
	"image"

	"shelfwatch/internal/config"
)

// Mask values. Everything else is background.
const (
	Foreground uint8 = 255
	Shadow     uint8 = 127
)

// Params tune a region's model. The OpenCV subtractor uses History,
// VarThreshold and DetectShadows; the remaining fields tune the purego
// mixture.
type Params struct {
	History       int
	VarThreshold  float64
	DetectShadows bool
	// ShadowThreshold is the lowest brightness ratio still counted as shadow.
	ShadowThreshold float64
	// LearningRate < 0 selects 1/min(frames, History).
	LearningRate float64
	MaxModes     int
}

func ParamsFrom(cfg config.BackgroundConfig) Params {
	return Params{
		History:         cfg.History,
		VarThreshold:    cfg.VarThreshold,
		DetectShadows:   cfg.DetectShadows,
		ShadowThreshold: cfg.ShadowThreshold,
		LearningRate:    cfg.LearningRate,
		MaxModes:        cfg.MaxModes,
	}.withDefaults()
}

func (p Params) withDefaults() Params {
	if p.History <= 0 {
		p.History = 500
	}
	if p.VarThreshold <= 0 {
		p.VarThreshold = 16
	}
	if p.ShadowThreshold <= 0 {
		p.ShadowThreshold = 0.5
	}
	if p.MaxModes <= 0 || p.MaxModes > 8 {
		p.MaxModes = 4
	}
	return p
}

// ForegroundRatio is the fraction of non-zero mask pixels, shadows included.
func ForegroundRatio(mask *image.Gray) float64 {
	if mask == nil {
		return 0
	}
	w, h := mask.Rect.Dx(), mask.Rect.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	n := 0
	for y := 0; y < h; y++ {
		off := mask.PixOffset(mask.Rect.Min.X, mask.Rect.Min.Y+y)
		for _, v := range mask.Pix[off : off+w] {
			if v != 0 {
				n++
			}
		}
	}
	return float64(n) / float64(w*h)
}
