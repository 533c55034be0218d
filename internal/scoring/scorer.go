package scoring

import (
	"fmt"
	"image"
	"math"

	"shelfwatch/internal/config"
	"shelfwatch/internal/model"
	"shelfwatch/internal/vision"
)

// Scorer fuses the per-region sub-metrics into an occupancy score in [0,1].
// It holds no per-region state and is safe for concurrent use.
type Scorer struct {
	weights   config.WeightsConfig
	scales    config.ScalesConfig
	cannyLow  float64
	cannyHigh float64
}

func New(cfg config.ScoringConfig) (*Scorer, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConfiguration, err)
	}
	def := config.DefaultConfig().Scoring
	s := &Scorer{
		weights:   cfg.Weights,
		scales:    cfg.Scales,
		cannyLow:  cfg.CannyLow,
		cannyHigh: cfg.CannyHigh,
	}
	if s.cannyLow <= 0 {
		s.cannyLow = def.CannyLow
	}
	if s.cannyHigh <= 0 {
		s.cannyHigh = def.CannyHigh
	}
	sc := &s.scales
	for _, p := range []struct {
		v   *float64
		def float64
	}{
		{&sc.IntensityVariance, def.Scales.IntensityVariance},
		{&sc.ColorVariance, def.Scales.ColorVariance},
		{&sc.Texture, def.Scales.Texture},
		{&sc.HistogramEntropy, def.Scales.HistogramEntropy},
		{&sc.ContourCount, def.Scales.ContourCount},
		{&sc.ContourPerimeter, def.Scales.ContourPerimeter},
		{&sc.ColorEntropy, def.Scales.ColorEntropy},
	} {
		if *p.v <= 0 {
			*p.v = p.def
		}
	}
	return s, nil
}

func (s *Scorer) Weights() config.WeightsConfig { return s.weights }

// Score measures crop and fuses the result. foreground is the ratio of
// moving pixels reported by the region's background model. An empty crop
// scores 0.
func (s *Scorer) Score(crop image.Image, foreground float64) (float64, model.Metrics, error) {
	m, err := s.Measure(crop, foreground)
	if err != nil {
		return 0, m, err
	}
	return s.Fuse(m), m, nil
}

func (s *Scorer) Measure(crop image.Image, foreground float64) (model.Metrics, error) {
	b := crop.Bounds()
	n := b.Dx() * b.Dy()
	if n <= 0 {
		return model.Metrics{}, nil
	}
	gray, err := vision.Grayscale(crop)
	if err != nil {
		return model.Metrics{}, fmt.Errorf("measure: %w", err)
	}
	values := vision.GrayValues(gray)
	edges, err := vision.Canny(gray, s.cannyLow, s.cannyHigh)
	if err != nil {
		return model.Metrics{}, fmt.Errorf("measure: %w", err)
	}
	hsv, err := vision.ToHSV(crop)
	if err != nil {
		return model.Metrics{}, fmt.Errorf("measure: %w", err)
	}
	contours, err := vision.ExternalContours(edges)
	if err != nil {
		return model.Metrics{}, fmt.Errorf("measure: %w", err)
	}
	texture, err := vision.LaplacianVariance(gray)
	if err != nil {
		return model.Metrics{}, fmt.Errorf("measure: %w", err)
	}

	_, grayVar := vision.MeanVariance(values)
	_, hVar := vision.MeanVariance(hsv.Hue)
	_, sVar := vision.MeanVariance(hsv.Sat)
	_, vVar := vision.MeanVariance(hsv.Val)

	var contour float64
	if len(contours) > 0 {
		var perimeter float64
		for _, c := range contours {
			perimeter += c.Perimeter()
		}
		contour = float64(len(contours))/s.scales.ContourCount + perimeter/s.scales.ContourPerimeter
	}
	colorEntropy := vision.Entropy(vision.Histogram(hsv.Hue, 180)) +
		vision.Entropy(vision.Histogram(hsv.Sat, 256))

	return model.Metrics{
		EdgeDensity:       unit(float64(vision.CountNonZero(edges)) / float64(n)),
		IntensityVariance: unit(grayVar / s.scales.IntensityVariance),
		ColorVariance:     unit((hVar + sVar + vVar) / 3 / s.scales.ColorVariance),
		Texture:           unit(texture / s.scales.Texture),
		Histogram:         unit(vision.Entropy(vision.Histogram(values, 256)) / s.scales.HistogramEntropy),
		ForegroundRatio:   unit(foreground),
		ContourComplexity: unit(contour),
		ColorEntropy:      unit(colorEntropy / s.scales.ColorEntropy),
	}, nil
}

func (s *Scorer) Fuse(m model.Metrics) float64 {
	w := s.weights
	v := w.EdgeDensity*unit(m.EdgeDensity) +
		w.IntensityVariance*unit(m.IntensityVariance) +
		w.ColorVariance*unit(m.ColorVariance) +
		w.Texture*unit(m.Texture) +
		w.Histogram*unit(m.Histogram) +
		w.ForegroundRatio*unit(m.ForegroundRatio) +
		w.ContourComplexity*unit(m.ContourComplexity) +
		w.ColorEntropy*unit(m.ColorEntropy)
	return unit(v)
}

// unit clamps v to [0,1]; NaN maps to 0.
func unit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
