package classify

import (
	"math"

	"shelfwatch/internal/config"
	"shelfwatch/internal/model"
)

const DefaultEmptyThreshold = 0.15

// Bands are the upper bounds of the LOW and MEDIUM levels.
type Bands struct {
	Low    float64
	Medium float64
}

func DefaultBands() Bands {
	return Bands{Low: 0.3, Medium: 0.7}
}

func BandsFrom(cfg config.ClassificationConfig) Bands {
	b := Bands{Low: cfg.Low, Medium: cfg.Medium}
	if b.Low <= 0 || b.Medium <= b.Low {
		return DefaultBands()
	}
	return b
}

// Classify maps a score to a stock level. A threshold <= 0 falls back to
// DefaultEmptyThreshold; a NaN score is EMPTY.
func Classify(score, emptyThreshold float64, bands Bands) model.StockLevel {
	if emptyThreshold <= 0 {
		emptyThreshold = DefaultEmptyThreshold
	}
	switch {
	case math.IsNaN(score) || score < emptyThreshold:
		return model.StockEmpty
	case score < bands.Low:
		return model.StockLow
	case score < bands.Medium:
		return model.StockMedium
	}
	return model.StockHigh
}
