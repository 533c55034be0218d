package classify

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"shelfwatch/internal/config"
	"shelfwatch/internal/model"
)

func TestClassifyBoundaries(t *testing.T) {
	b := DefaultBands()
	cases := []struct {
		score float64
		want  model.StockLevel
	}{
		{0, model.StockEmpty},
		{0.1499, model.StockEmpty},
		{0.15, model.StockLow},
		{0.2999, model.StockLow},
		{0.3, model.StockMedium},
		{0.6999, model.StockMedium},
		{0.7, model.StockHigh},
		{1, model.StockHigh},
		{math.NaN(), model.StockEmpty},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.score, 0.15, b), "score=%v", tc.score)
	}
}

func TestClassifyDefaultThreshold(t *testing.T) {
	assert.Equal(t, model.StockEmpty, Classify(0.1, 0, DefaultBands()))
	assert.Equal(t, model.StockLow, Classify(0.2, -1, DefaultBands()))
}

func TestClassifyThresholdAboveLowBand(t *testing.T) {
	assert.Equal(t, model.StockEmpty, Classify(0.35, 0.4, DefaultBands()))
	assert.Equal(t, model.StockMedium, Classify(0.45, 0.4, DefaultBands()))
}

func TestBandsFromFallsBack(t *testing.T) {
	assert.Equal(t, DefaultBands(), BandsFrom(config.ClassificationConfig{Low: 0.5, Medium: 0.2}))
	assert.Equal(t, Bands{Low: 0.2, Medium: 0.6}, BandsFrom(config.ClassificationConfig{Low: 0.2, Medium: 0.6}))
}

func TestClassifyIsMonotone(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("a higher score never yields a lower level", prop.ForAll(
		func(a, b, threshold float64) bool {
			lo, hi := math.Min(a, b), math.Max(a, b)
			return Classify(lo, threshold, DefaultBands()).Rank() <= Classify(hi, threshold, DefaultBands()).Rank()
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0.01, 0.29),
	))

	properties.Property("below threshold is EMPTY", prop.ForAll(
		func(threshold, frac float64) bool {
			return Classify(threshold*frac, threshold, DefaultBands()) == model.StockEmpty
		},
		gen.Float64Range(0.01, 0.99),
		gen.Float64Range(0, 0.999),
	))

	properties.TestingRun(t)
}
