package detector

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfwatch/internal/config"
	"shelfwatch/internal/model"
	"shelfwatch/internal/vision"
)

func testFrame(w, h int, shelves ...image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	for _, r := range shelves {
		draw.Draw(img, r, &image.Uniform{C: color.RGBA{R: 40, G: 40, B: 40, A: 255}}, image.Point{}, draw.Src)
	}
	return img
}

func TestPairLinesProducesInsetRegion(t *testing.T) {
	lines := []vision.Segment{
		{X1: 50, Y1: 180, X2: 400, Y2: 180},
		{X1: 50, Y1: 100, X2: 400, Y2: 100},
	}
	got := PairLines(lines, config.DefaultDetection().LinePairing)
	require.Len(t, got, 1)
	assert.Equal(t, model.BBox{X: 50, Y: 105, W: 350, H: 70}, got[0].Box)
	assert.Equal(t, StrategyLinePairing, got[0].Strategy)
	assert.Equal(t, 1.0, got[0].Confidence)
}

func TestPairLinesDoesNotReuseBottomLine(t *testing.T) {
	lines := []vision.Segment{
		{X1: 0, Y1: 100, X2: 300, Y2: 100},
		{X1: 0, Y1: 190, X2: 300, Y2: 190},
		{X1: 0, Y1: 280, X2: 300, Y2: 280},
	}
	got := PairLines(lines, config.DefaultDetection().LinePairing)
	require.Len(t, got, 1)
	assert.Equal(t, 105, got[0].Box.Y)
}

func TestPairLinesSearchesPastCloseLines(t *testing.T) {
	lines := []vision.Segment{
		{X1: 10, Y1: 100, X2: 300, Y2: 100},
		{X1: 20, Y1: 150, X2: 320, Y2: 150},
		{X1: 0, Y1: 240, X2: 310, Y2: 240},
		{X1: 0, Y1: 600, X2: 310, Y2: 600},
	}
	got := PairLines(lines, config.DefaultDetection().LinePairing)
	require.Len(t, got, 1)
	assert.Equal(t, model.BBox{X: 0, Y: 105, W: 310, H: 130}, got[0].Box)
}

func TestPairLinesSkipsEdgeTwins(t *testing.T) {
	// Each drawn line yields an edge above and below it.
	lines := []vision.Segment{
		{X1: 50, Y1: 99, X2: 400, Y2: 99},
		{X1: 50, Y1: 102, X2: 400, Y2: 102},
		{X1: 50, Y1: 179, X2: 400, Y2: 179},
		{X1: 50, Y1: 182, X2: 400, Y2: 182},
		{X1: 50, Y1: 299, X2: 400, Y2: 299},
		{X1: 50, Y1: 302, X2: 400, Y2: 302},
	}
	got := PairLines(lines, config.DefaultDetection().LinePairing)
	require.Len(t, got, 2)
	assert.Equal(t, model.BBox{X: 50, Y: 104, W: 350, H: 70}, got[0].Box)
	assert.Equal(t, model.BBox{X: 50, Y: 187, W: 350, H: 107}, got[1].Box)
}

func TestPairLinesNoPartnerInBand(t *testing.T) {
	lines := []vision.Segment{
		{X1: 0, Y1: 100, X2: 300, Y2: 100},
		{X1: 0, Y1: 140, X2: 300, Y2: 140},
		{X1: 0, Y1: 400, X2: 300, Y2: 400},
	}
	assert.Empty(t, PairLines(lines, config.DefaultDetection().LinePairing))
}

func TestPairLinesBandIsInclusive(t *testing.T) {
	cfg := config.DefaultDetection().LinePairing
	lines := []vision.Segment{
		{X1: 0, Y1: 0, X2: 200, Y2: 0},
		{X1: 0, Y1: 150, X2: 200, Y2: 150},
	}
	assert.Len(t, PairLines(lines, cfg), 1)
	assert.Empty(t, PairLines(lines[:1], cfg))
	assert.NotNil(t, PairLines(nil, cfg))
}

func TestHorizontalFiltersAndOrients(t *testing.T) {
	segs := []vision.Segment{
		{X1: 300, Y1: 52, X2: 10, Y2: 50},
		{X1: 10, Y1: 10, X2: 10, Y2: 300},
		{X1: 0, Y1: 0, X2: 100, Y2: 30},
	}
	got := Horizontal(segs, 10)
	require.Len(t, got, 1)
	assert.Equal(t, vision.Segment{X1: 10, Y1: 50, X2: 300, Y2: 52}, got[0])
}

func TestLinePairingDetectsDarkBand(t *testing.T) {
	d, err := New(config.DefaultDetection())
	require.NoError(t, err)
	img := testFrame(640, 480, image.Rect(50, 100, 400, 210))
	got, err := d.Detect(img)
	require.NoError(t, err)
	require.Len(t, got, 1)
	box := got[0].Box
	assert.InDelta(t, 104, box.Y, 2)
	assert.InDelta(t, 100, box.H, 2)
	assert.InDelta(t, 50, box.X, 3)
	assert.InDelta(t, 350, box.W, 4)
}

func TestLinePairingDetectsThinShelfLines(t *testing.T) {
	d, err := New(config.DefaultDetection())
	require.NoError(t, err)
	img := testFrame(640, 480, image.Rect(50, 99, 400, 102), image.Rect(50, 179, 400, 182))
	got, err := d.Detect(img)
	require.NoError(t, err)
	require.Len(t, got, 1)
	box := got[0].Box
	assert.InDelta(t, 104, box.Y, 3)
	assert.InDelta(t, 70, box.H, 4)
	assert.InDelta(t, 50, box.X, 3)
	assert.InDelta(t, 350, box.W, 4)
}

func TestContourDetectsDarkBand(t *testing.T) {
	cfg := config.DefaultDetection()
	cfg.Strategy = StrategyContour
	cfg.Contour.CloseKernel = 3
	d, err := New(cfg)
	require.NoError(t, err)
	img := testFrame(640, 480, image.Rect(50, 100, 400, 210), image.Rect(500, 400, 520, 410))
	got, err := d.Detect(img)
	require.NoError(t, err)
	require.Len(t, got, 1)
	box := got[0].Box
	assert.InDelta(t, 50, box.X, 3)
	assert.InDelta(t, 100, box.Y, 3)
	assert.InDelta(t, 350, box.W, 4)
	assert.InDelta(t, 110, box.H, 4)
	assert.Equal(t, 1.0, got[0].Confidence)
}

func TestContourAspectScaledConfidence(t *testing.T) {
	cfg := config.DefaultDetection()
	cfg.Strategy = StrategyContour
	cfg.Contour.CloseKernel = 3
	cfg.Contour.AspectScaled = true
	cfg.Contour.MinWidth = 150
	d, err := New(cfg)
	require.NoError(t, err)
	got, err := d.Detect(testFrame(640, 480, image.Rect(100, 100, 300, 200)))
	require.NoError(t, err)
	require.Len(t, got, 1)
	// aspect is about 2, so the confidence is about 2/3
	assert.InDelta(t, 2.0/3.0, got[0].Confidence, 0.05)
}

func TestDetectOnBlankFrameIsEmpty(t *testing.T) {
	for _, strategy := range []string{StrategyLinePairing, StrategyContour} {
		cfg := config.DefaultDetection()
		cfg.Strategy = strategy
		d, err := New(cfg)
		require.NoError(t, err)
		got, err := d.Detect(testFrame(320, 240))
		require.NoError(t, err)
		assert.NotNil(t, got, strategy)
		assert.Empty(t, got, strategy)
		assert.Equal(t, strategy, d.Name())
	}
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	cfg := config.DefaultDetection()
	cfg.Strategy = "neural"
	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestToRegionsIsDeterministic(t *testing.T) {
	cands := []model.Candidate{
		{Box: model.BBox{X: 1, Y: 2, W: 300, H: 90}},
		{Box: model.BBox{X: 1, Y: 200, W: 300, H: 90}},
	}
	a := ToRegions(cands, 0.2)
	b := ToRegions(cands, 0.2)
	require.Len(t, a, 2)
	assert.Equal(t, a, b)
	assert.Equal(t, "Shelf 1", a[0].Name)
	assert.Equal(t, "Shelf 2", a[1].Name)
	assert.NotEqual(t, a[0].ID, a[1].ID)
	assert.Equal(t, 0.2, a[1].EmptyThreshold)
}
