package detector

import (
	"fmt"
	"image"
	"math"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"shelfwatch/internal/config"
	"shelfwatch/internal/model"
	"shelfwatch/internal/vision"
)

const (
	StrategyLinePairing = "line_pairing"
	StrategyContour     = "contour"
)

// Detector proposes shelf rectangles for a frame. An empty result is valid;
// an error means the image could not be analysed.
type Detector interface {
	Name() string
	Detect(img image.Image) ([]model.Candidate, error)
}

func New(cfg config.DetectionConfig) (Detector, error) {
	if err := config.ValidateDetection(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConfiguration, err)
	}
	switch cfg.Strategy {
	case StrategyLinePairing:
		return &LinePairing{cfg: cfg}, nil
	case StrategyContour:
		return &Contour{cfg: cfg}, nil
	}
	return nil, fmt.Errorf("%w: unknown detection strategy %q", model.ErrConfiguration, cfg.Strategy)
}

func blurredGray(img image.Image, ksize int) (*image.Gray, error) {
	gray, err := vision.Grayscale(img)
	if err != nil {
		return nil, err
	}
	return vision.GaussianBlur(gray, ksize)
}

type LinePairing struct {
	cfg config.DetectionConfig
}

func (d *LinePairing) Name() string { return StrategyLinePairing }

func (d *LinePairing) Detect(img image.Image) ([]model.Candidate, error) {
	gray, err := blurredGray(img, d.cfg.BlurKernel)
	if err != nil {
		return nil, err
	}
	edges, err := vision.Canny(gray, d.cfg.CannyLow, d.cfg.CannyHigh)
	if err != nil {
		return nil, err
	}
	h := d.cfg.Hough
	segs, err := vision.HoughSegments(edges, vision.HoughParams{
		Rho:           h.Rho,
		Theta:         h.ThetaDeg * math.Pi / 180,
		Threshold:     h.Threshold,
		MinLineLength: h.MinLineLength,
		MaxLineGap:    h.MaxLineGap,
	})
	if err != nil {
		return nil, err
	}
	return PairLines(Horizontal(segs, d.cfg.LinePairing.AngleToleranceDeg), d.cfg.LinePairing), nil
}

// Horizontal keeps segments within tol degrees of horizontal and orients
// each one left to right.
func Horizontal(segs []vision.Segment, tol float64) []vision.Segment {
	out := make([]vision.Segment, 0, len(segs))
	for _, s := range segs {
		a := s.AngleDeg()
		if a >= tol && a <= 180-tol {
			continue
		}
		if s.X1 > s.X2 {
			s = vision.Segment{X1: s.X2, Y1: s.Y2, X2: s.X1, Y2: s.Y1}
		}
		out = append(out, s)
	}
	return out
}

// PairLines sorts lines top to bottom. For each top line it takes the first
// later line whose vertical gap lies in [MinShelfHeight, MaxShelfHeight]
// and continues after that bottom line, so no line belongs to two shelves.
// Lines in between, such as the second edge of a drawn shelf line, are
// skipped.
func PairLines(lines []vision.Segment, cfg config.LinePairing) []model.Candidate {
	sorted := append([]vision.Segment(nil), lines...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MidY() < sorted[j].MidY()
	})
	out := make([]model.Candidate, 0)
	for i := 0; i+1 < len(sorted); {
		top := sorted[i]
		yTop := int(math.Round(top.MidY()))
		j := i + 1
		for ; j < len(sorted); j++ {
			gap := int(math.Round(sorted[j].MidY())) - yTop
			if gap >= cfg.MinShelfHeight && gap <= cfg.MaxShelfHeight {
				break
			}
		}
		if j == len(sorted) {
			i++
			continue
		}
		bottom := sorted[j]
		gap := int(math.Round(bottom.MidY())) - yTop
		x := min(top.X1, bottom.X1)
		box := model.BBox{
			X: x,
			Y: yTop + cfg.Inset,
			W: max(top.X2, bottom.X2) - x,
			H: gap - 2*cfg.Inset,
		}
		if box.W > 0 && box.H > 0 {
			out = append(out, model.Candidate{
				Box:         box,
				Confidence:  1,
				Area:        float64(box.Area()),
				AspectRatio: float64(box.W) / float64(box.H),
				Strategy:    StrategyLinePairing,
			})
		}
		i = j + 1
	}
	return out
}

type Contour struct {
	cfg config.DetectionConfig
}

func (d *Contour) Name() string { return StrategyContour }

func (d *Contour) Detect(img image.Image) ([]model.Candidate, error) {
	cc := d.cfg.Contour
	gray, err := blurredGray(img, d.cfg.BlurKernel)
	if err != nil {
		return nil, err
	}
	edges, err := vision.Canny(gray, d.cfg.CannyLow, d.cfg.CannyHigh)
	if err != nil {
		return nil, err
	}
	if cc.SecondaryCanny {
		second, err := vision.Canny(gray, cc.SecondaryLow, cc.SecondaryHigh)
		if err != nil {
			return nil, err
		}
		if edges, err = vision.Or(edges, second); err != nil {
			return nil, err
		}
	}
	if cc.CloseKernel > 1 {
		if edges, err = vision.Close(edges, cc.CloseKernel); err != nil {
			return nil, err
		}
	}
	contours, err := vision.ExternalContours(edges)
	if err != nil {
		return nil, err
	}
	out := make([]model.Candidate, 0)
	for _, c := range contours {
		area := c.Area()
		w, h := c.Bounds.Dx(), c.Bounds.Dy()
		if area < cc.MinArea || w <= cc.MinWidth || h <= cc.MinHeight {
			continue
		}
		aspect := float64(w) / float64(h)
		if aspect <= cc.MinAspect {
			continue
		}
		conf := 1.0
		if cc.AreaNorm > 0 {
			conf = math.Min(area/cc.AreaNorm, 1)
		}
		if cc.AspectScaled && cc.AspectNorm > 0 {
			conf *= math.Min(aspect/cc.AspectNorm, 1)
		}
		out = append(out, model.Candidate{
			Box:         model.BBox{X: c.Bounds.Min.X, Y: c.Bounds.Min.Y, W: w, H: h},
			Confidence:  conf,
			Area:        area,
			AspectRatio: aspect,
			Strategy:    StrategyContour,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	if n := d.cfg.MaxCandidate; n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

var regionNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("shelfwatch/region"))

// RegionID derives a stable id from a box so the same detection maps to the
// same region across restarts.
func RegionID(b model.BBox) string {
	key := strconv.Itoa(b.X) + "," + strconv.Itoa(b.Y) + "," + strconv.Itoa(b.W) + "," + strconv.Itoa(b.H)
	return uuid.NewSHA1(regionNamespace, []byte(key)).String()
}

// ToRegions turns candidates into monitored regions named "Shelf 1".."Shelf N".
func ToRegions(cands []model.Candidate, emptyThreshold float64) []model.Region {
	out := make([]model.Region, 0, len(cands))
	for i, c := range cands {
		out = append(out, model.Region{
			ID:             RegionID(c.Box),
			Name:           "Shelf " + strconv.Itoa(i+1),
			Box:            c.Box,
			EmptyThreshold: emptyThreshold,
		})
	}
	return out
}
