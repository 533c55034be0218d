package model

import (
	"image"
	"time"
)

type StockLevel string

const (
	StockEmpty  StockLevel = "EMPTY"
	StockLow    StockLevel = "LOW"
	StockMedium StockLevel = "MEDIUM"
	StockHigh   StockLevel = "HIGH"
	StockError  StockLevel = "ERROR"
)

// Rank orders levels EMPTY < LOW < MEDIUM < HIGH. ERROR ranks below EMPTY.
func (l StockLevel) Rank() int {
	switch l {
	case StockEmpty:
		return 0
	case StockLow:
		return 1
	case StockMedium:
		return 2
	case StockHigh:
		return 3
	}
	return -1
}

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
)

type BBox struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	W int `json:"w" yaml:"w"`
	H int `json:"h" yaml:"h"`
}

func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

func (b BBox) Area() int {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// Within reports whether the box is non-empty and fits a width x height frame.
func (b BBox) Within(width, height int) bool {
	return b.X >= 0 && b.Y >= 0 && b.W > 0 && b.H > 0 &&
		b.X+b.W <= width && b.Y+b.H <= height
}

type Region struct {
	ID             string  `json:"id" yaml:"id"`
	Name           string  `json:"name" yaml:"name"`
	Box            BBox    `json:"region" yaml:"region"`
	EmptyThreshold float64 `json:"empty_threshold" yaml:"empty_threshold"`
	Category       string  `json:"category,omitempty" yaml:"category,omitempty"`
}

// Frame is one decoded camera frame. The orchestrator owns it for a single
// processing cycle; Image must not be modified once handed over.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Image     *image.RGBA
}

func (f Frame) Bounds() image.Rectangle {
	if f.Image == nil {
		return image.Rectangle{}
	}
	return f.Image.Bounds()
}

// Metrics holds the per-region sub-metrics, each in [0,1].
type Metrics struct {
	EdgeDensity       float64 `json:"edge_density"`
	IntensityVariance float64 `json:"intensity_variance"`
	ColorVariance     float64 `json:"color_variance"`
	Texture           float64 `json:"texture"`
	Histogram         float64 `json:"histogram"`
	ForegroundRatio   float64 `json:"foreground_ratio"`
	ContourComplexity float64 `json:"contour_complexity"`
	ColorEntropy      float64 `json:"color_entropy"`
}

type OccupancyScore struct {
	RegionID string  `json:"region_id"`
	Value    float64 `json:"value"`
	Metrics  Metrics `json:"metrics"`
}

type AlertEvent struct {
	ID         string     `json:"id"`
	RegionID   string     `json:"region_id"`
	RegionName string     `json:"region_name"`
	Category   string     `json:"category,omitempty"`
	Priority   Priority   `json:"priority"`
	Score      float64    `json:"score"`
	Level      StockLevel `json:"stock_level"`
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
}

type RegionStatus struct {
	RegionID   string     `json:"region_id"`
	RegionName string     `json:"region_name"`
	Score      float64    `json:"score"`
	Level      StockLevel `json:"stock_level"`
	Metrics    Metrics    `json:"metrics"`
	Error      string     `json:"error,omitempty"`
}

type FrameReport struct {
	Seq       uint64         `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Regions   []RegionStatus `json:"regions"`
	Alerts    []AlertEvent   `json:"alerts,omitempty"`
}

// Candidate is a shelf rectangle proposed by a region detector.
type Candidate struct {
	Box         BBox    `json:"region"`
	Confidence  float64 `json:"confidence"`
	Area        float64 `json:"area"`
	AspectRatio float64 `json:"aspect_ratio"`
	Strategy    string  `json:"strategy"`
}
