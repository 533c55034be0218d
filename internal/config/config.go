package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel       string               `json:"log_level" yaml:"log_level"`
	Source         SourceConfig         `json:"source" yaml:"source"`
	Regions        RegionsConfig        `json:"regions" yaml:"regions"`
	Detection      DetectionConfig      `json:"detection" yaml:"detection"`
	Background     BackgroundConfig     `json:"background" yaml:"background"`
	Scoring        ScoringConfig        `json:"scoring" yaml:"scoring"`
	Classification ClassificationConfig `json:"classification" yaml:"classification"`
	Alerts         AlertsConfig         `json:"alerts" yaml:"alerts"`
	Pipeline       PipelineConfig       `json:"pipeline" yaml:"pipeline"`
	Sinks          SinksConfig          `json:"sinks" yaml:"sinks"`
	Storage        StorageConfig        `json:"storage" yaml:"storage"`
	API            APIConfig            `json:"api" yaml:"api"`
	History        HistoryConfig        `json:"history" yaml:"history"`
}

type SourceConfig struct {
	Kind  string            `json:"kind" yaml:"kind"`
	Dir   DirSourceConfig   `json:"dir" yaml:"dir"`
	Kafka KafkaSourceConfig `json:"kafka" yaml:"kafka"`
	// Resize, when both are set, scales every frame to a fixed raster.
	// Region coordinates are then expressed in the resized raster.
	ResizeWidth  int `json:"resize_width" yaml:"resize_width"`
	ResizeHeight int `json:"resize_height" yaml:"resize_height"`
}

type DirSourceConfig struct {
	Path         string        `json:"path" yaml:"path"`
	Pattern      string        `json:"pattern" yaml:"pattern"`
	// FPS paces replayed frames; 0 stamps frames with the wall clock.
	// Follow mode always uses the wall clock.
	FPS          float64       `json:"fps" yaml:"fps"`
	Follow       bool          `json:"follow" yaml:"follow"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

type KafkaSourceConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type RegionsConfig struct {
	// Provider is one of "file", "static", "storage".
	Provider string `json:"provider" yaml:"provider"`
	File     string `json:"file" yaml:"file"`
	// Static regions, used by the "static" provider.
	Static []RegionEntry `json:"static" yaml:"static"`
	// AutoDetect runs the region detector on the first frame when the
	// provider returns no regions.
	AutoDetect            bool    `json:"auto_detect" yaml:"auto_detect"`
	DefaultEmptyThreshold float64 `json:"default_empty_threshold" yaml:"default_empty_threshold"`
}

type RegionEntry struct {
	ID             string  `json:"id" yaml:"id"`
	Name           string  `json:"name" yaml:"name"`
	Region         []int   `json:"region" yaml:"region"`
	EmptyThreshold float64 `json:"empty_threshold" yaml:"empty_threshold"`
	Category       string  `json:"category" yaml:"category"`
}

type DetectionConfig struct {
	Strategy     string        `json:"strategy" yaml:"strategy"`
	BlurKernel   int           `json:"blur_kernel" yaml:"blur_kernel"`
	CannyLow     float64       `json:"canny_low" yaml:"canny_low"`
	CannyHigh    float64       `json:"canny_high" yaml:"canny_high"`
	Hough        HoughConfig   `json:"hough" yaml:"hough"`
	LinePairing  LinePairing   `json:"line_pairing" yaml:"line_pairing"`
	Contour      ContourConfig `json:"contour" yaml:"contour"`
	MaxCandidate int           `json:"max_candidates" yaml:"max_candidates"`
}

type HoughConfig struct {
	Rho           float64 `json:"rho" yaml:"rho"`
	ThetaDeg      float64 `json:"theta_deg" yaml:"theta_deg"`
	Threshold     int     `json:"threshold" yaml:"threshold"`
	MinLineLength int     `json:"min_line_length" yaml:"min_line_length"`
	MaxLineGap    int     `json:"max_line_gap" yaml:"max_line_gap"`
}

type LinePairing struct {
	AngleToleranceDeg float64 `json:"angle_tolerance_deg" yaml:"angle_tolerance_deg"`
	MinShelfHeight    int     `json:"min_shelf_height" yaml:"min_shelf_height"`
	MaxShelfHeight    int     `json:"max_shelf_height" yaml:"max_shelf_height"`
	Inset             int     `json:"inset" yaml:"inset"`
}

type ContourConfig struct {
	MinArea        float64 `json:"min_area" yaml:"min_area"`
	MinAspect      float64 `json:"min_aspect" yaml:"min_aspect"`
	MinWidth       int     `json:"min_width" yaml:"min_width"`
	MinHeight      int     `json:"min_height" yaml:"min_height"`
	AreaNorm       float64 `json:"area_norm" yaml:"area_norm"`
	AspectScaled   bool    `json:"aspect_scaled" yaml:"aspect_scaled"`
	AspectNorm     float64 `json:"aspect_norm" yaml:"aspect_norm"`
	SecondaryCanny bool    `json:"secondary_canny" yaml:"secondary_canny"`
	SecondaryLow   float64 `json:"secondary_low" yaml:"secondary_low"`
	SecondaryHigh  float64 `json:"secondary_high" yaml:"secondary_high"`
	CloseKernel    int     `json:"close_kernel" yaml:"close_kernel"`
}

type BackgroundConfig struct {
	History         int     `json:"history" yaml:"history"`
	VarThreshold    float64 `json:"var_threshold" yaml:"var_threshold"`
	DetectShadows   bool    `json:"detect_shadows" yaml:"detect_shadows"`
	ShadowThreshold float64 `json:"shadow_threshold" yaml:"shadow_threshold"`
	LearningRate    float64 `json:"learning_rate" yaml:"learning_rate"`
	MaxModes        int     `json:"max_modes" yaml:"max_modes"`
}

type ScoringConfig struct {
	Weights   WeightsConfig `json:"weights" yaml:"weights"`
	Scales    ScalesConfig  `json:"scales" yaml:"scales"`
	CannyLow  float64       `json:"canny_low" yaml:"canny_low"`
	CannyHigh float64       `json:"canny_high" yaml:"canny_high"`
}

// WeightsConfig is the fusion weight table. The weights must sum to 1.
type WeightsConfig struct {
	EdgeDensity       float64 `json:"edge_density" yaml:"edge_density"`
	IntensityVariance float64 `json:"intensity_variance" yaml:"intensity_variance"`
	ColorVariance     float64 `json:"color_variance" yaml:"color_variance"`
	Texture           float64 `json:"texture" yaml:"texture"`
	Histogram         float64 `json:"histogram" yaml:"histogram"`
	ForegroundRatio   float64 `json:"foreground_ratio" yaml:"foreground_ratio"`
	ContourComplexity float64 `json:"contour_complexity" yaml:"contour_complexity"`
	ColorEntropy      float64 `json:"color_entropy" yaml:"color_entropy"`
}

func (w WeightsConfig) Sum() float64 {
	return w.EdgeDensity + w.IntensityVariance + w.ColorVariance + w.Texture +
		w.Histogram + w.ForegroundRatio + w.ContourComplexity + w.ColorEntropy
}

// WeightSumTolerance bounds |sum(weights) - 1|.
const WeightSumTolerance = 1e-6

func (w WeightsConfig) Validate() error {
	named := map[string]float64{
		"edge_density":       w.EdgeDensity,
		"intensity_variance": w.IntensityVariance,
		"color_variance":     w.ColorVariance,
		"texture":            w.Texture,
		"histogram":          w.Histogram,
		"foreground_ratio":   w.ForegroundRatio,
		"contour_complexity": w.ContourComplexity,
		"color_entropy":      w.ColorEntropy,
	}
	for name, v := range named {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("scoring.weights.%s must be >= 0", name)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > WeightSumTolerance {
		return fmt.Errorf("scoring.weights must sum to 1.0, got %.6f", sum)
	}
	return nil
}

type ScalesConfig struct {
	IntensityVariance float64 `json:"intensity_variance" yaml:"intensity_variance"`
	ColorVariance     float64 `json:"color_variance" yaml:"color_variance"`
	Texture           float64 `json:"texture" yaml:"texture"`
	HistogramEntropy  float64 `json:"histogram_entropy" yaml:"histogram_entropy"`
	ContourCount      float64 `json:"contour_count" yaml:"contour_count"`
	ContourPerimeter  float64 `json:"contour_perimeter" yaml:"contour_perimeter"`
	ColorEntropy      float64 `json:"color_entropy" yaml:"color_entropy"`
}

type ClassificationConfig struct {
	Low    float64 `json:"low" yaml:"low"`
	Medium float64 `json:"medium" yaml:"medium"`
}

type AlertsConfig struct {
	Cooldown          time.Duration `json:"cooldown" yaml:"cooldown"`
	HighPriorityBelow float64       `json:"high_priority_below" yaml:"high_priority_below"`
}

type PipelineConfig struct {
	Workers int `json:"workers" yaml:"workers"`
	// SinkQueue bounds the reports waiting for delivery; a full queue drops
	// the newest report.
	SinkQueue int `json:"sink_queue" yaml:"sink_queue"`
	// DrainTimeout is how long Stop waits for queued reports to reach the
	// sinks before cancelling delivery.
	DrainTimeout time.Duration `json:"drain_timeout" yaml:"drain_timeout"`
}

type SinksConfig struct {
	Log   bool            `json:"log" yaml:"log"`
	Kafka KafkaSinkConfig `json:"kafka" yaml:"kafka"`
	NATS  NATSSinkConfig  `json:"nats" yaml:"nats"`
}

type KafkaSinkConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Brokers     []string `json:"brokers" yaml:"brokers"`
	AlertTopic  string   `json:"alert_topic" yaml:"alert_topic"`
	StatusTopic string   `json:"status_topic" yaml:"status_topic"`
}

type NATSSinkConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	URL           string        `json:"url" yaml:"url"`
	Subject       string        `json:"subject" yaml:"subject"`
	Name          string        `json:"name" yaml:"name"`
	ReconnectWait time.Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	MaxReconnects int           `json:"max_reconnects" yaml:"max_reconnects"`
}

type StorageConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Driver      string `json:"driver" yaml:"driver"`
	DSN         string `json:"dsn" yaml:"dsn"`
	SaveReports bool   `json:"save_reports" yaml:"save_reports"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type HistoryConfig struct {
	AlertLimit int `json:"alert_limit" yaml:"alert_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Source: SourceConfig{
			Kind: "dir",
			Dir:  DirSourceConfig{Pattern: "*", FPS: 30, PollInterval: 200 * time.Millisecond},
		},
		Regions: RegionsConfig{
			Provider:              "file",
			AutoDetect:            true,
			DefaultEmptyThreshold: 0.15,
		},
		Detection: DefaultDetection(),
		Background: BackgroundConfig{
			History:         500,
			VarThreshold:    16,
			DetectShadows:   true,
			ShadowThreshold: 0.5,
			LearningRate:    -1,
			MaxModes:        4,
		},
		Scoring: ScoringConfig{
			Weights:   DefaultWeights(),
			Scales:    DefaultScales(),
			CannyLow:  50,
			CannyHigh: 150,
		},
		Classification: ClassificationConfig{Low: 0.3, Medium: 0.7},
		Alerts:         AlertsConfig{Cooldown: 300 * time.Second, HighPriorityBelow: 0.05},
		Pipeline:       PipelineConfig{SinkQueue: 256, DrainTimeout: time.Second},
		Sinks:          SinksConfig{Log: true},
		Storage:        StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:shelfwatch.db?_pragma=busy_timeout(5000)"},
		API:            APIConfig{Enabled: true, Addr: ":8081"},
		History:        HistoryConfig{AlertLimit: 1000},
	}
}

func DefaultDetection() DetectionConfig {
	return DetectionConfig{
		Strategy:   "line_pairing",
		BlurKernel: 5,
		CannyLow:   50,
		CannyHigh:  150,
		Hough: HoughConfig{
			Rho:           1,
			ThetaDeg:      1,
			Threshold:     50,
			MinLineLength: 100,
			MaxLineGap:    20,
		},
		LinePairing: LinePairing{
			AngleToleranceDeg: 10,
			MinShelfHeight:    80,
			MaxShelfHeight:    150,
			Inset:             5,
		},
		Contour: ContourConfig{
			MinArea:       5000,
			MinAspect:     1.5,
			MinWidth:      100,
			MinHeight:     50,
			AreaNorm:      10000,
			AspectNorm:    3,
			SecondaryLow:  30,
			SecondaryHigh: 100,
		},
		MaxCandidate: 10,
	}
}

func DefaultWeights() WeightsConfig {
	return WeightsConfig{
		EdgeDensity:       0.20,
		IntensityVariance: 0.15,
		ColorVariance:     0.15,
		Texture:           0.15,
		Histogram:         0.10,
		ForegroundRatio:   0.10,
		ContourComplexity: 0.10,
		ColorEntropy:      0.05,
	}
}

func DefaultScales() ScalesConfig {
	return ScalesConfig{
		IntensityVariance: 1000,
		ColorVariance:     1000,
		Texture:           10000,
		HistogramEntropy:  8,
		ContourCount:      20,
		ContourPerimeter:  1000,
		ColorEntropy:      math.Log2(180) + 8,
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	if err := Decode([]byte(trimmed), cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode fills v from JSON or YAML content, picking JSON when the first
// non-blank byte opens an object or array.
func Decode(content []byte, v any) error {
	if looksLikeJSON(string(content)) {
		return json.Unmarshal(content, v)
	}
	return yaml.Unmarshal(content, v)
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = def.Source.Kind
	}
	if cfg.Source.Dir.Pattern == "" {
		cfg.Source.Dir.Pattern = def.Source.Dir.Pattern
	}
	if cfg.Source.Dir.PollInterval <= 0 {
		cfg.Source.Dir.PollInterval = def.Source.Dir.PollInterval
	}
	if cfg.Regions.Provider == "" {
		cfg.Regions.Provider = def.Regions.Provider
	}
	if cfg.Regions.DefaultEmptyThreshold <= 0 {
		cfg.Regions.DefaultEmptyThreshold = def.Regions.DefaultEmptyThreshold
	}
	if cfg.Detection.Strategy == "" {
		cfg.Detection.Strategy = def.Detection.Strategy
	}
	if cfg.Detection.BlurKernel <= 0 {
		cfg.Detection.BlurKernel = def.Detection.BlurKernel
	}
	if cfg.Detection.Hough.Rho <= 0 {
		cfg.Detection.Hough.Rho = def.Detection.Hough.Rho
	}
	if cfg.Detection.Hough.ThetaDeg <= 0 {
		cfg.Detection.Hough.ThetaDeg = def.Detection.Hough.ThetaDeg
	}
	if cfg.Detection.MaxCandidate <= 0 {
		cfg.Detection.MaxCandidate = def.Detection.MaxCandidate
	}
	if cfg.Background.History <= 0 {
		cfg.Background.History = def.Background.History
	}
	if cfg.Background.VarThreshold <= 0 {
		cfg.Background.VarThreshold = def.Background.VarThreshold
	}
	if cfg.Background.ShadowThreshold <= 0 {
		cfg.Background.ShadowThreshold = def.Background.ShadowThreshold
	}
	if cfg.Background.MaxModes <= 0 {
		cfg.Background.MaxModes = def.Background.MaxModes
	}
	if cfg.Background.LearningRate == 0 {
		cfg.Background.LearningRate = def.Background.LearningRate
	}
	if cfg.Scoring.CannyLow <= 0 {
		cfg.Scoring.CannyLow = def.Scoring.CannyLow
	}
	if cfg.Scoring.CannyHigh <= 0 {
		cfg.Scoring.CannyHigh = def.Scoring.CannyHigh
	}
	fillScales(&cfg.Scoring.Scales, def.Scoring.Scales)
	if cfg.Classification.Low <= 0 {
		cfg.Classification.Low = def.Classification.Low
	}
	if cfg.Classification.Medium <= 0 {
		cfg.Classification.Medium = def.Classification.Medium
	}
	if cfg.Alerts.HighPriorityBelow <= 0 {
		cfg.Alerts.HighPriorityBelow = def.Alerts.HighPriorityBelow
	}
	if cfg.History.AlertLimit <= 0 {
		cfg.History.AlertLimit = def.History.AlertLimit
	}
	if cfg.Pipeline.SinkQueue <= 0 {
		cfg.Pipeline.SinkQueue = def.Pipeline.SinkQueue
	}
	if cfg.Pipeline.DrainTimeout <= 0 {
		cfg.Pipeline.DrainTimeout = def.Pipeline.DrainTimeout
	}
}

func fillScales(s *ScalesConfig, def ScalesConfig) {
	if s.IntensityVariance <= 0 {
		s.IntensityVariance = def.IntensityVariance
	}
	if s.ColorVariance <= 0 {
		s.ColorVariance = def.ColorVariance
	}
	if s.Texture <= 0 {
		s.Texture = def.Texture
	}
	if s.HistogramEntropy <= 0 {
		s.HistogramEntropy = def.HistogramEntropy
	}
	if s.ContourCount <= 0 {
		s.ContourCount = def.ContourCount
	}
	if s.ContourPerimeter <= 0 {
		s.ContourPerimeter = def.ContourPerimeter
	}
	if s.ColorEntropy <= 0 {
		s.ColorEntropy = def.ColorEntropy
	}
}

func Validate(cfg *Config) error {
	if err := cfg.Scoring.Weights.Validate(); err != nil {
		return err
	}
	switch strings.ToLower(cfg.Source.Kind) {
	case "dir":
		if cfg.Source.Dir.Path == "" {
			return errors.New("source.dir.path required when source.kind is dir")
		}
	case "kafka":
		k := cfg.Source.Kafka
		if len(k.Brokers) == 0 || k.Topic == "" || k.GroupID == "" {
			return errors.New("source.kafka requires brokers, topic, group_id")
		}
	case "none":
	default:
		return fmt.Errorf("unsupported source.kind: %q", cfg.Source.Kind)
	}
	if cfg.Source.Dir.FPS < 0 {
		return errors.New("source.dir.fps must be >= 0")
	}
	if (cfg.Source.ResizeWidth > 0) != (cfg.Source.ResizeHeight > 0) {
		return errors.New("source.resize_width and source.resize_height must be set together")
	}
	switch strings.ToLower(cfg.Regions.Provider) {
	case "file":
		if cfg.Regions.File == "" && !cfg.Regions.AutoDetect {
			return errors.New("regions.file required when regions.provider is file and auto_detect is off")
		}
	case "static", "storage":
	default:
		return fmt.Errorf("unsupported regions.provider: %q", cfg.Regions.Provider)
	}
	if cfg.Regions.Provider == "storage" && !cfg.Storage.Enabled {
		return errors.New("regions.provider storage requires storage.enabled")
	}
	if t := cfg.Regions.DefaultEmptyThreshold; t <= 0 || t >= 1 {
		return errors.New("regions.default_empty_threshold must be in (0,1)")
	}
	if err := ValidateDetection(cfg.Detection); err != nil {
		return err
	}
	if cfg.Background.VarThreshold <= 0 {
		return errors.New("background.var_threshold must be > 0")
	}
	if cfg.Background.LearningRate > 1 {
		return errors.New("background.learning_rate must be <= 1")
	}
	c := cfg.Classification
	if !(c.Low > 0 && c.Low < c.Medium && c.Medium < 1) {
		return errors.New("classification bands must satisfy 0 < low < medium < 1")
	}
	if cfg.Alerts.Cooldown < 0 {
		return errors.New("alerts.cooldown must be >= 0")
	}
	if cfg.Pipeline.Workers < 0 {
		return errors.New("pipeline.workers must be >= 0")
	}
	if cfg.Pipeline.SinkQueue < 0 || cfg.Pipeline.DrainTimeout < 0 {
		return errors.New("pipeline.sink_queue and pipeline.drain_timeout must be >= 0")
	}
	if cfg.Sinks.Kafka.Enabled {
		k := cfg.Sinks.Kafka
		if len(k.Brokers) == 0 || (k.AlertTopic == "" && k.StatusTopic == "") {
			return errors.New("sinks.kafka requires brokers and alert_topic or status_topic")
		}
	}
	if cfg.Sinks.NATS.Enabled && (cfg.Sinks.NATS.URL == "" || cfg.Sinks.NATS.Subject == "") {
		return errors.New("sinks.nats requires url and subject")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	return nil
}

func ValidateDetection(d DetectionConfig) error {
	switch d.Strategy {
	case "line_pairing", "contour":
	default:
		return fmt.Errorf("unsupported detection.strategy: %q", d.Strategy)
	}
	if d.BlurKernel%2 == 0 {
		return errors.New("detection.blur_kernel must be odd")
	}
	if d.CannyLow < 0 || d.CannyHigh < d.CannyLow {
		return errors.New("detection.canny thresholds must satisfy 0 <= low <= high")
	}
	lp := d.LinePairing
	if lp.MinShelfHeight <= 0 || lp.MaxShelfHeight < lp.MinShelfHeight {
		return errors.New("detection.line_pairing shelf heights must satisfy 0 < min <= max")
	}
	if lp.Inset < 0 || 2*lp.Inset >= lp.MinShelfHeight {
		return errors.New("detection.line_pairing.inset must be >= 0 and less than half of min_shelf_height")
	}
	if d.Hough.Threshold <= 0 {
		return errors.New("detection.hough.threshold must be > 0")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config; Reload and Watch are no-ops.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
