package regions

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"shelfwatch/internal/classify"
	"shelfwatch/internal/config"
	"shelfwatch/internal/model"
)

// Provider supplies the current list of monitored regions. An empty list is
// a valid answer.
type Provider interface {
	Regions(ctx context.Context) ([]model.Region, error)
}

type Static struct {
	entries   []config.RegionEntry
	threshold float64
	logger    *slog.Logger
}

func NewStatic(entries []config.RegionEntry, defaultThreshold float64, logger *slog.Logger) *Static {
	return &Static{entries: entries, threshold: defaultThreshold, logger: logger}
}

func (s *Static) Regions(_ context.Context) ([]model.Region, error) {
	return FromEntries(s.entries, s.threshold, s.logger), nil
}

// File reads a YAML or JSON region list, either a bare list or an object
// with a "regions" key. The file is re-read on every call.
type File struct {
	path      string
	threshold float64
	logger    *slog.Logger
}

func NewFile(path string, defaultThreshold float64, logger *slog.Logger) *File {
	return &File{path: path, threshold: defaultThreshold, logger: logger}
}

func (f *File) Regions(_ context.Context) ([]model.Region, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read regions %s: %w", f.path, err)
	}
	entries, err := parseEntries(data)
	if err != nil {
		return nil, fmt.Errorf("%w: regions %s: %v", model.ErrConfiguration, f.path, err)
	}
	return FromEntries(entries, f.threshold, f.logger), nil
}

func parseEntries(data []byte) ([]config.RegionEntry, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	var wrapped struct {
		Regions []config.RegionEntry `json:"regions" yaml:"regions"`
	}
	if err := config.Decode(data, &wrapped); err == nil {
		return wrapped.Regions, nil
	}
	var list []config.RegionEntry
	if err := config.Decode(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// FromEntries converts raw entries into regions and drops malformed ones
// with a log line.
func FromEntries(entries []config.RegionEntry, defaultThreshold float64, logger *slog.Logger) []model.Region {
	out := make([]model.Region, 0, len(entries))
	for i, e := range entries {
		r, err := FromEntry(e, defaultThreshold)
		if err != nil {
			if logger != nil {
				logger.Warn("dropping region", "index", i, "region_id", e.ID, "err", err)
			}
			continue
		}
		out = append(out, r)
	}
	return Sanitize(out, logger)
}

func FromEntry(e config.RegionEntry, defaultThreshold float64) (model.Region, error) {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return model.Region{}, fmt.Errorf("%w: region id is required", model.ErrConfiguration)
	}
	if len(e.Region) != 4 {
		return model.Region{}, fmt.Errorf("%w: region %s needs [x, y, w, h], got %d values", model.ErrConfiguration, id, len(e.Region))
	}
	name := strings.TrimSpace(e.Name)
	if name == "" {
		name = id
	}
	threshold := e.EmptyThreshold
	if threshold == 0 {
		threshold = defaultThreshold
	}
	return model.Region{
		ID:             id,
		Name:           name,
		Box:            model.BBox{X: e.Region[0], Y: e.Region[1], W: e.Region[2], H: e.Region[3]},
		EmptyThreshold: threshold,
		Category:       strings.TrimSpace(e.Category),
	}, nil
}

// Sanitize drops regions with an empty or duplicate id, a non-positive size
// or a threshold outside (0,1). Regions that merely fall outside the frame
// are kept; they are flagged per frame instead.
func Sanitize(in []model.Region, logger *slog.Logger) []model.Region {
	out := make([]model.Region, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, r := range in {
		if err := check(r, seen); err != nil {
			if logger != nil {
				logger.Warn("dropping region", "region_id", r.ID, "err", err)
			}
			continue
		}
		seen[r.ID] = struct{}{}
		if r.Name == "" {
			r.Name = r.ID
		}
		out = append(out, r)
	}
	return out
}

func check(r model.Region, seen map[string]struct{}) error {
	if r.ID == "" {
		return fmt.Errorf("%w: region id is required", model.ErrConfiguration)
	}
	if _, dup := seen[r.ID]; dup {
		return fmt.Errorf("%w: duplicate region id %s", model.ErrConfiguration, r.ID)
	}
	if r.Box.W <= 0 || r.Box.H <= 0 {
		return fmt.Errorf("%w: region %s has empty size %dx%d", model.ErrConfiguration, r.ID, r.Box.W, r.Box.H)
	}
	if math.IsNaN(r.EmptyThreshold) || r.EmptyThreshold <= 0 || r.EmptyThreshold >= 1 {
		return fmt.Errorf("%w: region %s empty_threshold %v outside (0,1)", model.ErrConfiguration, r.ID, r.EmptyThreshold)
	}
	return nil
}

// Load asks the provider for regions and sanitizes the answer. A provider
// error yields zero regions and the error.
func Load(ctx context.Context, p Provider, logger *slog.Logger) ([]model.Region, error) {
	if p == nil {
		return []model.Region{}, nil
	}
	list, err := p.Regions(ctx)
	if err != nil {
		return []model.Region{}, err
	}
	return Sanitize(list, logger), nil
}

// DefaultThreshold resolves the configured default empty threshold.
func DefaultThreshold(cfg config.RegionsConfig) float64 {
	if cfg.DefaultEmptyThreshold > 0 && cfg.DefaultEmptyThreshold < 1 {
		return cfg.DefaultEmptyThreshold
	}
	return classify.DefaultEmptyThreshold
}
