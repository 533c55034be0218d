package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"shelfwatch/internal/config"
	"shelfwatch/internal/model"
)

var imageExts = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {},
	".bmp": {}, ".tif": {}, ".tiff": {}, ".webp": {},
}

// Dir replays the image files of a directory in lexical order. With Follow
// set it keeps polling for files that appear later.
type Dir struct {
	cfg     config.DirSourceConfig
	width   int
	height  int
	logger  *slog.Logger
	pending []string
	seen    map[string]struct{}
	seq     uint64
	start   time.Time
	now     func() time.Time
}

func NewDir(cfg config.DirSourceConfig, width, height int, logger *slog.Logger) (*Dir, error) {
	info, err := os.Stat(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("frame directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("frame directory: %s is not a directory", cfg.Path)
	}
	if cfg.Pattern == "" {
		cfg.Pattern = "*"
	}
	if _, err := filepath.Match(cfg.Pattern, "x"); err != nil {
		return nil, fmt.Errorf("frame pattern %q: %w", cfg.Pattern, err)
	}
	d := &Dir{
		cfg:    cfg,
		width:  width,
		height: height,
		logger: logger,
		seen:   make(map[string]struct{}),
		now:    time.Now,
	}
	d.start = d.now().UTC()
	if err := d.scan(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dir) scan() error {
	entries, err := os.ReadDir(d.cfg.Path)
	if err != nil {
		return fmt.Errorf("list frames: %w", err)
	}
	var fresh []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if _, ok := imageExts[strings.ToLower(filepath.Ext(name))]; !ok {
			continue
		}
		if ok, _ := filepath.Match(d.cfg.Pattern, name); !ok {
			continue
		}
		if _, ok := d.seen[name]; ok {
			continue
		}
		d.seen[name] = struct{}{}
		fresh = append(fresh, name)
	}
	sort.Strings(fresh)
	d.pending = append(d.pending, fresh...)
	return nil
}

func (d *Dir) Next(ctx context.Context) (model.Frame, error) {
	for len(d.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return model.Frame{}, err
		}
		if !d.cfg.Follow {
			return model.Frame{}, io.EOF
		}
		if !BackoffSleep(ctx, d.cfg.PollInterval) {
			return model.Frame{}, ctx.Err()
		}
		if err := d.scan(); err != nil {
			if d.logger != nil {
				d.logger.Warn("frame directory scan failed", "path", d.cfg.Path, "err", err)
			}
		}
	}
	name := d.pending[0]
	d.pending = d.pending[1:]
	d.seq++
	ts := d.timestamp()

	path := filepath.Join(d.cfg.Path, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Frame{}, &DecodeError{Origin: path, Err: err}
	}
	img, err := Decode(path, data, d.width, d.height)
	if err != nil {
		return model.Frame{}, err
	}
	return model.Frame{Seq: d.seq, Timestamp: ts, Image: img}, nil
}

// timestamp paces replayed frames at the configured rate from the time the
// source was opened. Followed directories and a zero rate use the wall
// clock at read time, so frames carry their arrival time.
func (d *Dir) timestamp() time.Time {
	if d.cfg.Follow || d.cfg.FPS <= 0 {
		return d.now().UTC()
	}
	step := time.Duration(float64(time.Second) / d.cfg.FPS)
	return d.start.Add(time.Duration(d.seq-1) * step)
}

func (d *Dir) Close() error {
	d.pending = nil
	return nil
}
