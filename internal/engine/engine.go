package engine

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"shelfwatch/internal/config"
	"shelfwatch/internal/model"
)

// Engine owns the per-region cooldown state and turns EMPTY classifications
// into alert events.
type Engine struct {
	logger  *slog.Logger
	cfg     atomic.Value
	mu      sync.RWMutex
	regions map[string]*regionState
	newID   func() string
}

type RegionSnapshot struct {
	RegionID  string    `json:"region_id"`
	State     State     `json:"state"`
	LastAlert time.Time `json:"last_alert,omitempty"`
	Alerts    int       `json:"alerts"`
}

func NewEngine(cfg config.AlertsConfig, logger *slog.Logger) *Engine {
	e := &Engine{
		logger:  logger,
		regions: make(map[string]*regionState),
		newID:   uuid.NewString,
	}
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg config.AlertsConfig) {
	e.cfg.Store(cfg)
}

func (e *Engine) SetCooldown(d time.Duration) {
	cfg := e.config()
	cfg.Cooldown = d
	e.cfg.Store(cfg)
}

func (e *Engine) config() config.AlertsConfig {
	if v := e.cfg.Load(); v != nil {
		return v.(config.AlertsConfig)
	}
	return config.DefaultConfig().Alerts
}

// Evaluate advances the region's state machine with one classification
// observed at now and returns the alert to emit, if any.
func (e *Engine) Evaluate(region model.Region, score float64, level model.StockLevel, now time.Time) (model.AlertEvent, bool) {
	cfg := e.config()
	rs := e.state(region.ID)
	rs.mu.Lock()
	fire := rs.step(level == model.StockEmpty, now, cfg.Cooldown)
	rs.mu.Unlock()
	if !fire {
		return model.AlertEvent{}, false
	}
	priority := model.PriorityMedium
	if score < cfg.HighPriorityBelow {
		priority = model.PriorityHigh
	}
	alert := model.AlertEvent{
		ID:         e.newID(),
		RegionID:   region.ID,
		RegionName: region.Name,
		Category:   region.Category,
		Priority:   priority,
		Score:      score,
		Level:      level,
		Message:    "ALERT: " + region.Name + " is empty and needs refilling!",
		Timestamp:  now.UTC(),
	}
	if e.logger != nil {
		e.logger.Warn("region empty",
			"region_id", region.ID,
			"region_name", region.Name,
			"priority", priority,
			"score", score,
		)
	}
	return alert, true
}

func (e *Engine) state(id string) *regionState {
	e.mu.RLock()
	rs, ok := e.regions[id]
	e.mu.RUnlock()
	if ok {
		return rs
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if rs, ok := e.regions[id]; ok {
		return rs
	}
	rs = &regionState{state: StateNormal}
	e.regions[id] = rs
	return rs
}

// Sync drops state for regions no longer configured and creates it for new
// ones. State of surviving regions is kept.
func (e *Engine) Sync(ids []string) {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.regions {
		if _, ok := keep[id]; !ok {
			delete(e.regions, id)
		}
	}
	for id := range keep {
		if _, ok := e.regions[id]; !ok {
			e.regions[id] = &regionState{state: StateNormal}
		}
	}
}

// Reset returns every region to Normal and forgets past alerts.
func (e *Engine) Reset() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, rs := range e.regions {
		rs.mu.Lock()
		rs.reset()
		rs.mu.Unlock()
	}
}

func (e *Engine) Snapshot() []RegionSnapshot {
	e.mu.RLock()
	out := make([]RegionSnapshot, 0, len(e.regions))
	for id, rs := range e.regions {
		rs.mu.Lock()
		out = append(out, RegionSnapshot{RegionID: id, State: rs.state, LastAlert: rs.lastAlert, Alerts: rs.alerts})
		rs.mu.Unlock()
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RegionID < out[j].RegionID })
	return out
}
