package status

import (
	"context"
	"sort"
	"sync"
	"time"

	"shelfwatch/internal/model"
)

// Entry is the latest observation for one region.
type Entry struct {
	model.RegionStatus
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store tracks the latest status per region. When more than limit regions
// are tracked the least recently updated one is evicted.
type Store struct {
	mu        sync.RWMutex
	byRegion  map[string]Entry
	lastSeq   uint64
	lastFrame time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byRegion: make(map[string]Entry),
		limit:    limit,
	}
}

func (s *Store) Update(report model.FrameReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rs := range report.Regions {
		if rs.RegionID == "" {
			continue
		}
		s.byRegion[rs.RegionID] = Entry{RegionStatus: rs, Seq: report.Seq, UpdatedAt: report.Timestamp}
	}
	s.lastSeq = report.Seq
	s.lastFrame = report.Timestamp
	for len(s.byRegion) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) SendReport(_ context.Context, report model.FrameReport) error {
	s.Update(report)
	return nil
}

func (s *Store) Get(regionID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byRegion[regionID]
	return e, ok
}

// All returns every tracked region sorted by id.
func (s *Store) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.byRegion))
	for _, e := range s.byRegion {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegionID < out[j].RegionID })
	return out
}

// Last returns the sequence and timestamp of the latest report.
func (s *Store) Last() (uint64, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq, s.lastFrame
}

// Retain drops regions not in ids.
func (s *Store) Retain(ids []string) {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.byRegion {
		if _, ok := keep[id]; !ok {
			delete(s.byRegion, id)
		}
	}
}

func (s *Store) evictOldest() {
	var oldestID string
	var oldest Entry
	for id, e := range s.byRegion {
		if oldestID == "" || e.Seq < oldest.Seq || (e.Seq == oldest.Seq && id < oldestID) {
			oldestID = id
			oldest = e
		}
	}
	if oldestID != "" {
		delete(s.byRegion, oldestID)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRegion = make(map[string]Entry)
	s.lastSeq = 0
	s.lastFrame = time.Time{}
}
