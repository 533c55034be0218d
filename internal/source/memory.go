package source

import (
	"context"
	"io"
	"sync"

	"shelfwatch/internal/model"
)

// Memory replays queued frames and errors; it is the source used by tests
// and by callers that already hold decoded rasters.
type Memory struct {
	mu    sync.Mutex
	items []memItem
}

type memItem struct {
	frame model.Frame
	err   error
}

func NewMemory(frames ...model.Frame) *Memory {
	m := &Memory{}
	for _, f := range frames {
		m.Push(f)
	}
	return m
}

func (m *Memory) Push(f model.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, memItem{frame: f})
}

func (m *Memory) PushError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, memItem{err: err})
}

func (m *Memory) Next(ctx context.Context) (model.Frame, error) {
	if err := ctx.Err(); err != nil {
		return model.Frame{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return model.Frame{}, io.EOF
	}
	it := m.items[0]
	m.items = m.items[1:]
	return it.frame, it.err
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
	return nil
}
