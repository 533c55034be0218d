package alerts

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfwatch/internal/model"
)

func alertAt(i int) model.AlertEvent {
	return model.AlertEvent{
		ID:        fmt.Sprintf("a%d", i),
		RegionID:  fmt.Sprintf("r%d", i%2),
		Timestamp: time.Unix(int64(i), 0).UTC(),
	}
}

func TestStoreEvictsOldest(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		s.Add(alertAt(i))
	}
	list := s.List(0)
	require.Len(t, list, 3)
	assert.Equal(t, "a2", list[0].ID)
	assert.Equal(t, "a4", list[2].ID)

	last := s.List(2)
	require.Len(t, last, 2)
	assert.Equal(t, "a3", last[0].ID)
}

func TestStoreSinceAndRegion(t *testing.T) {
	s := NewStore(0)
	for i := 0; i < 6; i++ {
		require.NoError(t, s.SendAlert(context.Background(), alertAt(i)))
	}
	since := s.Since(time.Unix(4, 0))
	require.Len(t, since, 2)
	assert.Equal(t, "a4", since[0].ID)

	r1 := s.ForRegion("r1")
	assert.Len(t, r1, 3)
	assert.Equal(t, "a1", r1[0].ID)
	assert.Empty(t, s.ForRegion("missing"))
}

func TestStoreClear(t *testing.T) {
	s := NewStore(10)
	s.Add(alertAt(1))
	assert.Equal(t, 1, s.Len())
	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.List(5))
}
