package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfwatch/internal/classify"
	"shelfwatch/internal/config"
	"shelfwatch/internal/model"
)

var epoch = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return epoch.Add(time.Duration(sec) * time.Second)
}

func testRegion() model.Region {
	return model.Region{ID: "shelf-a", Name: "Top Shelf", EmptyThreshold: 0.15, Category: "beverages"}
}

func newEngineForTest() *Engine {
	return NewEngine(config.DefaultConfig().Alerts, nil)
}

func evaluate(e *Engine, r model.Region, score float64, sec int) (model.AlertEvent, bool) {
	level := classify.Classify(score, r.EmptyThreshold, classify.DefaultBands())
	return e.Evaluate(r, score, level, at(sec))
}

func TestAlertDebounce(t *testing.T) {
	eng := newEngineForTest()
	r := testRegion()
	scores := []float64{0.5, 0.5, 0.02, 0.02, 0.02, 0.02}
	times := []int{0, 1, 2, 3, 301, 302}
	var fired []int
	for i, score := range scores {
		alert, ok := evaluate(eng, r, score, times[i])
		if !ok {
			continue
		}
		fired = append(fired, times[i])
		assert.Equal(t, model.PriorityHigh, alert.Priority)
		assert.Equal(t, 0.02, alert.Score)
		assert.Equal(t, model.StockEmpty, alert.Level)
	}
	// 301-2 is still inside the 300s window; the second alert is due at 302
	assert.Equal(t, []int{2, 302}, fired)
}

func TestAlertFields(t *testing.T) {
	eng := newEngineForTest()
	r := testRegion()
	alert, ok := evaluate(eng, r, 0.1, 10)
	require.True(t, ok)
	assert.NotEmpty(t, alert.ID)
	assert.Equal(t, "shelf-a", alert.RegionID)
	assert.Equal(t, "Top Shelf", alert.RegionName)
	assert.Equal(t, "beverages", alert.Category)
	assert.Equal(t, model.PriorityMedium, alert.Priority)
	assert.Equal(t, "ALERT: Top Shelf is empty and needs refilling!", alert.Message)
	assert.True(t, alert.Timestamp.Equal(at(10)))
}

func TestRestockReturnsToNormal(t *testing.T) {
	eng := newEngineForTest()
	r := testRegion()
	_, ok := evaluate(eng, r, 0.01, 0)
	require.True(t, ok)
	_, ok = evaluate(eng, r, 0.8, 100)
	assert.False(t, ok)
	require.Equal(t, StateCooldown, eng.Snapshot()[0].State)

	_, ok = evaluate(eng, r, 0.8, 400)
	assert.False(t, ok)
	assert.Equal(t, StateNormal, eng.Snapshot()[0].State)

	_, ok = evaluate(eng, r, 0.01, 401)
	assert.True(t, ok, "empty again after restock alerts immediately")
}

func TestErrorLevelNeverAlerts(t *testing.T) {
	eng := newEngineForTest()
	_, ok := eng.Evaluate(testRegion(), 0, model.StockError, at(0))
	assert.False(t, ok)
}

func TestZeroCooldownAlertsEveryEmptyFrame(t *testing.T) {
	cfg := config.DefaultConfig().Alerts
	cfg.Cooldown = 0
	eng := NewEngine(cfg, nil)
	r := testRegion()
	for i := 0; i < 3; i++ {
		_, ok := evaluate(eng, r, 0.01, i)
		assert.True(t, ok)
	}
}

func TestRegionsAreIndependent(t *testing.T) {
	eng := newEngineForTest()
	a := testRegion()
	b := testRegion()
	b.ID, b.Name = "shelf-b", "Bottom Shelf"
	_, ok := evaluate(eng, a, 0.01, 0)
	require.True(t, ok)
	_, ok = evaluate(eng, b, 0.01, 1)
	assert.True(t, ok)
	_, ok = evaluate(eng, a, 0.01, 2)
	assert.False(t, ok)
}

func TestResetClearsCooldown(t *testing.T) {
	eng := newEngineForTest()
	r := testRegion()
	_, ok := evaluate(eng, r, 0.01, 0)
	require.True(t, ok)
	eng.Reset()
	_, ok = evaluate(eng, r, 0.01, 1)
	assert.True(t, ok)
}

func TestSyncKeepsSurvivorsAndDropsRemoved(t *testing.T) {
	eng := newEngineForTest()
	r := testRegion()
	_, ok := evaluate(eng, r, 0.01, 0)
	require.True(t, ok)
	eng.Sync([]string{"shelf-a", "shelf-c"})
	snap := eng.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, StateCooldown, snap[0].State)
	assert.Equal(t, 1, snap[0].Alerts)
	assert.Equal(t, StateNormal, snap[1].State)

	_, ok = evaluate(eng, r, 0.01, 5)
	assert.False(t, ok)
	eng.Sync(nil)
	assert.Empty(t, eng.Snapshot())
	_, ok = evaluate(eng, r, 0.01, 6)
	assert.True(t, ok, "a re-added region starts in Normal")
}

func TestUpdateConfigChangesCooldown(t *testing.T) {
	eng := newEngineForTest()
	r := testRegion()
	_, ok := evaluate(eng, r, 0.01, 0)
	require.True(t, ok)
	cfg := config.DefaultConfig().Alerts
	cfg.Cooldown = 10 * time.Second
	eng.UpdateConfig(cfg)
	_, ok = evaluate(eng, r, 0.01, 10)
	assert.True(t, ok)

	eng.SetCooldown(time.Minute)
	_, ok = evaluate(eng, r, 0.01, 60)
	assert.False(t, ok)
	_, ok = evaluate(eng, r, 0.01, 70)
	assert.True(t, ok)
}

func TestConcurrentRegions(t *testing.T) {
	eng := newEngineForTest()
	var wg sync.WaitGroup
	var mu sync.Mutex
	count := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := model.Region{ID: string(rune('a' + i)), Name: "r", EmptyThreshold: 0.15}
			for s := 0; s < 50; s++ {
				if _, ok := evaluate(eng, r, 0.01, s); ok {
					mu.Lock()
					count++
					mu.Unlock()
				}
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 16, count)
}
