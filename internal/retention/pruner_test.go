package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farm-automation/internal/logging"
)

type fakeAlerts struct {
	mu      sync.Mutex
	cutoffs []time.Time
	removed int64
	err     error
}

func (f *fakeAlerts) PruneResolvedAlerts(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, before)
	return f.removed, f.err
}

func (f *fakeAlerts) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestPruneOnceUsesTTLCutoff(t *testing.T) {
	alerts := &fakeAlerts{removed: 4}
	p := NewPruner(alerts, 24*time.Hour, time.Hour, logging.NewNop())
	now := time.Date(2026, 7, 2, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	assert.Equal(t, int64(4), p.PruneOnce(context.Background()))
	require.Len(t, alerts.cutoffs, 1)
	assert.Equal(t, now.Add(-24*time.Hour), alerts.cutoffs[0])
}

func TestPruneOnceSwallowsStoreErrors(t *testing.T) {
	alerts := &fakeAlerts{err: errors.New("connection reset")}
	p := NewPruner(alerts, time.Hour, time.Hour, logging.NewNop())

	assert.Zero(t, p.PruneOnce(context.Background()))
}

func TestStartPrunesImmediatelyAndStopsOnCancel(t *testing.T) {
	alerts := &fakeAlerts{}
	p := NewPruner(alerts, time.Hour, 10*time.Millisecond, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	p.Start(ctx, &wg)

	require.Eventually(t, func() bool { return alerts.Calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()
}

func TestZeroTTLDisablesPruning(t *testing.T) {
	alerts := &fakeAlerts{}
	p := NewPruner(alerts, 0, time.Hour, logging.NewNop())

	var wg sync.WaitGroup
	p.Start(context.Background(), &wg)
	wg.Wait()
	assert.Zero(t, alerts.Calls())
}
