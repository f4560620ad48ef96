package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingPurger struct {
	mu        sync.Mutex
	calls     int
	threshold time.Time
	err       error
}

func (p *countingPurger) PurgeExpired(context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return 3, p.err
}

func (p *countingPurger) DeleteStale(_ context.Context, threshold time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.threshold = threshold
	return 1, p.err
}

func (p *countingPurger) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestManager(otps OTPPurger, lockouts LockoutPurger) *CleanupManager {
	cm := NewCleanupManager(otps, lockouts, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Hour)
	cm.now = func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }
	return cm
}

func TestRunOnce(t *testing.T) {
	otps := &countingPurger{}
	lockouts := &countingPurger{}

	newTestManager(otps, lockouts).RunOnce(context.Background())

	assert.Equal(t, 1, otps.count())
	assert.Equal(t, 1, lockouts.count())
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), lockouts.threshold)
}

func TestRunOnce_OTPFailureStillPurgesLockouts(t *testing.T) {
	otps := &countingPurger{err: errors.New("store unavailable")}
	lockouts := &countingPurger{}

	newTestManager(otps, lockouts).RunOnce(context.Background())

	assert.Equal(t, 1, lockouts.count())
}

func TestStart_RunsImmediatelyAndStops(t *testing.T) {
	otps := &countingPurger{}
	lockouts := &countingPurger{}
	cm := newTestManager(otps, lockouts)

	done := make(chan struct{})
	go func() {
		cm.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return otps.count() == 1 }, time.Second, 10*time.Millisecond)
	cm.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup manager did not stop")
	}
}

func TestStart_ContextCancel(t *testing.T) {
	cm := newTestManager(&countingPurger{}, &countingPurger{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		cm.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup manager ignored cancellation")
	}
}
