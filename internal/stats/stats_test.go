package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeStore struct {
	mu        sync.Mutex
	ids       []string
	refreshed []string
}

func (f *fakeStore) AllChannelIDs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids, nil
}

func (f *fakeStore) RefreshChannelCounters(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, channelID)
	return nil
}

func (f *fakeStore) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.refreshed))
	copy(out, f.refreshed)
	return out
}

func TestRefresherRefreshesEveryChannelOnTick(t *testing.T) {
	fs := &fakeStore{ids: []string{"chan_1", "chan_2"}}
	r := NewRefresher(fs, 5*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Start(ctx)
	defer r.Stop()

	deadline := time.After(time.Second)
	for {
		if len(fs.snapshot()) >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for refresh, got %v", fs.snapshot())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestNewRefresherDefaultsNonPositiveInterval(t *testing.T) {
	r := NewRefresher(&fakeStore{}, 0, zerolog.Nop())
	if r.interval != 30*time.Second {
		t.Fatalf("interval = %v, want default 30s", r.interval)
	}
}

func TestStopEndsLoopPromptly(t *testing.T) {
	fs := &fakeStore{}
	r := NewRefresher(fs, time.Hour, zerolog.Nop())

	go r.Start(context.Background())
	time.Sleep(5 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Stop did not return promptly")
	}
}
