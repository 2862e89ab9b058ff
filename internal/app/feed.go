package app

import (
	"sync"

	"cyberguard-progress-service/internal/domain"
)

// Feed fans leaderboard snapshots out to live subscribers. Slow subscribers
// lose stale snapshots rather than blocking the publisher.
type Feed struct {
	mu          sync.Mutex
	last        *domain.LeaderboardSnapshot
	subscribers map[chan domain.LeaderboardSnapshot]struct{}
}

func NewFeed() *Feed {
	return &Feed{subscribers: make(map[chan domain.LeaderboardSnapshot]struct{})}
}

// Subscribe registers a channel primed with initial. The cancel func must be called.
func (f *Feed) Subscribe(initial domain.LeaderboardSnapshot) (<-chan domain.LeaderboardSnapshot, func()) {
	ch := make(chan domain.LeaderboardSnapshot, 8)

	f.mu.Lock()
	if f.last != nil && f.last.UpdatedAt.After(initial.UpdatedAt) {
		initial = *f.last
	}
	f.subscribers[ch] = struct{}{}
	ch <- initial
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subscribers[ch]; ok {
			delete(f.subscribers, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

func (f *Feed) Publish(snap domain.LeaderboardSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = &snap
	for ch := range f.subscribers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}
