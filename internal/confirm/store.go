// Package confirm holds pending confirmations of critical actions, at most one
// per caller. Nothing here is persisted; a restart forgets every prompt.
package confirm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/domain"
)

// Pending is a critical action waiting for the caller to confirm it.
type Pending struct {
	Caller    domain.CallerID
	Code      string
	CreatedAt time.Time
}

type Config struct {
	// TTL after which a pending entry counts as absent. Zero keeps entries forever.
	TTL    time.Duration
	Logger *slog.Logger
	// OnExpire is called (outside the lock) for each entry removed by Sweep.
	OnExpire func(Pending)
	Now      func() time.Time
}

// Store maps caller identity to its single pending action. All operations
// are serialized by one mutex and never block on I/O, so callers must not
// hold anything of theirs while calling in, and must not call the provider
// from inside a store operation.
type Store struct {
	mu      sync.Mutex
	entries map[domain.CallerID]Pending

	ttl      time.Duration
	logger   *slog.Logger
	onExpire func(Pending)
	now      func() time.Time
}

func New(cfg Config) *Store {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		entries:  make(map[domain.CallerID]Pending),
		ttl:      cfg.TTL,
		logger:   cfg.Logger,
		onExpire: cfg.OnExpire,
		now:      cfg.Now,
	}
}

// Put records code as the caller's pending action, overwriting any previous
// entry. The replaced entry (if any, and not expired) is returned.
func (s *Store) Put(caller domain.CallerID, code string) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.entries[caller]
	if had && s.expired(prev) {
		had = false
	}
	s.entries[caller] = Pending{Caller: caller, Code: code, CreatedAt: s.now()}
	return prev, had
}

// Take atomically reads and removes the caller's pending entry. Of two
// concurrent Takes exactly one observes the entry.
func (s *Store) Take(caller domain.CallerID) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.entries[caller]
	if !ok {
		return Pending{}, false
	}
	delete(s.entries, caller)
	if s.expired(p) {
		return Pending{}, false
	}
	return p, true
}

// Clear removes the caller's pending entry and reports whether a live one existed.
func (s *Store) Clear(caller domain.CallerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.entries[caller]
	if !ok {
		return false
	}
	delete(s.entries, caller)
	return !s.expired(p)
}

// Peek returns the caller's live pending entry without removing it.
func (s *Store) Peek(caller domain.CallerID) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.entries[caller]
	if !ok || s.expired(p) {
		return Pending{}, false
	}
	return p, true
}

// Len counts stored entries, including expired ones not yet swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops expired entries and returns them.
func (s *Store) Sweep() []Pending {
	if s.ttl <= 0 {
		return nil
	}

	s.mu.Lock()
	var expired []Pending
	for caller, p := range s.entries {
		if s.expired(p) {
			expired = append(expired, p)
			delete(s.entries, caller)
		}
	}
	s.mu.Unlock()

	for _, p := range expired {
		s.logger.Info("pending confirmation expired", "caller", p.Caller, "action", p.Code)
		if s.onExpire != nil {
			s.onExpire(p)
		}
	}
	return expired
}

// Run sweeps every interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *Store) expired(p Pending) bool {
	return s.ttl > 0 && s.now().Sub(p.CreatedAt) >= s.ttl
}
