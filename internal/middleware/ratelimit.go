package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"
)

// WindowStore tracks request timestamps per key for sliding-window rate
// limiting. Implementations must be safe for concurrent use; the limiter
// is injected with a store rather than owning one so tests and
// alternative backends can swap it.
type WindowStore interface {
	// Record prunes entries older than the window and appends now only
	// when fewer than max entries remain, so rejected requests never
	// consume quota. It reports whether the request was admitted and the
	// oldest timestamp still in the window.
	Record(key string, now time.Time, window time.Duration, max int) (ok bool, oldest time.Time)

	// Forget removes keys whose newest entry is older than cutoff.
	Forget(cutoff time.Time)

	// Len reports the number of tracked keys.
	Len() int
}

// MemoryWindowStore is the in-memory WindowStore: a mutex-guarded map of
// timestamp slices pruned on access.
type MemoryWindowStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

// NewMemoryWindowStore creates an empty in-memory window store.
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{entries: make(map[string][]time.Time)}
}

func (s *MemoryWindowStore) Record(key string, now time.Time, window time.Duration, max int) (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	kept := s.entries[key][:0]
	for _, ts := range s.entries[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	ok := len(kept) < max
	if ok {
		kept = append(kept, now)
	}
	s.entries[key] = kept
	if len(kept) == 0 {
		return ok, now
	}
	return ok, kept[0]
}

func (s *MemoryWindowStore) Forget(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, times := range s.entries {
		if len(times) == 0 || times[len(times)-1].Before(cutoff) {
			delete(s.entries, key)
		}
	}
}

func (s *MemoryWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RateLimiter enforces a sliding window of at most MaxRequests per Window
// per client key.
type RateLimiter struct {
	store  WindowStore
	max    int
	window time.Duration

	// KeyFunc derives the limiter key from the request. Defaults to the
	// client IP from RemoteAddr.
	KeyFunc func(r *http.Request) string

	// OnReject, when set, is called once per rejected request.
	OnReject func(r *http.Request)
}

// NewRateLimiter creates a limiter over the given store.
func NewRateLimiter(store WindowStore, maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		store:  store,
		max:    maxRequests,
		window: window,
		KeyFunc: func(r *http.Request) string {
			return realIP(r)
		},
	}
}

// Handler returns HTTP middleware enforcing the sliding window. Rejected
// requests get 429 with a Retry-After header and retry_after_seconds in
// the body.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		ok, oldest := rl.store.Record(rl.KeyFunc(r), now, rl.window, rl.max)

		if !ok {
			if rl.OnReject != nil {
				rl.OnReject(r)
			}
			retryAfter := rl.window - now.Sub(oldest)
			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"error":"rate limit exceeded","code":"rate_limited","retry_after_seconds":%d}`, seconds)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// StartCleanup spawns a goroutine that drops idle keys every interval.
// Returns a cancel function that stops the goroutine.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.store.Forget(time.Now().Add(-maxIdle))
			}
		}
	}()
	return cancel
}

// realIP extracts the client IP from RemoteAddr.
// Proxy headers (X-Forwarded-For, X-Real-Ip) are NOT trusted because
// they can be spoofed by attackers to bypass rate limiting.
func realIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
