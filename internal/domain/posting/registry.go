package posting

import (
	"sort"
	"sync"
	"time"
)

// Claim is an in-flight posting attempt for one identity.
type Claim struct {
	Key        string    `json:"identity"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// ClaimRegistry rejects a second concurrent attempt for the same identity.
// Claims live only in memory and only for one attempt.
type ClaimRegistry struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

// NewClaimRegistry creates an empty registry.
func NewClaimRegistry() *ClaimRegistry {
	return &ClaimRegistry{
		claims: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Claim takes key if it is free. The returned release func is safe to call more than once.
func (r *ClaimRegistry) Claim(key string) (release func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.claims[key]; held {
		return nil, false
	}
	acquired := r.now()
	r.claims[key] = acquired

	var once sync.Once
	return func() {
		once.Do(func() { r.release(key, acquired) })
	}, true
}

func (r *ClaimRegistry) release(key string, acquired time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if at, ok := r.claims[key]; ok && at.Equal(acquired) {
		delete(r.claims, key)
	}
}

// Held reports whether key is currently claimed.
func (r *ClaimRegistry) Held(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.claims[key]
	return ok
}

// Len returns the number of in-flight claims.
func (r *ClaimRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.claims)
}

// Snapshot lists in-flight claims, oldest first.
func (r *ClaimRegistry) Snapshot() []Claim {
	r.mu.Lock()
	out := make([]Claim, 0, len(r.claims))
	for k, at := range r.claims {
		out = append(out, Claim{Key: k, AcquiredAt: at})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].AcquiredAt.Equal(out[j].AcquiredAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].AcquiredAt.Before(out[j].AcquiredAt)
	})
	return out
}
