package evaluation

import (
	"math/rand"
	"sync"
)

// BatchSampler picks which batch of a loader is rendered to the sink.
type BatchSampler interface {
	// Pick returns an index in [0, n); n is at least 1.
	Pick(n int) int
}

// RandomSampler picks uniformly with its own seeded source.
type RandomSampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSampler creates a sampler reproducible from seed.
func NewRandomSampler(seed int64) *RandomSampler {
	return &RandomSampler{rng: rand.New(rand.NewSource(seed))}
}

// Pick returns a uniformly random index in [0, n).
func (s *RandomSampler) Pick(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// FixedSampler always picks the same index, clamped to the last batch.
type FixedSampler int

// Pick returns the fixed index.
func (s FixedSampler) Pick(n int) int {
	if int(s) >= n {
		return n - 1
	}
	if s < 0 {
		return 0
	}
	return int(s)
}
