package simulation

import (
	"math/rand"
	"sync"
	"time"
)

// Rand is a mutex-guarded pseudo-random source shared by concurrent ticks.
type Rand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a source seeded with seed, or with the clock when seed is 0.
func NewRand(seed int64) *Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Rand{r: rand.New(rand.NewSource(seed))}
}

func (r *Rand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Intn(n)
}

func (r *Rand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Float64()
}

// Sample returns k distinct indexes in [0,n).
func (r *Rand) Sample(n, k int) []int {
	if k > n {
		k = n
	}
	r.mu.Lock()
	perm := r.r.Perm(n)
	r.mu.Unlock()
	return perm[:k]
}

func pick[T any](r *Rand, items []T) T {
	return items[r.Intn(len(items))]
}
