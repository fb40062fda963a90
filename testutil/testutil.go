package testutil

import (
	"fmt"
	"math/rand"
	"sync"
)

// RNG is a seeded random source that is safe for concurrent use.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed int64
}

// NewRNG creates an RNG that replays the same sequence for the same seed.
func NewRNG(seed int64) *RNG {
	return &RNG{rand: rand.New(rand.NewSource(seed)), seed: seed}
}

// Seed returns the seed the RNG was created with.
func (r *RNG) Seed() int64 { return r.seed }

// Intn returns a value in [0, n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Shuffle randomizes the order of n elements through swap.
func (r *RNG) Shuffle(n int, swap func(i, j int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Shuffle(n, swap)
}

// UniqueInts returns n distinct values in [0, limit) in random order.
// It panics if limit < n.
func (r *RNG) UniqueInts(n, limit int) []int {
	if limit < n {
		panic("testutil: limit smaller than n")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[int]struct{}, n)
	out := make([]int, 0, n)
	for len(out) < n {
		v := r.rand.Intn(limit)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// OpKind is one step of a generated index workload.
type OpKind uint8

const (
	OpPut OpKind = iota
	OpDelete
	OpFlush
)

func (k OpKind) String() string {
	switch k {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpFlush:
		return "flush"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// Op is a generated operation. Key is unused for OpFlush.
type Op struct {
	Kind OpKind
	Key  int
}

// Workload describes the mix of operations drawn by Ops. Weights are
// relative; a zero weight disables the operation.
type Workload struct {
	Keys   int
	Put    int
	Delete int
	Flush  int
}

// Ops draws n operations from w.
func (r *RNG) Ops(w Workload, n int) []Op {
	total := w.Put + w.Delete + w.Flush
	if total <= 0 || w.Keys <= 0 {
		panic("testutil: empty workload")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ops := make([]Op, n)
	for i := range ops {
		key := r.rand.Intn(w.Keys)
		switch pick := r.rand.Intn(total); {
		case pick < w.Put:
			ops[i] = Op{Kind: OpPut, Key: key}
		case pick < w.Put+w.Delete:
			ops[i] = Op{Kind: OpDelete, Key: key}
		default:
			ops[i] = Op{Kind: OpFlush}
		}
	}
	return ops
}
