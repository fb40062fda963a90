package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRNG_Deterministic(t *testing.T) {
	a := NewRNG(7)
	b := NewRNG(7)
	for range 16 {
		assert.Equal(t, a.Intn(1000), b.Intn(1000))
	}
	assert.Equal(t, int64(7), a.Seed())
}

func TestRNG_UniqueInts(t *testing.T) {
	rng := NewRNG(1)
	vals := rng.UniqueInts(100, 150)
	require.Len(t, vals, 100)

	seen := map[int]bool{}
	for _, v := range vals {
		assert.False(t, seen[v])
		assert.GreaterOrEqual(t, v, 0)
		assert.Less(t, v, 150)
		seen[v] = true
	}

	assert.Panics(t, func() { rng.UniqueInts(10, 5) })
}

func TestRNG_Ops(t *testing.T) {
	w := Workload{Keys: 50, Put: 6, Delete: 3, Flush: 1}
	ops := NewRNG(9).Ops(w, 5000)
	require.Len(t, ops, 5000)
	assert.Equal(t, ops, NewRNG(9).Ops(w, 5000))

	counts := map[OpKind]int{}
	for _, op := range ops {
		counts[op.Kind]++
		assert.Less(t, op.Key, w.Keys)
		if op.Kind == OpFlush {
			assert.Zero(t, op.Key)
		}
	}
	assert.Greater(t, counts[OpPut], counts[OpDelete])
	assert.Greater(t, counts[OpDelete], counts[OpFlush])
	assert.Positive(t, counts[OpFlush])

	onlyPuts := NewRNG(1).Ops(Workload{Keys: 10, Put: 1}, 100)
	for _, op := range onlyPuts {
		assert.Equal(t, OpPut, op.Kind)
	}

	assert.Panics(t, func() { NewRNG(1).Ops(Workload{Keys: 10}, 1) })
	assert.Equal(t, "delete", OpDelete.String())
}
