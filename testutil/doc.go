// Package testutil provides seeded randomness for property-style tests.
//
//	rng := testutil.NewRNG(seed)
//	for _, op := range rng.Ops(testutil.Workload{Keys: 500, Put: 6, Delete: 3, Flush: 1}, 3000) {
//		// apply op to the index and to a map model
//	}
//
// Callers report the seed on failure so a run can be replayed.
package testutil
