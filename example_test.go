package pagedb_test

import (
	"context"
	"fmt"
	"log"

	"github.com/hupe1980/pagedb"
	"github.com/hupe1980/pagedb/blobstore"
	"github.com/hupe1980/pagedb/cache"
)

// Example demonstrates the basic index lifecycle.
func Example() {
	ctx := context.Background()

	idx, err := pagedb.Open[string, int](ctx, blobstore.NewMemoryStore())
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Close()

	for i, fruit := range []string{"cherry", "apple", "banana"} {
		if _, err := idx.Put(ctx, fruit, i); err != nil {
			log.Fatal(err)
		}
	}
	if err := idx.Flush(ctx); err != nil {
		log.Fatal(err)
	}

	_ = idx.ScanAll(ctx, func(k string, v int) bool {
		fmt.Println(k, v)
		return true
	})
	// Output:
	// apple 1
	// banana 2
	// cherry 0
}

// Example_scan demonstrates a half-open range scan.
func Example_scan() {
	ctx := context.Background()

	idx, err := pagedb.Open[int, string](ctx, blobstore.NewMemoryStore(), pagedb.WithFanout(4, 4))
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Close()

	for i := range 100 {
		_, _ = idx.Put(ctx, i, fmt.Sprintf("#%d", i))
	}

	_ = idx.Scan(ctx, 40, 43, func(k int, v string) bool {
		fmt.Println(k, v)
		return true
	})
	// Output:
	// 40 #40
	// 41 #41
	// 42 #42
}

// Example_metrics demonstrates collecting operation metrics.
func Example_metrics() {
	ctx := context.Background()
	metrics := &pagedb.BasicMetricsObserver{}

	idx, err := pagedb.Open[int, int](ctx, blobstore.NewMemoryStore(), pagedb.WithMetricsObserver(metrics))
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Close()

	_, _ = idx.Put(ctx, 1, 10)
	_, _, _ = idx.Get(ctx, 1)
	_, _, _ = idx.Get(ctx, 2)

	stats := metrics.GetStats()
	fmt.Printf("puts=%d gets=%d hits=%d\n", stats.PutCount, stats.GetCount, stats.GetHits)
	// Output: puts=1 gets=2 hits=1
}

type entry struct {
	key  string
	size int64
}

func (e *entry) Size() int64 { return e.size }

// Example_cache demonstrates the size-aware LRU cache on its own.
func Example_cache() {
	c, err := cache.NewLRU[string, *entry](100, func(e *entry) string { return e.key })
	if err != nil {
		log.Fatal(err)
	}

	_ = c.Add(&entry{key: "a", size: 60}, false)
	_ = c.Add(&entry{key: "b", size: 60}, false)

	_, okA := c.Get("a")
	_, okB := c.Get("b")
	fmt.Println(okA, okB, c.Len())
	// Output: false true 1
}
