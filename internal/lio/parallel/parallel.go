// Package parallel runs embarrassingly parallel index loops across a
// shared worker pool. Callers own their output slots: every index is
// visited exactly once, so pre-sized result slices need no locking.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// minChunk bounds scheduling overhead for small ranges; workers steal
// chunks of at least this many indices from the shared counter.
const minChunk = 64

// ForEach invokes fn(i) for every i in [0, n). Iterations run
// concurrently on up to GOMAXPROCS workers; the call returns after all
// indices have been processed.
func ForEach(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	chunk := n / (workers * 4)
	if chunk < minChunk {
		chunk = minChunk
	}

	var next atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				start := int(next.Add(int64(chunk))) - chunk
				if start >= n {
					return
				}
				end := start + chunk
				if end > n {
					end = n
				}
				for i := start; i < end; i++ {
					fn(i)
				}
			}
		}()
	}
	wg.Wait()
}
