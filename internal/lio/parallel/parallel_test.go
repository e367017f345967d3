package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForEachVisitsEveryIndexOnce(t *testing.T) {
	const n = 10000
	counts := make([]int32, n)
	ForEach(n, func(i int) {
		atomic.AddInt32(&counts[i], 1)
	})
	for i, c := range counts {
		if c != 1 {
			t.Fatalf("index %d visited %d times", i, c)
		}
	}
}

func TestForEachSmallRanges(t *testing.T) {
	for _, n := range []int{0, 1, 2, 63, 64, 65} {
		var total atomic.Int64
		ForEach(n, func(i int) { total.Add(int64(i) + 1) })
		want := int64(n) * int64(n+1) / 2
		assert.Equal(t, want, total.Load(), "n=%d", n)
	}
}

func TestForEachIndependentSlots(t *testing.T) {
	const n = 4096
	out := make([]int, n)
	ForEach(n, func(i int) { out[i] = i * i })
	for i := range out {
		if out[i] != i*i {
			t.Fatalf("slot %d corrupted: %d", i, out[i])
		}
	}
}
