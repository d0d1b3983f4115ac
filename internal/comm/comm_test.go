package comm

import (
	"sync"
	"testing"

	"mdbridge/pkg/types"
)

// runWorld drives fn once per rank on its own goroutine and waits.
func runWorld(t *testing.T, n int, fn func(c *InProc)) {
	t.Helper()
	world := NewGroup(n)
	var wg sync.WaitGroup
	for _, c := range world {
		wg.Add(1)
		go func(c *InProc) {
			defer wg.Done()
			fn(c)
		}(c)
	}
	wg.Wait()
}

func TestSingleCollectivesAreIdentity(t *testing.T) {
	var c Single
	in := []types.Real{3, 1, 2}
	got, err := c.AllReduceMax(in)
	if err != nil {
		t.Fatalf("AllReduceMax: %v", err)
	}
	for i := range in {
		if got[i] != in[i] {
			t.Fatalf("AllReduceMax[%d] = %v, want %v", i, got[i], in[i])
		}
	}
	flat, counts, err := c.AllGatherTags([]int64{7, 8})
	if err != nil {
		t.Fatalf("AllGatherTags: %v", err)
	}
	if len(flat) != 2 || counts[0] != 2 {
		t.Fatalf("AllGatherTags = %v %v", flat, counts)
	}
}

func TestInProcAllReduce(t *testing.T) {
	var mu sync.Mutex
	results := map[int][]types.Real{}
	runWorld(t, 4, func(c *InProc) {
		in := []types.Real{types.Real(c.Rank()), 1}
		max, err := c.AllReduceMax(in)
		if err != nil {
			t.Errorf("rank %d AllReduceMax: %v", c.Rank(), err)
			return
		}
		sum, err := c.AllReduceSum(in)
		if err != nil {
			t.Errorf("rank %d AllReduceSum: %v", c.Rank(), err)
			return
		}
		mu.Lock()
		results[c.Rank()] = []types.Real{max[0], max[1], sum[0], sum[1]}
		mu.Unlock()
	})
	for rank, got := range results {
		if got[0] != 3 || got[1] != 1 {
			t.Fatalf("rank %d max = %v, want [3 1]", rank, got[:2])
		}
		if got[2] != 0+1+2+3 || got[3] != 4 {
			t.Fatalf("rank %d sum = %v, want [6 4]", rank, got[2:])
		}
	}
}

func TestInProcAllGatherVariableCounts(t *testing.T) {
	var mu sync.Mutex
	type res struct {
		flat   []int64
		counts []int
	}
	results := map[int]res{}
	runWorld(t, 3, func(c *InProc) {
		// rank r contributes r tags
		tags := make([]int64, c.Rank())
		for i := range tags {
			tags[i] = int64(100*c.Rank() + i)
		}
		flat, counts, err := c.AllGatherTags(tags)
		if err != nil {
			t.Errorf("rank %d AllGatherTags: %v", c.Rank(), err)
			return
		}
		mu.Lock()
		results[c.Rank()] = res{flat, counts}
		mu.Unlock()
	})
	for rank, r := range results {
		wantCounts := []int{0, 1, 2}
		for i, c := range wantCounts {
			if r.counts[i] != c {
				t.Fatalf("rank %d counts = %v, want %v", rank, r.counts, wantCounts)
			}
		}
		wantFlat := []int64{100, 200, 201}
		if len(r.flat) != len(wantFlat) {
			t.Fatalf("rank %d flat = %v, want %v", rank, r.flat, wantFlat)
		}
		for i := range wantFlat {
			if r.flat[i] != wantFlat[i] {
				t.Fatalf("rank %d flat = %v, want %v", rank, r.flat, wantFlat)
			}
		}
	}
}

func TestInProcBroadcast(t *testing.T) {
	var mu sync.Mutex
	results := map[int]string{}
	runWorld(t, 3, func(c *InProc) {
		var in []byte
		if c.Rank() == 1 {
			in = []byte("model-bytes")
		}
		out, err := c.Broadcast(1, in)
		if err != nil {
			t.Errorf("rank %d Broadcast: %v", c.Rank(), err)
			return
		}
		mu.Lock()
		results[c.Rank()] = string(out)
		mu.Unlock()
	})
	for rank, got := range results {
		if got != "model-bytes" {
			t.Fatalf("rank %d broadcast = %q", rank, got)
		}
	}
}

func TestInProcRepeatedCollectivesDoNotDeadlock(t *testing.T) {
	runWorld(t, 2, func(c *InProc) {
		for i := 0; i < 50; i++ {
			if _, err := c.AllReduceSum([]types.Real{1}); err != nil {
				t.Errorf("iter %d: %v", i, err)
				return
			}
		}
	})
}
