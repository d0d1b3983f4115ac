package comm

import (
	"sync"

	"mdbridge/pkg/types"
)

// InProc is one rank of an in-process world: every rank is a goroutine
// sharing a group. It backs the standalone driver and the package tests;
// the collective semantics match what a host MPI communicator provides.
type InProc struct {
	rank int
	g    *group
}

// NewGroup creates an n-rank in-process world and returns one handle per
// rank. Each handle must be driven by its own goroutine.
func NewGroup(n int) []*InProc {
	if n < 1 {
		n = 1
	}
	g := &group{
		n:     n,
		reals: make([][]types.Real, n),
		tags:  make([][]int64, n),
		bytes: make([][]byte, n),
	}
	g.cond = sync.NewCond(&g.mu)
	world := make([]*InProc, n)
	for i := range world {
		world[i] = &InProc{rank: i, g: g}
	}
	return world
}

func (c *InProc) Rank() int { return c.rank }
func (c *InProc) Size() int { return c.g.n }

func (c *InProc) AllReduceMax(vals []types.Real) ([]types.Real, error) {
	all, err := c.gatherReals(vals)
	if err != nil {
		return nil, err
	}
	out := append([]types.Real(nil), vals...)
	for _, rv := range all {
		if len(rv) != len(out) {
			return nil, types.Errorf("allreduce length mismatch: %d vs %d", len(rv), len(out))
		}
		for i, v := range rv {
			if v > out[i] {
				out[i] = v
			}
		}
	}
	return out, nil
}

func (c *InProc) AllReduceSum(vals []types.Real) ([]types.Real, error) {
	all, err := c.gatherReals(vals)
	if err != nil {
		return nil, err
	}
	out := make([]types.Real, len(vals))
	for _, rv := range all {
		if len(rv) != len(vals) {
			return nil, types.Errorf("allreduce length mismatch: %d vs %d", len(rv), len(vals))
		}
		for i, v := range rv {
			out[i] += v
		}
	}
	return out, nil
}

func (c *InProc) AllGatherTags(tags []int64) ([]int64, []int, error) {
	c.g.mu.Lock()
	c.g.tags[c.rank] = append([]int64(nil), tags...)
	c.g.mu.Unlock()
	c.g.barrier()
	c.g.mu.Lock()
	var flat []int64
	counts := make([]int, c.g.n)
	for r, tv := range c.g.tags {
		counts[r] = len(tv)
		flat = append(flat, tv...)
	}
	c.g.mu.Unlock()
	c.g.barrier()
	return flat, counts, nil
}

func (c *InProc) AllGatherReals(vals []types.Real) ([]types.Real, []int, error) {
	all, err := c.gatherReals(vals)
	if err != nil {
		return nil, nil, err
	}
	var flat []types.Real
	counts := make([]int, len(all))
	for r, rv := range all {
		counts[r] = len(rv)
		flat = append(flat, rv...)
	}
	return flat, counts, nil
}

func (c *InProc) Broadcast(root int, data []byte) ([]byte, error) {
	if root < 0 || root >= c.g.n {
		return nil, types.Errorf("broadcast root %d out of range [0,%d)", root, c.g.n)
	}
	c.g.mu.Lock()
	if c.rank == root {
		c.g.bytes[root] = append([]byte(nil), data...)
	}
	c.g.mu.Unlock()
	c.g.barrier()
	c.g.mu.Lock()
	out := append([]byte(nil), c.g.bytes[root]...)
	c.g.mu.Unlock()
	c.g.barrier()
	return out, nil
}

func (c *InProc) Barrier() error {
	c.g.barrier()
	return nil
}

// gatherReals publishes vals into this rank's slot and returns a snapshot of
// every rank's slot. The trailing barrier keeps a fast rank from starting the
// next collective before slow ranks have read this one.
func (c *InProc) gatherReals(vals []types.Real) ([][]types.Real, error) {
	c.g.mu.Lock()
	c.g.reals[c.rank] = append([]types.Real(nil), vals...)
	c.g.mu.Unlock()
	c.g.barrier()
	c.g.mu.Lock()
	all := make([][]types.Real, c.g.n)
	copy(all, c.g.reals)
	c.g.mu.Unlock()
	c.g.barrier()
	return all, nil
}

// group holds the shared state of an in-process world.
type group struct {
	n    int
	mu   sync.Mutex
	cond *sync.Cond

	arrived int
	gen     uint64

	reals [][]types.Real
	tags  [][]int64
	bytes [][]byte
}

// barrier is a reusable generation barrier.
func (g *group) barrier() {
	g.mu.Lock()
	gen := g.gen
	g.arrived++
	if g.arrived == g.n {
		g.arrived = 0
		g.gen++
		g.cond.Broadcast()
	} else {
		for gen == g.gen {
			g.cond.Wait()
		}
	}
	g.mu.Unlock()
}
