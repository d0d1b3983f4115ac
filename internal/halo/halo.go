// Package halo folds per-atom scalar contributions computed on ghost copies
// back onto the rank that owns the real atom, using the host's reverse
// halo-communication pattern.
package halo

import (
	"mdbridge/internal/comm"
	"mdbridge/pkg/types"
)

// ExchangePlan is one cohesive exchange description: per-rank counts and
// displacements plus the tag/value staging buffers. It is rebuilt atomically
// whenever the neighbor list is rebuilt and is never partially updated; the
// plan is exclusively owned by one rank's bridge.
type ExchangePlan struct {
	c comm.Communicator

	nlocal int
	nghost int

	// Counts and Displs describe every rank's ghost contribution in the
	// gathered buffers.
	Counts []int
	Displs []int

	ghostTags []int64
	owned     map[int64]int

	tagSend  []int64
	stdfSend []types.Real
}

// NewPlan captures the current frame's ownership and ghost layout. Tags are
// stable between neighbor-list rebuilds, so the plan may outlive the frame
// until the next rebuild.
func NewPlan(c comm.Communicator, frame *types.AtomFrame) (*ExchangePlan, error) {
	nall := frame.Nall()
	if len(frame.Tags) < nall {
		return nil, types.Errorf("frame has %d tags for %d atoms", len(frame.Tags), nall)
	}
	p := &ExchangePlan{
		c:         c,
		nlocal:    frame.Nlocal,
		nghost:    frame.Nghost,
		ghostTags: append([]int64(nil), frame.Tags[frame.Nlocal:nall]...),
		owned:     make(map[int64]int, frame.Nlocal),
		tagSend:   make([]int64, frame.Nghost),
		stdfSend:  make([]types.Real, frame.Nghost),
	}
	for i := 0; i < frame.Nlocal; i++ {
		p.owned[frame.Tags[i]] = i
	}
	// agree on every rank's ghost count up front so a later mismatch is
	// detected as the structural error it is
	_, counts, err := c.AllGatherTags(p.ghostTags)
	if err != nil {
		return nil, err
	}
	p.Counts = counts
	p.Displs = make([]int, len(counts))
	for r := 1; r < len(counts); r++ {
		p.Displs[r] = p.Displs[r-1] + counts[r-1]
	}
	return p, nil
}

// Nghost is the ghost count the plan was built for.
func (p *ExchangePlan) Nghost() int { return p.nghost }

// PackReverse stages this rank's ghost contributions. values must span all
// atoms (local then ghost) of the frame the plan was built for; any other
// size is a structural inconsistency between neighbor-list state and the
// adapter's buffers and is fatal.
func (p *ExchangePlan) PackReverse(values []types.Real) error {
	if len(values) != p.nlocal+p.nghost {
		return types.Errorf("reverse pack size mismatch: %d values for %d local + %d ghost atoms",
			len(values), p.nlocal, p.nghost)
	}
	copy(p.tagSend, p.ghostTags)
	copy(p.stdfSend, values[p.nlocal:])
	return nil
}

// UnpackReverse accumulates gathered ghost contributions into local, keyed by
// tag ownership. Contributions for atoms owned elsewhere are skipped.
func (p *ExchangePlan) UnpackReverse(tags []int64, vals []types.Real, local []types.Real) error {
	if len(tags) != len(vals) {
		return types.Errorf("reverse unpack mismatch: %d tags vs %d values", len(tags), len(vals))
	}
	if len(local) != p.nlocal {
		return types.Errorf("reverse unpack target has %d slots for %d local atoms", len(local), p.nlocal)
	}
	for k, tag := range tags {
		if i, ok := p.owned[tag]; ok {
			local[i] += vals[k]
		}
	}
	return nil
}

// Fold runs the full reverse exchange for one step: pack ghost contributions,
// gather across ranks, and accumulate onto owned atoms. It returns the folded
// per-local-atom values and must be called exactly once per step, after local
// deviation computation and before any global reduction.
func (p *ExchangePlan) Fold(values []types.Real) ([]types.Real, error) {
	if err := p.PackReverse(values); err != nil {
		return nil, err
	}
	tags, tagCounts, err := p.c.AllGatherTags(p.tagSend)
	if err != nil {
		return nil, err
	}
	vals, valCounts, err := p.c.AllGatherReals(p.stdfSend)
	if err != nil {
		return nil, err
	}
	for r := range p.Counts {
		if tagCounts[r] != p.Counts[r] || valCounts[r] != p.Counts[r] {
			return nil, types.Errorf("ghost buffer size mismatch on rank %d: plan %d, tags %d, values %d",
				r, p.Counts[r], tagCounts[r], valCounts[r])
		}
	}
	local := make([]types.Real, p.nlocal)
	copy(local, values[:p.nlocal])
	if err := p.UnpackReverse(tags, vals, local); err != nil {
		return nil, err
	}
	return local, nil
}
