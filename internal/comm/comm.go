// Package comm abstracts the rank-parallel communication the bridge needs:
// global reductions for deviation statistics, variable-count gathers for the
// ghost fold, and a broadcast for model file content. Hosts with a real MPI
// world adapt their communicator to this interface; tests and the standalone
// driver use the in-process group.
package comm

import "mdbridge/pkg/types"

// Communicator is the per-rank handle into the simulation's communication
// world. All collective calls block until every rank in the world has made
// the matching call, and every rank must issue collectives in the same order.
type Communicator interface {
	// Rank is this process's index in [0, Size).
	Rank() int
	// Size is the number of ranks in the world.
	Size() int

	// AllReduceMax replaces each element with the elementwise maximum across
	// ranks. Every rank must pass the same length.
	AllReduceMax(vals []types.Real) ([]types.Real, error)
	// AllReduceSum replaces each element with the elementwise sum across
	// ranks. Every rank must pass the same length.
	AllReduceSum(vals []types.Real) ([]types.Real, error)

	// AllGatherTags concatenates every rank's tag slice in rank order and
	// returns the per-rank counts alongside.
	AllGatherTags(tags []int64) ([]int64, []int, error)
	// AllGatherReals concatenates every rank's value slice in rank order and
	// returns the per-rank counts alongside.
	AllGatherReals(vals []types.Real) ([]types.Real, []int, error)

	// Broadcast distributes root's bytes to every rank. Non-root input is
	// ignored.
	Broadcast(root int, data []byte) ([]byte, error)

	// Barrier blocks until all ranks arrive.
	Barrier() error
}

// Single is a one-rank world. Collectives are identity operations.
type Single struct{}

func (Single) Rank() int { return 0 }
func (Single) Size() int { return 1 }

func (Single) AllReduceMax(vals []types.Real) ([]types.Real, error) {
	return append([]types.Real(nil), vals...), nil
}

func (Single) AllReduceSum(vals []types.Real) ([]types.Real, error) {
	return append([]types.Real(nil), vals...), nil
}

func (Single) AllGatherTags(tags []int64) ([]int64, []int, error) {
	return append([]int64(nil), tags...), []int{len(tags)}, nil
}

func (Single) AllGatherReals(vals []types.Real) ([]types.Real, []int, error) {
	return append([]types.Real(nil), vals...), []int{len(vals)}, nil
}

func (Single) Broadcast(root int, data []byte) ([]byte, error) {
	if root != 0 {
		return nil, types.Errorf("broadcast root %d out of range for single-rank world", root)
	}
	return append([]byte(nil), data...), nil
}

func (Single) Barrier() error { return nil }
