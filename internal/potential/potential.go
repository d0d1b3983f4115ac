// Package potential defines the boundary to the trained interatomic
// potential. The bridge treats the potential as an opaque collaborator: it
// supplies per-atom positions, mapped type indices, and conditioning scalars,
// and receives energy, forces, and virial back. Concrete backends satisfy
// Potential; the in-tree reference backend is a harmonic pair model used by
// the standalone driver and tests.
package potential

import "mdbridge/pkg/types"

// Info is the model-declared metadata the bridge validates against.
type Info struct {
	// Cutoff is the interaction radius the host's neighbor list must cover.
	Cutoff types.Real
	// TypeMap maps model type index to element name.
	TypeMap []string
	// DimFparam and DimAparam are the conditioning arities. Zero disables
	// the corresponding input.
	DimFparam int
	DimAparam int
}

// NumTypes is the number of model types.
func (i Info) NumTypes() int { return len(i.TypeMap) }

// Request carries one frame's inputs into a model evaluation. TypeIdx holds
// the model type index per atom (local then ghost), already mapped from host
// types by the bridge's coeff step. Fparam has length DimFparam; Aparam has
// length Nlocal*DimAparam. The callee must not mutate the frame.
type Request struct {
	Frame   *types.AtomFrame
	TypeIdx []int
	Fparam  []types.Real
	Aparam  []types.Real

	WantAtomEnergy bool
	WantAtomVirial bool
}

// Potential is one loaded model instance. Implementations are owned by a
// single rank's bridge and are not shared across ranks.
type Potential interface {
	Info() Info
	Evaluate(req Request) (types.EvalResult, error)
}
