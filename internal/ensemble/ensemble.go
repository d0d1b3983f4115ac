// Package ensemble owns the loaded potential instances and runs single-model
// or committee evaluations against one frame.
package ensemble

import (
	"mdbridge/internal/potential"
	"mdbridge/pkg/types"
)

// Mode is the evaluation mode fixed at construction. Exactly one mode holds
// for the lifetime of the ensemble.
type Mode int

const (
	// SingleModel evaluates the only loaded model.
	SingleModel Mode = iota
	// MultiModelsDevi evaluates every model and feeds the committee into
	// deviation reduction.
	MultiModelsDevi
	// MultiModelsNoDevi evaluates every model but skips deviation output
	// (the host only wants the committee mean).
	MultiModelsNoDevi
)

func (m Mode) String() string {
	switch m {
	case SingleModel:
		return "single"
	case MultiModelsDevi:
		return "multi+devi"
	case MultiModelsNoDevi:
		return "multi"
	default:
		return "unknown"
	}
}

// Ensemble holds one or more loaded models sharing a type map and
// conditioning arity. Instances are exclusively owned by one rank's bridge.
type Ensemble struct {
	models []potential.Potential
	mode   Mode
	info   potential.Info
}

// New validates and wraps the loaded models. wantDevi selects the deviation
// mode when more than one model is present. Every model must agree on
// cutoff, type map, and conditioning arity; disagreement is a setup failure.
func New(models []potential.Potential, wantDevi bool) (*Ensemble, error) {
	if len(models) == 0 {
		return nil, types.NewLibError("ensemble requires at least one model")
	}
	info := models[0].Info()
	for n, m := range models[1:] {
		mi := m.Info()
		if mi.Cutoff != info.Cutoff {
			return nil, types.Errorf("model %d cutoff %v differs from model 0 cutoff %v", n+1, mi.Cutoff, info.Cutoff)
		}
		if mi.DimFparam != info.DimFparam || mi.DimAparam != info.DimAparam {
			return nil, types.Errorf("model %d conditioning arity (%d,%d) differs from model 0 (%d,%d)",
				n+1, mi.DimFparam, mi.DimAparam, info.DimFparam, info.DimAparam)
		}
		if !sameTypeMap(mi.TypeMap, info.TypeMap) {
			return nil, types.Errorf("model %d type map %v differs from model 0 %v", n+1, mi.TypeMap, info.TypeMap)
		}
	}
	mode := SingleModel
	if len(models) > 1 {
		if wantDevi {
			mode = MultiModelsDevi
		} else {
			mode = MultiModelsNoDevi
		}
	}
	return &Ensemble{models: models, mode: mode, info: info}, nil
}

// Size is the number of loaded models.
func (e *Ensemble) Size() int { return len(e.models) }

// Mode reports the evaluation mode fixed at construction.
func (e *Ensemble) Mode() Mode { return e.mode }

// Info is the shared model metadata.
func (e *Ensemble) Info() potential.Info { return e.info }

// Evaluate runs the first model against the frame. The frame is never
// mutated; conditioning arity is validated before the model runs.
func (e *Ensemble) Evaluate(req potential.Request) (types.EvalResult, error) {
	if err := e.checkConditioning(req); err != nil {
		return types.EvalResult{}, err
	}
	return e.models[0].Evaluate(req)
}

// EvaluateCommittee runs every model against the same frame and returns one
// result per model in load order. Any per-model failure aborts the whole
// committee: no partial results are returned.
func (e *Ensemble) EvaluateCommittee(req potential.Request) ([]types.EvalResult, error) {
	if err := e.checkConditioning(req); err != nil {
		return nil, err
	}
	nall := req.Frame.Nall()
	out := make([]types.EvalResult, 0, len(e.models))
	for n, m := range e.models {
		res, err := m.Evaluate(req)
		if err != nil {
			return nil, types.Wrapf(err, "committee model %d", n)
		}
		if len(res.Forces) != 3*nall {
			return nil, types.Errorf("committee model %d returned %d force components for %d atoms", n, len(res.Forces), nall)
		}
		out = append(out, res)
	}
	return out, nil
}

func (e *Ensemble) checkConditioning(req potential.Request) error {
	if len(req.Fparam) != e.info.DimFparam {
		return types.Errorf("fparam length %d does not match model arity %d", len(req.Fparam), e.info.DimFparam)
	}
	want := req.Frame.Nlocal * e.info.DimAparam
	if len(req.Aparam) != want {
		return types.Errorf("aparam length %d does not match %d atoms x arity %d",
			len(req.Aparam), req.Frame.Nlocal, e.info.DimAparam)
	}
	return nil
}

func sameTypeMap(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
