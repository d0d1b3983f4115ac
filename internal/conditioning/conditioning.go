// Package conditioning assembles the frame-level (fparam) and atom-level
// (aparam) scalar inputs a model consumes alongside positions and types.
// Exactly one source feeds the vectors per run: static configuration, a
// named host compute, or a coupled electronic-temperature field.
package conditioning

import "mdbridge/pkg/types"

// Source is the conditioning source selected at setup.
type Source int

const (
	// SourceNone means the model declares no conditioning input.
	SourceNone Source = iota
	// SourceStatic replays fixed vectors from the settings line.
	SourceStatic
	// SourceCompute pulls the fparam vector from a named host compute each
	// step.
	SourceCompute
	// SourceTTM looks up each atom's electronic temperature from a named
	// host fix each step.
	SourceTTM
)

func (s Source) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourceStatic:
		return "static"
	case SourceCompute:
		return "compute"
	case SourceTTM:
		return "ttm"
	default:
		return "unknown"
	}
}

// ComputeSource is a host-side compute the bridge reads a scalar vector from.
type ComputeSource interface {
	Vector() ([]types.Real, error)
}

// ElectronTempField is a host-side two-temperature-model fix. TempAt returns
// the electronic temperature of the grid cell owning the given position.
type ElectronTempField interface {
	TempAt(x, y, z types.Real) (types.Real, error)
}

// HostLookup resolves named host collaborators at setup time.
type HostLookup interface {
	ComputeByID(id string) (ComputeSource, bool)
	FixByID(id string) (ElectronTempField, bool)
}

// Config selects the conditioning source. At most one of StaticFparam/
// StaticAparam, ComputeID, and TTMFixID may be set.
type Config struct {
	StaticFparam []types.Real
	StaticAparam []types.Real
	ComputeID    string
	TTMFixID     string
}

// Builder produces fresh conditioning vectors every step. It is constructed
// once at setup, after which the source never changes.
type Builder struct {
	source Source

	staticF []types.Real
	staticA []types.Real

	compute   ComputeSource
	computeID string

	ttm   ElectronTempField
	ttmID string

	dimFparam int
	dimAparam int
}

// New validates the configuration eagerly: conflicting sources, missing host
// collaborators, and arity mismatches all fail here rather than at the first
// compute step.
func New(cfg Config, host HostLookup, dimFparam, dimAparam int) (*Builder, error) {
	b := &Builder{source: SourceNone, dimFparam: dimFparam, dimAparam: dimAparam}

	sources := 0
	if len(cfg.StaticFparam) > 0 || len(cfg.StaticAparam) > 0 {
		sources++
		b.source = SourceStatic
	}
	if cfg.ComputeID != "" {
		sources++
		b.source = SourceCompute
	}
	if cfg.TTMFixID != "" {
		sources++
		b.source = SourceTTM
	}
	if sources > 1 {
		return nil, types.NewLibError("conflicting conditioning sources: static fparam/aparam, fparam_from_compute, and ttm_fix are mutually exclusive")
	}

	switch b.source {
	case SourceNone:
		if dimFparam > 0 || dimAparam > 0 {
			return nil, types.Errorf("model expects fparam arity %d and aparam arity %d but no conditioning source is configured", dimFparam, dimAparam)
		}
	case SourceStatic:
		if len(cfg.StaticFparam) != dimFparam {
			return nil, types.Errorf("static fparam length %d does not match model arity %d", len(cfg.StaticFparam), dimFparam)
		}
		if len(cfg.StaticAparam) != dimAparam {
			return nil, types.Errorf("static aparam length %d does not match model arity %d", len(cfg.StaticAparam), dimAparam)
		}
		b.staticF = append([]types.Real(nil), cfg.StaticFparam...)
		b.staticA = append([]types.Real(nil), cfg.StaticAparam...)
	case SourceCompute:
		if dimFparam == 0 {
			return nil, types.Errorf("fparam_from_compute %q configured but the model declares no fparam input", cfg.ComputeID)
		}
		if dimAparam > 0 {
			return nil, types.Errorf("fparam_from_compute %q cannot feed the model's aparam arity %d, computes are frame-level only", cfg.ComputeID, dimAparam)
		}
		c, ok := host.ComputeByID(cfg.ComputeID)
		if !ok {
			return nil, types.Errorf("compute %q not found", cfg.ComputeID)
		}
		b.compute, b.computeID = c, cfg.ComputeID
	case SourceTTM:
		if dimFparam == 0 && dimAparam == 0 {
			return nil, types.Errorf("ttm_fix %q configured but the model declares no conditioning input", cfg.TTMFixID)
		}
		if dimFparam > 1 {
			return nil, types.Errorf("ttm fparam coupling requires arity 1, model expects %d", dimFparam)
		}
		if dimAparam > 1 {
			return nil, types.Errorf("ttm aparam coupling requires arity 1, model expects %d", dimAparam)
		}
		f, ok := host.FixByID(cfg.TTMFixID)
		if !ok {
			return nil, types.Errorf("fix %q not found", cfg.TTMFixID)
		}
		b.ttm, b.ttmID = f, cfg.TTMFixID
	}
	return b, nil
}

// Source reports the configured source.
func (b *Builder) Source() Source { return b.source }

// BuildFparam assembles the frame-level vector for this step. The result is
// always freshly built, never cached across steps.
func (b *Builder) BuildFparam(frame *types.AtomFrame) ([]types.Real, error) {
	if b.dimFparam == 0 {
		return nil, nil
	}
	switch b.source {
	case SourceStatic:
		return append([]types.Real(nil), b.staticF...), nil
	case SourceCompute:
		v, err := b.compute.Vector()
		if err != nil {
			return nil, types.Errorf("compute %q: %v", b.computeID, err)
		}
		if len(v) != b.dimFparam {
			return nil, types.Errorf("compute %q returned %d values, model expects %d", b.computeID, len(v), b.dimFparam)
		}
		return append([]types.Real(nil), v...), nil
	case SourceTTM:
		// frame-level coupling: average electronic temperature of local atoms
		if frame.Nlocal == 0 {
			return []types.Real{0}, nil
		}
		var sum types.Real
		for i := 0; i < frame.Nlocal; i++ {
			te, err := b.ttm.TempAt(frame.Pos[3*i], frame.Pos[3*i+1], frame.Pos[3*i+2])
			if err != nil {
				return nil, types.Errorf("ttm fix %q: %v", b.ttmID, err)
			}
			sum += te
		}
		return []types.Real{sum / types.Real(frame.Nlocal)}, nil
	}
	return nil, types.Errorf("model expects fparam arity %d but no source is configured", b.dimFparam)
}

// BuildAparam assembles the per-atom vector for this step, one arity block
// per local atom.
func (b *Builder) BuildAparam(frame *types.AtomFrame) ([]types.Real, error) {
	if b.dimAparam == 0 {
		return nil, nil
	}
	switch b.source {
	case SourceStatic:
		out := make([]types.Real, 0, frame.Nlocal*b.dimAparam)
		for i := 0; i < frame.Nlocal; i++ {
			out = append(out, b.staticA...)
		}
		return out, nil
	case SourceTTM:
		out := make([]types.Real, frame.Nlocal)
		for i := 0; i < frame.Nlocal; i++ {
			te, err := b.ttm.TempAt(frame.Pos[3*i], frame.Pos[3*i+1], frame.Pos[3*i+2])
			if err != nil {
				return nil, types.Errorf("ttm fix %q: %v", b.ttmID, err)
			}
			out[i] = te
		}
		return out, nil
	}
	return nil, types.Errorf("model expects aparam arity %d but no per-atom source is configured", b.dimAparam)
}
