package potential

import (
	"fmt"
	"math"

	"gopkg.in/yaml.v3"

	"mdbridge/pkg/types"
)

// harmonicModel is the serialized form of the reference backend: a harmonic
// pair potential E = sum_pairs k*(r-r0)^2 inside the cutoff, with optional
// linear conditioning scales. It exists so the driver and tests can exercise
// the full bridge without the external potential runtime.
type harmonicModel struct {
	Kind      string   `yaml:"kind"`
	Types     []string `yaml:"types"`
	Cutoff    float64  `yaml:"cutoff"`
	DimFparam int      `yaml:"dim_fparam"`
	DimAparam int      `yaml:"dim_aparam"`
	// FparamCoeff/AparamCoeff give each conditioning scalar a linear effect
	// on the interaction strength: scale = 1 + sum(coeff*param).
	FparamCoeff []float64      `yaml:"fparam_coeff"`
	AparamCoeff []float64      `yaml:"aparam_coeff"`
	Pairs       []harmonicPair `yaml:"pairs"`
}

type harmonicPair struct {
	I  string  `yaml:"i"`
	J  string  `yaml:"j"`
	K  float64 `yaml:"k"`
	R0 float64 `yaml:"r0"`
}

const harmonicKind = "pair-harmonic"

// harmonic is the loaded reference potential.
type harmonic struct {
	info Info
	// k and r0 indexed by modelType*numTypes+modelType
	k  []types.Real
	r0 []types.Real

	fcoeff []types.Real
	acoeff []types.Real
}

func parseHarmonic(data []byte) (*harmonic, error) {
	var m harmonicModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse: %v", err)
	}
	if m.Kind != harmonicKind {
		return nil, fmt.Errorf("unsupported model kind %q", m.Kind)
	}
	if len(m.Types) == 0 {
		return nil, fmt.Errorf("model declares no types")
	}
	if m.Cutoff <= 0 {
		return nil, fmt.Errorf("non-positive cutoff %v", m.Cutoff)
	}
	if m.DimFparam < 0 || m.DimAparam < 0 {
		return nil, fmt.Errorf("negative conditioning arity")
	}
	if len(m.FparamCoeff) != m.DimFparam {
		return nil, fmt.Errorf("fparam_coeff length %d != dim_fparam %d", len(m.FparamCoeff), m.DimFparam)
	}
	if len(m.AparamCoeff) != m.DimAparam {
		return nil, fmt.Errorf("aparam_coeff length %d != dim_aparam %d", len(m.AparamCoeff), m.DimAparam)
	}

	nt := len(m.Types)
	idx := make(map[string]int, nt)
	for i, name := range m.Types {
		idx[name] = i
	}
	h := &harmonic{
		info: Info{
			Cutoff:    types.Real(m.Cutoff),
			TypeMap:   append([]string(nil), m.Types...),
			DimFparam: m.DimFparam,
			DimAparam: m.DimAparam,
		},
		k:  make([]types.Real, nt*nt),
		r0: make([]types.Real, nt*nt),
	}
	for _, c := range m.FparamCoeff {
		h.fcoeff = append(h.fcoeff, types.Real(c))
	}
	for _, c := range m.AparamCoeff {
		h.acoeff = append(h.acoeff, types.Real(c))
	}
	for _, p := range m.Pairs {
		i, ok := idx[p.I]
		if !ok {
			return nil, fmt.Errorf("pair references unknown type %q", p.I)
		}
		j, ok := idx[p.J]
		if !ok {
			return nil, fmt.Errorf("pair references unknown type %q", p.J)
		}
		h.k[i*nt+j] = types.Real(p.K)
		h.k[j*nt+i] = types.Real(p.K)
		h.r0[i*nt+j] = types.Real(p.R0)
		h.r0[j*nt+i] = types.Real(p.R0)
	}
	return h, nil
}

func (h *harmonic) Info() Info { return h.info }

// Evaluate walks the half neighbor list once per pair and accumulates
// energy, forces on both partners (ghosts included), and the virial.
func (h *harmonic) Evaluate(req Request) (types.EvalResult, error) {
	frame := req.Frame
	nall := frame.Nall()
	if len(req.TypeIdx) < nall {
		return types.EvalResult{}, types.Errorf("type index length %d < atom count %d", len(req.TypeIdx), nall)
	}
	if len(req.Fparam) != h.info.DimFparam {
		return types.EvalResult{}, types.Errorf("fparam length %d does not match model arity %d", len(req.Fparam), h.info.DimFparam)
	}
	if h.info.DimAparam > 0 && len(req.Aparam) != frame.Nlocal*h.info.DimAparam {
		return types.EvalResult{}, types.Errorf("aparam length %d does not match %d atoms x arity %d",
			len(req.Aparam), frame.Nlocal, h.info.DimAparam)
	}

	fscale := types.Real(1)
	for d, c := range h.fcoeff {
		fscale += c * req.Fparam[d]
	}

	res := types.EvalResult{Forces: make([]types.Real, 3*nall)}
	if req.WantAtomEnergy {
		res.AtomEnergy = make([]types.Real, nall)
	}
	if req.WantAtomVirial {
		res.AtomVirial = make([]types.Real, 9*nall)
	}

	nt := h.info.NumTypes()
	for n, i := range frame.Neighbors.Ilist {
		ti := req.TypeIdx[i]
		si := h.atomScale(req, i)
		for _, j := range frame.Neighbors.Neigh[n] {
			tj := req.TypeIdx[j]
			k := h.k[ti*nt+tj]
			if k == 0 {
				continue
			}
			var d [3]types.Real
			var r2 types.Real
			for c := 0; c < 3; c++ {
				d[c] = frame.Pos[3*i+c] - frame.Pos[3*j+c]
				r2 += d[c] * d[c]
			}
			r := types.Real(math.Sqrt(float64(r2)))
			if r == 0 || r >= h.info.Cutoff {
				continue
			}
			scale := fscale * si * h.atomScale(req, j)
			dr := r - h.r0[ti*nt+tj]
			e := scale * k * dr * dr
			// f = -dE/dr along the pair axis, applied equal and opposite
			fmag := -2 * scale * k * dr / r
			res.Energy += e
			for c := 0; c < 3; c++ {
				fc := fmag * d[c]
				res.Forces[3*i+c] += fc
				res.Forces[3*j+c] -= fc
			}
			for a := 0; a < 3; a++ {
				for b := 0; b < 3; b++ {
					res.Virial[3*a+b] += d[a] * fmag * d[b]
				}
			}
			if req.WantAtomEnergy {
				res.AtomEnergy[i] += e / 2
				res.AtomEnergy[j] += e / 2
			}
			if req.WantAtomVirial {
				for a := 0; a < 3; a++ {
					for b := 0; b < 3; b++ {
						w := d[a] * fmag * d[b] / 2
						res.AtomVirial[9*i+3*a+b] += w
						res.AtomVirial[9*j+3*a+b] += w
					}
				}
			}
		}
	}
	return res, nil
}

// atomScale is the per-atom conditioning factor; ghosts carry no aparam and
// scale by 1.
func (h *harmonic) atomScale(req Request, i int) types.Real {
	s := types.Real(1)
	if h.info.DimAparam == 0 || i >= req.Frame.Nlocal {
		return s
	}
	for d, c := range h.acoeff {
		s += c * req.Aparam[i*h.info.DimAparam+d]
	}
	return s
}
