package types

// Model describes one serialized potential model. Content may be populated
// from the path by the designated reader rank and broadcast, so ranks without
// shared filesystem access still load identical models.
type Model struct {
	ID      string
	Path    string
	Content []byte
}

// NeighborList is the host-built neighbor structure for one step.
// Ilist holds the local atom indices that have entries; Neigh[k] lists the
// neighbor indices (local and ghost) of atom Ilist[k].
type NeighborList struct {
	Ilist []int
	Neigh [][]int
}

// AtomFrame is the per-step view of the host's atom arrays. It is owned by
// the host and valid only for the duration of one compute call; the bridge
// must not retain references past the call. Forces is the host output array
// the bridge accumulates into.
//
// Atom order is local atoms first (Nlocal), then ghosts (Nghost). Pos and
// Forces are flat xyz triplets. Types uses the host's 1-based type ids.
type AtomFrame struct {
	Step   int64
	Nlocal int
	Nghost int
	Types  []int
	Tags   []int64
	Pos    []Real
	Box    [9]Real

	Neighbors NeighborList

	Forces []Real
}

// Nall returns the number of atoms in the frame including ghosts.
func (f *AtomFrame) Nall() int { return f.Nlocal + f.Nghost }

// EvalResult is one model's output for one frame. Forces is flat xyz over
// all atoms including ghosts. AtomEnergy and AtomVirial are populated only
// when the host requested per-atom accumulation.
type EvalResult struct {
	Energy Real
	Forces []Real
	Virial [9]Real

	AtomEnergy []Real
	AtomVirial []Real
}

// ScaleTable holds the per-type-pair energy/force scale factors, indexed
// with the host's 1-based types (row/col 0 unused). It is written once at
// setup or restart and read-only during compute.
type ScaleTable [][]Real

// NewScaleTable allocates an (n+1)x(n+1) table with every factor set to 1.
func NewScaleTable(n int) ScaleTable {
	t := make(ScaleTable, n+1)
	for i := range t {
		t[i] = make([]Real, n+1)
		for j := range t[i] {
			t[i][j] = 1
		}
	}
	return t
}

// NumTypes is the highest type index the table covers.
func (t ScaleTable) NumTypes() int {
	if len(t) == 0 {
		return 0
	}
	return len(t) - 1
}

// DeviationStats is the committee disagreement for one step, recomputed
// every step and never persisted. PerAtom is indexed by local atom index.
type DeviationStats struct {
	PerAtom []Real
	Flagged []bool

	MaxF  Real
	RMSF  Real
	DeviV Real
}
