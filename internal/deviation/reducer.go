// Package deviation turns a committee's per-model predictions into the mean
// force the integrator consumes plus per-atom and per-system disagreement
// statistics, reduced across ranks.
package deviation

import (
	"math"

	"mdbridge/internal/comm"
	"mdbridge/internal/halo"
	"mdbridge/pkg/types"
)

// Config carries the deviation thresholds and the optional relative levels.
// A RelLevel > 0 switches the force deviation to dev/(|f_mean|+level); same
// for the virial with RelLevelV.
type Config struct {
	Eps  types.Real
	EpsV types.Real

	RelLevel  types.Real
	RelLevelV types.Real
}

// Reducer combines committee outputs. It holds no per-step state.
type Reducer struct {
	cfg Config
}

// New returns a Reducer for the given thresholds.
func New(cfg Config) *Reducer { return &Reducer{cfg: cfg} }

// Mean averages the committee arithmetically: forces per atom component,
// energy, virial, and the per-atom arrays when every member carries them. The
// result has the same atom span as the inputs.
func Mean(results []types.EvalResult, nall int) types.EvalResult {
	m := types.Real(len(results))
	out := types.EvalResult{Forces: make([]types.Real, 3*nall)}
	if allHave(results, func(r types.EvalResult) int { return len(r.AtomEnergy) }) {
		out.AtomEnergy = make([]types.Real, len(results[0].AtomEnergy))
	}
	if allHave(results, func(r types.EvalResult) int { return len(r.AtomVirial) }) {
		out.AtomVirial = make([]types.Real, len(results[0].AtomVirial))
	}
	for _, r := range results {
		out.Energy += r.Energy
		for i := range out.Forces {
			out.Forces[i] += r.Forces[i]
		}
		for i := range out.Virial {
			out.Virial[i] += r.Virial[i]
		}
		for i := range out.AtomEnergy {
			out.AtomEnergy[i] += r.AtomEnergy[i]
		}
		for i := range out.AtomVirial {
			out.AtomVirial[i] += r.AtomVirial[i]
		}
	}
	out.Energy /= m
	for i := range out.Forces {
		out.Forces[i] /= m
	}
	for i := range out.Virial {
		out.Virial[i] /= m
	}
	for i := range out.AtomEnergy {
		out.AtomEnergy[i] /= m
	}
	for i := range out.AtomVirial {
		out.AtomVirial[i] /= m
	}
	return out
}

// allHave reports whether every result carries a same-length, non-empty array
// under the given accessor.
func allHave(results []types.EvalResult, length func(types.EvalResult) int) bool {
	n := length(results[0])
	if n == 0 {
		return false
	}
	for _, r := range results[1:] {
		if length(r) != n {
			return false
		}
	}
	return true
}

// Reduce computes the committee mean and the deviation statistics for one
// step. Per-atom squared disagreement is accumulated for ghosts too, folded
// back to owning ranks through the exchange plan, and only then normalized:
//
//	dev_i = sqrt( sum_m |f_m,i - f_mean,i|^2 / M )
//
// (population convention over the M models, full 3-vector norm). An atom is
// flagged when dev_i >= Eps. The virial deviation uses the globally summed
// per-model virials, normalized by the global atom count, thresholded by
// EpsV. MaxF and RMSF are global reductions across all ranks.
func (r *Reducer) Reduce(results []types.EvalResult, frame *types.AtomFrame, plan *halo.ExchangePlan, c comm.Communicator) (types.EvalResult, types.DeviationStats, error) {
	nall := frame.Nall()
	m := len(results)
	mean := Mean(results, nall)

	// squared disagreement per atom, ghosts included
	ssq := make([]types.Real, nall)
	for _, res := range results {
		for i := 0; i < nall; i++ {
			for comp := 0; comp < 3; comp++ {
				d := res.Forces[3*i+comp] - mean.Forces[3*i+comp]
				ssq[i] += d * d
			}
		}
	}
	folded, err := plan.Fold(ssq)
	if err != nil {
		return types.EvalResult{}, types.DeviationStats{}, err
	}

	stats := types.DeviationStats{
		PerAtom: make([]types.Real, frame.Nlocal),
		Flagged: make([]bool, frame.Nlocal),
	}
	var sumSq types.Real
	for i := 0; i < frame.Nlocal; i++ {
		dev := types.Real(math.Sqrt(float64(folded[i] / types.Real(m))))
		if r.cfg.RelLevel > 0 {
			var fn types.Real
			for comp := 0; comp < 3; comp++ {
				fn += mean.Forces[3*i+comp] * mean.Forces[3*i+comp]
			}
			dev /= types.Real(math.Sqrt(float64(fn))) + r.cfg.RelLevel
		}
		stats.PerAtom[i] = dev
		stats.Flagged[i] = dev >= r.cfg.Eps
		if dev > stats.MaxF {
			stats.MaxF = dev
		}
		sumSq += dev * dev
	}

	// global reductions: max, rms over all local atoms of all ranks, and the
	// per-model virial sums for the system-wide virial deviation
	sums := make([]types.Real, 2+9*m)
	sums[0] = sumSq
	sums[1] = types.Real(frame.Nlocal)
	for k, res := range results {
		for j := 0; j < 9; j++ {
			sums[2+9*k+j] = res.Virial[j]
		}
	}
	globalSums, err := c.AllReduceSum(sums)
	if err != nil {
		return types.EvalResult{}, types.DeviationStats{}, err
	}
	maxes, err := c.AllReduceMax([]types.Real{stats.MaxF})
	if err != nil {
		return types.EvalResult{}, types.DeviationStats{}, err
	}
	stats.MaxF = maxes[0]
	if n := globalSums[1]; n > 0 {
		stats.RMSF = types.Real(math.Sqrt(float64(globalSums[0] / n)))
		stats.DeviV = r.virialDeviation(globalSums[2:], m, n)
	}
	return mean, stats, nil
}

// virialDeviation computes the per-system scalar from globally summed
// per-model virials: sqrt(sum_m |V_m - V_mean|^2 / M) / Natoms.
func (r *Reducer) virialDeviation(virials []types.Real, m int, natoms types.Real) types.Real {
	var vmean [9]types.Real
	for k := 0; k < m; k++ {
		for j := 0; j < 9; j++ {
			vmean[j] += virials[9*k+j]
		}
	}
	for j := range vmean {
		vmean[j] /= types.Real(m)
	}
	var ssq types.Real
	for k := 0; k < m; k++ {
		for j := 0; j < 9; j++ {
			d := virials[9*k+j] - vmean[j]
			ssq += d * d
		}
	}
	dev := types.Real(math.Sqrt(float64(ssq/types.Real(m)))) / natoms
	if r.cfg.RelLevelV > 0 {
		var vn types.Real
		for j := range vmean {
			vn += vmean[j] * vmean[j]
		}
		dev /= types.Real(math.Sqrt(float64(vn)))/natoms + r.cfg.RelLevelV
	}
	return dev
}

// ExceedsVirial reports whether the virial deviation is at or above the
// configured threshold.
func (r *Reducer) ExceedsVirial(stats types.DeviationStats) bool {
	return stats.DeviV >= r.cfg.EpsV
}
