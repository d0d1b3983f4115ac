// Package bridge is the pair-style adapter between the host MD engine and
// the potential ensemble: it marshals the host's per-rank atom arrays into
// model requests, reduces committee outputs into forces and deviation
// statistics, folds ghost contributions back to owning ranks, and surfaces
// every library failure as a LibError on the host's error path.
package bridge

import (
	"io"
	"sync"
	"time"

	"mdbridge/internal/comm"
	"mdbridge/internal/conditioning"
	"mdbridge/internal/devlog"
	"mdbridge/internal/deviation"
	"mdbridge/internal/ensemble"
	"mdbridge/internal/halo"
	"mdbridge/internal/potential"
	"mdbridge/internal/restart"
	"mdbridge/pkg/types"
)

// logRank is the rank that owns the deviation log handle and file reads.
const logRank = 0

// Bridge is one rank's adapter instance. Setup order follows the host's
// pair-style lifecycle: Settings, optionally ReadRestart, Coeff, InitStyle,
// then Compute once per step. None of the methods are safe for concurrent
// use except Snapshot.
type Bridge struct {
	c    comm.Communicator
	host conditioning.HostLookup

	set    Settings
	models []types.Model

	ens     *ensemble.Ensemble
	cond    *conditioning.Builder
	reducer *deviation.Reducer
	log     *devlog.Writer

	scale     types.ScaleTable
	typeIdx   []int // host type (1-based) -> model type index
	numbTypes int
	cutoff    types.Real
	isRestart bool

	plan      *halo.ExchangePlan
	planStale bool

	mu   sync.Mutex
	snap Snapshot
}

// Snapshot is the monitor-facing view of the bridge, safe to read while the
// simulation runs.
type Snapshot struct {
	Step       int64    `json:"step"`
	Models     []string `json:"models"`
	Mode       string   `json:"mode"`
	Cutoff     float64  `json:"cutoff"`
	LastMaxF   float64  `json:"last_max_devi_f"`
	LastRMSF   float64  `json:"last_rms_devi_f"`
	LastDeviV  float64  `json:"last_devi_v"`
	StepsDone  int64    `json:"steps_done"`
	NumbModels int      `json:"numb_models"`
}

// New returns an unconfigured bridge bound to a communicator and the host's
// named-collaborator lookup. host may be nil when the run uses no external
// conditioning source.
func New(c comm.Communicator, host conditioning.HostLookup) *Bridge {
	return &Bridge{c: c, host: host}
}

// NodeRank exposes this rank's index, used by the host to decide which rank
// performs logging and file reads.
func (b *Bridge) NodeRank() int { return b.c.Rank() }

// TypeMap returns the loaded models' element names in model type order.
// Valid after Configure.
func (b *Bridge) TypeMap() []string {
	if b.ens == nil {
		return nil
	}
	return append([]string(nil), b.ens.Info().TypeMap...)
}

// Configure parses the settings line and brings the ensemble, conditioning
// builder, reducer, and deviation log up. Model files are read once on the
// designated rank and broadcast, so every rank loads identical bytes.
// Configuration errors are fatal here, never deferred to the first step.
func (b *Bridge) Configure(args []string) error {
	set, err := ParseSettings(args)
	if err != nil {
		return err
	}
	b.set = set

	var contents [][]byte
	if b.c.Rank() == logRank {
		contents, err = potential.FileContents(set.ModelPaths)
		if err != nil {
			return err
		}
	}
	b.models = make([]types.Model, len(set.ModelPaths))
	for i, path := range set.ModelPaths {
		var content []byte
		if contents != nil {
			content = contents[i]
		}
		content, err = b.c.Broadcast(logRank, content)
		if err != nil {
			return err
		}
		b.models[i] = types.Model{ID: path, Path: path, Content: content}
	}

	pots, err := potential.LoadAll(b.models)
	if err != nil {
		return err
	}
	// committees run deviation reduction only when output is requested
	b.ens, err = ensemble.New(pots, set.OutFreq > 0)
	if err != nil {
		return err
	}
	info := b.ens.Info()
	b.cutoff = info.Cutoff

	b.cond, err = conditioning.New(conditioning.Config{
		StaticFparam: set.Fparam,
		StaticAparam: set.Aparam,
		ComputeID:    set.ComputeID,
		TTMFixID:     set.TTMFixID,
	}, b.host, info.DimFparam, info.DimAparam)
	if err != nil {
		return err
	}

	b.reducer = deviation.New(deviation.Config{
		Eps:       set.Eps,
		EpsV:      set.EpsV,
		RelLevel:  set.RelLevel,
		RelLevelV: set.RelLevelV,
	})

	logFreq := set.OutFreq
	if b.ens.Mode() != ensemble.MultiModelsDevi {
		logFreq = 0
	}
	b.log, err = devlog.Open(set.OutFile, logFreq, set.OutEach, b.c.Rank() == logRank)
	if err != nil {
		return err
	}

	committeeModels.Set(float64(b.ens.Size()))
	b.mu.Lock()
	b.snap = Snapshot{
		Models:     set.ModelPaths,
		Mode:       b.ens.Mode().String(),
		Cutoff:     float64(b.cutoff),
		NumbModels: b.ens.Size(),
	}
	b.mu.Unlock()
	b.PrintSummary()
	return nil
}

// Coeff maps the host's 1-based atom types onto model type indices by
// element name. It allocates the scale table unless a restart already
// restored one.
func (b *Bridge) Coeff(typeNames []string) error {
	if b.ens == nil {
		return types.NewLibError("coeff before settings")
	}
	info := b.ens.Info()
	idx := make(map[string]int, info.NumTypes())
	for i, name := range info.TypeMap {
		idx[name] = i
	}
	b.numbTypes = len(typeNames)
	b.typeIdx = make([]int, b.numbTypes+1)
	for i, name := range typeNames {
		mi, ok := idx[name]
		if !ok {
			return types.Errorf("coeff: type %q is not in the model type map %v", name, info.TypeMap)
		}
		b.typeIdx[i+1] = mi
	}
	if !b.isRestart {
		b.scale = types.NewScaleTable(b.numbTypes)
	} else if b.scale.NumTypes() != b.numbTypes {
		return types.Errorf("coeff: restored scale table covers %d types, host declares %d", b.scale.NumTypes(), b.numbTypes)
	}
	return nil
}

// InitStyle validates that setup completed. The host calls it after Coeff and
// before the first step.
func (b *Bridge) InitStyle() error {
	if b.ens == nil || b.cond == nil {
		return types.NewLibError("init_style before settings")
	}
	if b.typeIdx == nil {
		return types.NewLibError("init_style before coeff")
	}
	if b.cutoff <= 0 {
		return types.Errorf("model cutoff %v is not positive", b.cutoff)
	}
	return nil
}

// InitOne validates the type pair and returns the model cutoff the host
// feeds into its neighbor-list settings.
func (b *Bridge) InitOne(i, j int) (types.Real, error) {
	if i < 1 || i > b.numbTypes || j < 1 || j > b.numbTypes {
		return 0, types.Errorf("init_one: type pair (%d,%d) outside 1..%d", i, j, b.numbTypes)
	}
	return b.cutoff, nil
}

// Extract exposes named internals to other host components.
func (b *Bridge) Extract(name string) (any, bool) {
	switch name {
	case "scale":
		return b.scale, true
	case "cut":
		return b.cutoff, true
	default:
		return nil, false
	}
}

// NeighborListRebuilt marks the exchange plan stale. The host calls it on
// every rank whenever it rebuilds neighbor lists; the next Compute rebuilds
// the plan atomically.
func (b *Bridge) NeighborListRebuilt() { b.planStale = true }

// LastDeviation returns the statistics of the most recent deviation step.
func (b *Bridge) LastDeviation() types.DeviationStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return types.DeviationStats{MaxF: types.Real(b.snap.LastMaxF), RMSF: types.Real(b.snap.LastRMSF), DeviV: types.Real(b.snap.LastDeviV)}
}

// Snapshot returns the monitor view.
func (b *Bridge) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap
}

// Compute is the per-step entry point. It builds conditioning, evaluates the
// model or committee, reduces deviations across ranks, accumulates forces
// into the host's array, and returns the (scaled) energy and virial. Any
// internal failure comes back as a LibError; the host treats it as fatal for
// the run.
func (b *Bridge) Compute(frame *types.AtomFrame, eflag, vflag bool) (types.EvalResult, error) {
	if b.typeIdx == nil {
		return types.EvalResult{}, types.NewLibError("compute before coeff")
	}
	start := time.Now()

	if b.plan == nil || b.planStale || b.plan.Nghost() != frame.Nghost {
		plan, err := halo.NewPlan(b.c, frame)
		if err != nil {
			return types.EvalResult{}, err
		}
		b.plan = plan
		b.planStale = false
	}

	req, err := b.buildRequest(frame, eflag, vflag)
	if err != nil {
		return types.EvalResult{}, err
	}

	var mean types.EvalResult
	var stats types.DeviationStats
	haveStats := false
	switch b.ens.Mode() {
	case ensemble.SingleModel:
		mean, err = b.ens.Evaluate(req)
	case ensemble.MultiModelsNoDevi:
		var results []types.EvalResult
		results, err = b.ens.EvaluateCommittee(req)
		if err == nil {
			mean = deviation.Mean(results, frame.Nall())
		}
	case ensemble.MultiModelsDevi:
		var results []types.EvalResult
		results, err = b.ens.EvaluateCommittee(req)
		if err == nil {
			mean, stats, err = b.reducer.Reduce(results, frame, b.plan, b.c)
			haveStats = err == nil
		}
	}
	if err != nil {
		return types.EvalResult{}, err
	}

	b.applyScale(frame, &mean)
	for i := range mean.Forces {
		frame.Forces[i] += mean.Forces[i]
	}

	if haveStats {
		deviMaxForce.Set(float64(stats.MaxF))
		deviRMSForce.Set(float64(stats.RMSF))
		deviVirial.Set(float64(stats.DeviV))
		if b.log.ShouldLog(frame.Step) {
			if err := b.log.Append(frame.Step, stats); err != nil {
				return types.EvalResult{}, err
			}
		}
	}

	computeSteps.WithLabelValues(b.ens.Mode().String()).Inc()
	computeDuration.Observe(time.Since(start).Seconds())

	b.mu.Lock()
	b.snap.Step = frame.Step
	b.snap.StepsDone++
	if haveStats {
		b.snap.LastMaxF = float64(stats.MaxF)
		b.snap.LastRMSF = float64(stats.RMSF)
		b.snap.LastDeviV = float64(stats.DeviV)
	}
	b.mu.Unlock()
	return mean, nil
}

// buildRequest maps host types to model indices and assembles fresh
// conditioning vectors for this step.
func (b *Bridge) buildRequest(frame *types.AtomFrame, eflag, vflag bool) (potential.Request, error) {
	nall := frame.Nall()
	typeIdx := make([]int, nall)
	for i := 0; i < nall; i++ {
		t := frame.Types[i]
		if t < 1 || t > b.numbTypes {
			return potential.Request{}, types.Errorf("atom %d has type %d outside 1..%d", i, t, b.numbTypes)
		}
		typeIdx[i] = b.typeIdx[t]
	}
	fparam, err := b.cond.BuildFparam(frame)
	if err != nil {
		return potential.Request{}, err
	}
	aparam, err := b.cond.BuildAparam(frame)
	if err != nil {
		return potential.Request{}, err
	}
	return potential.Request{
		Frame:          frame,
		TypeIdx:        typeIdx,
		Fparam:         fparam,
		Aparam:         aparam,
		WantAtomEnergy: eflag,
		WantAtomVirial: vflag,
	}, nil
}

// applyScale multiplies per-atom forces by the diagonal scale factor of the
// atom's own type and the system terms by scale[1][1].
func (b *Bridge) applyScale(frame *types.AtomFrame, res *types.EvalResult) {
	nall := frame.Nall()
	for i := 0; i < nall; i++ {
		s := b.scale[frame.Types[i]][frame.Types[i]]
		if s == 1 {
			continue
		}
		for c := 0; c < 3; c++ {
			res.Forces[3*i+c] *= s
		}
		if res.AtomEnergy != nil {
			res.AtomEnergy[i] *= s
		}
		if res.AtomVirial != nil {
			for j := 0; j < 9; j++ {
				res.AtomVirial[9*i+j] *= s
			}
		}
	}
	s := b.scale[1][1]
	if s != 1 {
		res.Energy *= s
		for j := range res.Virial {
			res.Virial[j] *= s
		}
	}
}

// WriteRestart serializes the scale table and model identity metadata into
// the host's restart stream.
func (b *Bridge) WriteRestart(w io.Writer) error {
	if b.ens == nil || b.scale == nil {
		return types.NewLibError("write_restart before setup")
	}
	info := b.ens.Info()
	return restart.Write(w, restart.State{
		NumbModels: b.ens.Size(),
		DimFparam:  info.DimFparam,
		DimAparam:  info.DimAparam,
		Scale:      b.scale,
	})
}

// ReadRestart restores the block written by WriteRestart. It must run after
// Configure (so model identity can be validated) and before Coeff; the
// restored scale table is checked against the host's type count there.
func (b *Bridge) ReadRestart(r io.Reader, numbTypes int) error {
	if b.ens == nil {
		return types.NewLibError("read_restart before settings")
	}
	st, err := restart.Read(r, numbTypes)
	if err != nil {
		return err
	}
	info := b.ens.Info()
	if st.NumbModels != b.ens.Size() {
		return types.Errorf("restart written with %d models, current run loads %d", st.NumbModels, b.ens.Size())
	}
	if st.DimFparam != info.DimFparam || st.DimAparam != info.DimAparam {
		return types.Errorf("restart conditioning arity (%d,%d) does not match models (%d,%d)",
			st.DimFparam, st.DimAparam, info.DimFparam, info.DimAparam)
	}
	b.scale = st.Scale
	b.isRestart = true
	return nil
}

// Close flushes and releases the deviation log at teardown.
func (b *Bridge) Close() error { return b.log.Close() }

// PrintSummary logs the loaded configuration on the designated rank.
func (b *Bridge) PrintSummary() {
	if b.c.Rank() != logRank || zlog == nil {
		return
	}
	info := b.ens.Info()
	zlog.Info().
		Int("models", b.ens.Size()).
		Str("mode", b.ens.Mode().String()).
		Float64("cutoff", float64(b.cutoff)).
		Int("dim_fparam", info.DimFparam).
		Int("dim_aparam", info.DimAparam).
		Strs("type_map", info.TypeMap).
		Int64("out_freq", b.set.OutFreq).
		Msg("potential bridge configured")
}
