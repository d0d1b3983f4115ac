package bridge

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"mdbridge/internal/comm"
	"mdbridge/pkg/types"
)

// writeModel writes a one-type harmonic model with the given spring constant
// and returns its path.
func writeModel(t *testing.T, dir, name string, k float64) string {
	t.Helper()
	content := fmt.Sprintf(`kind: pair-harmonic
types: [O]
cutoff: 6.0
pairs:
  - { i: O, j: O, k: %v, r0: 1.5 }
`, k)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return path
}

// dimerFrame places two atoms 2.0 apart with a half neighbor list. With
// r0 = 1.5 a spring constant k yields force magnitude k on each atom.
func dimerFrame(step int64) *types.AtomFrame {
	return &types.AtomFrame{
		Step:   step,
		Nlocal: 2,
		Types:  []int{1, 1},
		Tags:   []int64{1, 2},
		Pos:    []types.Real{0, 0, 0, 2, 0, 0},
		Neighbors: types.NeighborList{
			Ilist: []int{0},
			Neigh: [][]int{{1}},
		},
		Forces: make([]types.Real, 6),
	}
}

func configured(t *testing.T, args []string) *Bridge {
	t.Helper()
	b := New(comm.Single{}, nil)
	if err := b.Configure(args); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	if err := b.Coeff([]string{"O"}); err != nil {
		t.Fatalf("Coeff: %v", err)
	}
	if err := b.InitStyle(); err != nil {
		t.Fatalf("InitStyle: %v", err)
	}
	return b
}

func TestSingleModelCompute(t *testing.T) {
	dir := t.TempDir()
	m := writeModel(t, dir, "a.yaml", 1.0)
	b := configured(t, []string{m, "out_freq", "0"})

	frame := dimerFrame(0)
	res, err := b.Compute(frame, false, false)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if math.Abs(float64(res.Energy)-0.25) > 1e-12 {
		t.Fatalf("energy = %v, want 0.25", res.Energy)
	}
	if math.Abs(float64(frame.Forces[0])-1.0) > 1e-12 || math.Abs(float64(frame.Forces[3])+1.0) > 1e-12 {
		t.Fatalf("forces = %v", frame.Forces)
	}
}

func TestCommitteeComputeDeviationAndLog(t *testing.T) {
	dir := t.TempDir()
	ma := writeModel(t, dir, "a.yaml", 1.0)
	mb := writeModel(t, dir, "b.yaml", 1.2)
	out := filepath.Join(dir, "md.out")
	b := configured(t, []string{ma, mb,
		"out_freq", "1", "out_file", out, "eps", "0.2", "eps_v", "0.1"})

	frame := dimerFrame(0)
	res, err := b.Compute(frame, true, true)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	// committee mean of k=1.0 and k=1.2 springs
	if math.Abs(float64(frame.Forces[0])-1.1) > 1e-12 {
		t.Fatalf("mean x-force = %v, want 1.1", frame.Forces[0])
	}
	if math.Abs(float64(res.Energy)-0.275) > 1e-12 {
		t.Fatalf("mean energy = %v, want 0.275", res.Energy)
	}
	// per-atom arrays must survive the committee mean; the pair energy is
	// split evenly across the dimer
	if len(res.AtomEnergy) != 2 || math.Abs(float64(res.AtomEnergy[0])-0.1375) > 1e-12 {
		t.Fatalf("mean atom energy = %v, want [0.1375 0.1375]", res.AtomEnergy)
	}
	if len(res.AtomVirial) != 18 {
		t.Fatalf("mean atom virial length = %d, want 18", len(res.AtomVirial))
	}
	stats := b.LastDeviation()
	if math.Abs(float64(stats.MaxF)-0.1) > 1e-12 {
		t.Fatalf("max deviation = %v, want 0.1", stats.MaxF)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("deviation log not written: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("log lines = %d, want header + 1", len(lines))
	}
	fields := strings.Fields(lines[1])
	if fields[0] != "0" {
		t.Fatalf("step column = %q", fields[0])
	}
	maxF, err := strconv.ParseFloat(fields[1], 64)
	if err != nil || math.Abs(maxF-0.1) > 1e-6 {
		t.Fatalf("logged max deviation = %q", fields[1])
	}
}

func TestLogCadenceRespectsOutFreq(t *testing.T) {
	dir := t.TempDir()
	ma := writeModel(t, dir, "a.yaml", 1.0)
	mb := writeModel(t, dir, "b.yaml", 1.2)
	out := filepath.Join(dir, "md.out")
	b := configured(t, []string{ma, mb, "out_freq", "2", "out_file", out})

	for step := int64(0); step < 5; step++ {
		if _, err := b.Compute(dimerFrame(step), false, false); err != nil {
			t.Fatalf("Compute step %d: %v", step, err)
		}
	}
	data, _ := os.ReadFile(out)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	// header + steps 0, 2, 4
	if len(lines) != 4 {
		t.Fatalf("log lines = %d, want 4:\n%s", len(lines), data)
	}
}

func TestComputeBeforeCoeffFails(t *testing.T) {
	dir := t.TempDir()
	m := writeModel(t, dir, "a.yaml", 1.0)
	b := New(comm.Single{}, nil)
	if err := b.Configure([]string{m, "out_freq", "0"}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	defer b.Close()
	_, err := b.Compute(dimerFrame(0), false, false)
	if err == nil || !types.IsLibError(err) {
		t.Fatalf("Compute before coeff = %v, want LibError", err)
	}
}

func TestConfigureMissingModelFile(t *testing.T) {
	b := New(comm.Single{}, nil)
	err := b.Configure([]string{filepath.Join(t.TempDir(), "absent.yaml"), "out_freq", "0"})
	if err == nil || !types.IsLibError(err) {
		t.Fatalf("Configure with absent model = %v, want LibError", err)
	}
}

func TestCoeffRejectsUnknownTypeName(t *testing.T) {
	dir := t.TempDir()
	m := writeModel(t, dir, "a.yaml", 1.0)
	b := New(comm.Single{}, nil)
	if err := b.Configure([]string{m, "out_freq", "0"}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	defer b.Close()
	err := b.Coeff([]string{"Xx"})
	if err == nil || !strings.Contains(err.Error(), "type map") {
		t.Fatalf("Coeff with unknown type = %v", err)
	}
}

func TestInitOneValidatesRangeAndReturnsCutoff(t *testing.T) {
	dir := t.TempDir()
	m := writeModel(t, dir, "a.yaml", 1.0)
	b := configured(t, []string{m, "out_freq", "0"})
	cut, err := b.InitOne(1, 1)
	if err != nil || cut != 6.0 {
		t.Fatalf("InitOne = %v, %v", cut, err)
	}
	if _, err := b.InitOne(0, 1); err == nil {
		t.Fatalf("InitOne(0,1) should fail")
	}
	if _, err := b.InitOne(1, 2); err == nil {
		t.Fatalf("InitOne beyond numbTypes should fail")
	}
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	m := writeModel(t, dir, "a.yaml", 1.0)
	b := configured(t, []string{m, "out_freq", "0"})
	if v, ok := b.Extract("cut"); !ok || v.(types.Real) != 6.0 {
		t.Fatalf(`Extract("cut") = %v, %v`, v, ok)
	}
	v, ok := b.Extract("scale")
	if !ok {
		t.Fatalf(`Extract("scale") missing`)
	}
	if _, ok := v.(types.ScaleTable); !ok {
		t.Fatalf(`Extract("scale") type = %T`, v)
	}
	if _, ok := b.Extract("nope"); ok {
		t.Fatalf(`Extract("nope") should report absence`)
	}
}

func TestScaleAppliedToForcesAndEnergy(t *testing.T) {
	dir := t.TempDir()
	m := writeModel(t, dir, "a.yaml", 1.0)
	b := configured(t, []string{m, "out_freq", "0"})
	scale, _ := b.Extract("scale")
	scale.(types.ScaleTable)[1][1] = 2

	frame := dimerFrame(0)
	res, err := b.Compute(frame, false, false)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if math.Abs(float64(frame.Forces[0])-2.0) > 1e-12 {
		t.Fatalf("scaled force = %v, want 2.0", frame.Forces[0])
	}
	if math.Abs(float64(res.Energy)-0.5) > 1e-12 {
		t.Fatalf("scaled energy = %v, want 0.5", res.Energy)
	}
}

func TestRestartRoundTripThroughBridge(t *testing.T) {
	dir := t.TempDir()
	ma := writeModel(t, dir, "a.yaml", 1.0)
	mb := writeModel(t, dir, "b.yaml", 1.2)
	args := []string{ma, mb, "out_freq", "0"}

	b := configured(t, args)
	scale, _ := b.Extract("scale")
	scale.(types.ScaleTable)[1][1] = 0.75
	var buf bytes.Buffer
	if err := b.WriteRestart(&buf); err != nil {
		t.Fatalf("WriteRestart: %v", err)
	}

	fresh := New(comm.Single{}, nil)
	if err := fresh.Configure(args); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	defer fresh.Close()
	if err := fresh.ReadRestart(bytes.NewReader(buf.Bytes()), 1); err != nil {
		t.Fatalf("ReadRestart: %v", err)
	}
	if err := fresh.Coeff([]string{"O"}); err != nil {
		t.Fatalf("Coeff after restart: %v", err)
	}
	got, _ := fresh.Extract("scale")
	if got.(types.ScaleTable)[1][1] != 0.75 {
		t.Fatalf("restored scale = %v, want 0.75", got.(types.ScaleTable)[1][1])
	}

	// mismatched type count must refuse the restore
	bad := New(comm.Single{}, nil)
	if err := bad.Configure(args); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	defer bad.Close()
	err := bad.ReadRestart(bytes.NewReader(buf.Bytes()), 3)
	if err == nil || !types.IsLibError(err) {
		t.Fatalf("ReadRestart with wrong numbTypes = %v, want LibError", err)
	}
}

func TestPlanRebuiltWhenGhostCountChanges(t *testing.T) {
	dir := t.TempDir()
	ma := writeModel(t, dir, "a.yaml", 1.0)
	mb := writeModel(t, dir, "b.yaml", 1.2)
	out := filepath.Join(dir, "md.out")
	b := configured(t, []string{ma, mb, "out_freq", "1", "out_file", out})

	if _, err := b.Compute(dimerFrame(0), false, false); err != nil {
		t.Fatalf("Compute without ghosts: %v", err)
	}

	// same system plus a ghost image of atom 2; the exchange plan from the
	// first step no longer fits and must be rebuilt
	frame := &types.AtomFrame{
		Step:   1,
		Nlocal: 2,
		Nghost: 1,
		Types:  []int{1, 1, 1},
		Tags:   []int64{1, 2, 2},
		Pos:    []types.Real{0, 0, 0, 2, 0, 0, 4, 0, 0},
		Neighbors: types.NeighborList{
			Ilist: []int{0, 1},
			Neigh: [][]int{{1}, {2}},
		},
		Forces: make([]types.Real, 9),
	}
	if _, err := b.Compute(frame, false, false); err != nil {
		t.Fatalf("Compute with new ghost layout: %v", err)
	}
}

func TestCommitteeAcrossRanks(t *testing.T) {
	dir := t.TempDir()
	ma := writeModel(t, dir, "a.yaml", 1.0)
	mb := writeModel(t, dir, "b.yaml", 1.2)
	out := filepath.Join(dir, "md.out")
	args := []string{ma, mb, "out_freq", "1", "out_file", out, "eps", "0.15"}

	// Rank 0 holds a dimer at distance 2.0 (per-atom deviation 0.1), rank 1
	// one at distance 2.5 (deviation 0.2); the reported max must be the
	// global one and only rank 0 writes the log.
	world := comm.NewGroup(2)
	errs := make([]error, 2)
	done := make(chan struct{})
	for r := 0; r < 2; r++ {
		go func(r int) {
			defer func() { done <- struct{}{} }()
			errs[r] = func() error {
				b := New(world[r], nil)
				if err := b.Configure(args); err != nil {
					return err
				}
				defer b.Close()
				if err := b.Coeff([]string{"O"}); err != nil {
					return err
				}
				if err := b.InitStyle(); err != nil {
					return err
				}
				frame := dimerFrame(0)
				if r == 1 {
					frame.Tags = []int64{3, 4}
					frame.Pos[3] = 2.5
				}
				if _, err := b.Compute(frame, false, false); err != nil {
					return err
				}
				wantF := 1.1
				if r == 1 {
					wantF = 2.2
				}
				if math.Abs(float64(frame.Forces[0])-wantF) > 1e-12 {
					return fmt.Errorf("rank %d mean x-force = %v, want %v", r, frame.Forces[0], wantF)
				}
				stats := b.LastDeviation()
				if math.Abs(float64(stats.MaxF)-0.2) > 1e-12 {
					return fmt.Errorf("rank %d max deviation = %v, want global 0.2", r, stats.MaxF)
				}
				wantRMS := math.Sqrt(0.025)
				if math.Abs(float64(stats.RMSF)-wantRMS) > 1e-12 {
					return fmt.Errorf("rank %d rms deviation = %v, want %v", r, stats.RMSF, wantRMS)
				}
				return nil
			}()
		}(r)
	}
	for r := 0; r < 2; r++ {
		<-done
	}
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", r, err)
		}
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("deviation log not written: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("log lines = %d, want header + 1", len(lines))
	}
	maxF, err := strconv.ParseFloat(strings.Fields(lines[1])[1], 64)
	if err != nil || math.Abs(maxF-0.2) > 1e-6 {
		t.Fatalf("logged max deviation = %q", strings.Fields(lines[1])[1])
	}
}

func TestNodeRank(t *testing.T) {
	b := New(comm.Single{}, nil)
	if b.NodeRank() != 0 {
		t.Fatalf("NodeRank = %d", b.NodeRank())
	}
}
