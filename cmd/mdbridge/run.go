package main

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"mdbridge/internal/bridge"
	"mdbridge/internal/comm"
	"mdbridge/internal/config"
	"mdbridge/internal/monitor"
	"mdbridge/internal/registry"
	"mdbridge/pkg/types"
)

// newRunCmd builds the standalone driver: an in-process multi-rank loop that
// pushes a synthetic atom chain through the full bridge so committees,
// deviation logs, and the monitor can be exercised without a host engine.
func newRunCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a synthetic MD loop through the bridge",
		Example: "  mdbridge run --config run.yaml\n" +
			"  MDBRIDGE_MODELS=a.yaml,b.yaml mdbridge run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunConfig(cfgPath)
			if err != nil {
				return err
			}
			return runDriver(cfg)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "Config file (yaml/json/toml); env vars apply on top")
	return cmd
}

func loadRunConfig(path string) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return cfg, err
	}
	if len(cfg.Models) == 0 && cfg.ModelsDir != "" {
		found, err := registry.LoadDir(cfg.ModelsDir)
		if err != nil {
			return cfg, err
		}
		for _, m := range found {
			cfg.Models = append(cfg.Models, m.Path)
		}
	}
	if len(cfg.Models) == 0 {
		return cfg, fmt.Errorf("no models configured (set models or models_dir in the config file, or MDBRIDGE_MODELS)")
	}
	if cfg.Steps <= 0 {
		cfg.Steps = 100
	}
	if cfg.Atoms <= 0 {
		cfg.Atoms = 16
	}
	if cfg.Ranks <= 0 {
		cfg.Ranks = 1
	}
	if cfg.OutFreq < 0 {
		return cfg, fmt.Errorf("out_freq must be non-negative, got %d", cfg.OutFreq)
	}
	if cfg.OutFile == "" {
		cfg.OutFile = "model_devi.out"
	}
	return cfg, nil
}

func runDriver(cfg config.Config) error {
	world := comm.NewGroup(cfg.Ranks)
	errs := make([]error, cfg.Ranks)
	var wg sync.WaitGroup
	for r := 0; r < cfg.Ranks; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			errs[r] = runRank(cfg, world[r])
		}(r)
	}
	wg.Wait()
	for r, err := range errs {
		if err != nil {
			return fmt.Errorf("rank %d: %w", r, err)
		}
	}
	return nil
}

func runRank(cfg config.Config, c *comm.InProc) error {
	b := bridge.New(c, nil)
	args := append([]string(nil), cfg.Models...)
	args = append(args,
		"out_freq", fmt.Sprint(cfg.OutFreq),
		"out_file", cfg.OutFile,
		"eps", fmt.Sprint(cfg.Eps),
		"eps_v", fmt.Sprint(cfg.EpsV),
	)
	if err := b.Configure(args); err != nil {
		return err
	}
	defer b.Close()
	if err := b.Coeff(b.TypeMap()); err != nil {
		return err
	}
	if err := b.InitStyle(); err != nil {
		return err
	}

	if cfg.MonitorAddr != "" && c.Rank() == 0 {
		go func() {
			if err := monitor.Serve(cfg.MonitorAddr, b); err != nil && !strings.Contains(err.Error(), "Server closed") {
				fmt.Println("monitor:", err)
			}
		}()
	}

	frame := chainFrame(cfg.Atoms, c.Rank())
	for step := int64(0); step < cfg.Steps; step++ {
		jitterChain(frame, step)
		frame.Step = step
		for i := range frame.Forces {
			frame.Forces[i] = 0
		}
		if _, err := b.Compute(frame, false, false); err != nil {
			return err
		}
	}
	return nil
}

// chainFrame builds a 1D chain of atoms of the first model type, spaced near
// the harmonic rest length, with consecutive-pair half neighbor lists. Ranks
// own disjoint tag ranges.
func chainFrame(n, rank int) *types.AtomFrame {
	f := &types.AtomFrame{
		Nlocal: n,
		Types:  make([]int, n),
		Tags:   make([]int64, n),
		Pos:    make([]types.Real, 3*n),
		Forces: make([]types.Real, 3*n),
	}
	for i := 0; i < n; i++ {
		f.Types[i] = 1
		f.Tags[i] = int64(rank*n + i + 1)
	}
	for i := 0; i+1 < n; i++ {
		f.Neighbors.Ilist = append(f.Neighbors.Ilist, i)
		f.Neighbors.Neigh = append(f.Neighbors.Neigh, []int{i + 1})
	}
	return f
}

// jitterChain displaces each atom along x with a slow per-step wave so the
// pair distances, and with them the committee disagreement, change over time.
func jitterChain(f *types.AtomFrame, step int64) {
	const spacing = 1.6
	for i := 0; i < f.Nlocal; i++ {
		phase := float64(step)/25 + float64(i)/3
		f.Pos[3*i] = types.Real(float64(i)*spacing + 0.05*math.Sin(phase))
		f.Pos[3*i+1] = 0
		f.Pos[3*i+2] = 0
	}
}
