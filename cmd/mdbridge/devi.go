package main

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// newDeviCmd summarizes a deviation log written by the bridge.
func newDeviCmd() *cobra.Command {
	var eps float64
	cmd := &cobra.Command{
		Use:     "devi FILE",
		Short:   "Summarize a model deviation log",
		Example: "  mdbridge devi model_devi.out --eps 0.15",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := summarizeDeviLog(args[0], eps)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), sum.String())
			return nil
		},
	}
	cmd.Flags().Float64Var(&eps, "eps", 0, "Count steps whose max force deviation is at or above this threshold")
	return cmd
}

type deviSummary struct {
	Steps     int
	MaxF      float64
	MeanRMSF  float64
	MaxDeviV  float64
	AboveEps  int
	Eps       float64
	FirstStep int64
	LastStep  int64
}

func (s deviSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "steps logged:   %d (step %d .. %d)\n", s.Steps, s.FirstStep, s.LastStep)
	fmt.Fprintf(&b, "max devi_f:     %.6e\n", s.MaxF)
	fmt.Fprintf(&b, "mean rms devi_f: %.6e\n", s.MeanRMSF)
	fmt.Fprintf(&b, "max devi_v:     %.6e\n", s.MaxDeviV)
	if s.Eps > 0 {
		fmt.Fprintf(&b, "steps >= eps %.3g: %d\n", s.Eps, s.AboveEps)
	}
	return b.String()
}

// summarizeDeviLog parses the four leading columns of each non-comment line:
// step, max_devi_f, rms_devi_f, devi_v.
func summarizeDeviLog(path string, eps float64) (deviSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return deviSummary{}, err
	}
	defer f.Close()

	sum := deviSummary{Eps: eps, FirstStep: math.MaxInt64}
	var rmsTotal float64
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 4 {
			return deviSummary{}, fmt.Errorf("%s:%d: expected at least 4 columns, got %d", path, line, len(fields))
		}
		step, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return deviSummary{}, fmt.Errorf("%s:%d: bad step %q", path, line, fields[0])
		}
		vals := make([]float64, 3)
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				return deviSummary{}, fmt.Errorf("%s:%d: bad value %q", path, line, fields[i+1])
			}
			vals[i] = v
		}
		sum.Steps++
		if step < sum.FirstStep {
			sum.FirstStep = step
		}
		if step > sum.LastStep {
			sum.LastStep = step
		}
		if vals[0] > sum.MaxF {
			sum.MaxF = vals[0]
		}
		rmsTotal += vals[1]
		if vals[2] > sum.MaxDeviV {
			sum.MaxDeviV = vals[2]
		}
		if eps > 0 && vals[0] >= eps {
			sum.AboveEps++
		}
	}
	if err := sc.Err(); err != nil {
		return deviSummary{}, err
	}
	if sum.Steps == 0 {
		return deviSummary{}, fmt.Errorf("%s: no deviation lines found", path)
	}
	sum.MeanRMSF = rmsTotal / float64(sum.Steps)
	return sum, nil
}
