package bridge

import (
	"strconv"

	"mdbridge/pkg/types"
)

// Settings is the parsed pair-style argument stream: one or more model paths
// followed by keyword groups.
type Settings struct {
	ModelPaths []string

	OutFreq int64
	OutFile string
	OutEach bool

	Eps  types.Real
	EpsV types.Real

	RelLevel  types.Real
	RelLevelV types.Real

	Fparam []types.Real
	Aparam []types.Real

	ComputeID string
	TTMFixID  string
}

const defaultOutFile = "model_devi.out"

var keywords = map[string]bool{
	"out_freq":            true,
	"out_file":            true,
	"out_each":            true,
	"eps":                 true,
	"eps_v":               true,
	"relative":            true,
	"relative_v":          true,
	"fparam":              true,
	"aparam":              true,
	"fparam_from_compute": true,
	"ttm_fix":             true,
}

// ParseSettings tokenizes the host's settings line. Leading tokens are model
// file paths until the first recognized keyword. Numeric keywords consume the
// tokens that follow; fparam/aparam consume every numeric token up to the
// next keyword.
func ParseSettings(args []string) (Settings, error) {
	set := Settings{OutFreq: 100, OutFile: defaultOutFile}
	i := 0
	for i < len(args) && !keywords[args[i]] {
		set.ModelPaths = append(set.ModelPaths, args[i])
		i++
	}
	if len(set.ModelPaths) == 0 {
		return Settings{}, types.NewLibError("settings: no model file given")
	}
	for i < len(args) {
		kw := args[i]
		i++
		switch kw {
		case "out_freq":
			v, err := intArg(args, &i, kw)
			if err != nil {
				return Settings{}, err
			}
			if v < 0 {
				return Settings{}, types.Errorf("settings: out_freq must be non-negative, got %d", v)
			}
			set.OutFreq = v
		case "out_file":
			s, err := strArg(args, &i, kw)
			if err != nil {
				return Settings{}, err
			}
			set.OutFile = s
		case "out_each":
			v, err := intArg(args, &i, kw)
			if err != nil {
				return Settings{}, err
			}
			if v != 0 && v != 1 {
				return Settings{}, types.Errorf("settings: out_each takes 0 or 1, got %d", v)
			}
			set.OutEach = v == 1
		case "eps":
			v, err := realArg(args, &i, kw)
			if err != nil {
				return Settings{}, err
			}
			set.Eps = v
		case "eps_v":
			v, err := realArg(args, &i, kw)
			if err != nil {
				return Settings{}, err
			}
			set.EpsV = v
		case "relative":
			v, err := realArg(args, &i, kw)
			if err != nil {
				return Settings{}, err
			}
			set.RelLevel = v
		case "relative_v":
			v, err := realArg(args, &i, kw)
			if err != nil {
				return Settings{}, err
			}
			set.RelLevelV = v
		case "fparam":
			vs, err := realList(args, &i, kw)
			if err != nil {
				return Settings{}, err
			}
			set.Fparam = vs
		case "aparam":
			vs, err := realList(args, &i, kw)
			if err != nil {
				return Settings{}, err
			}
			set.Aparam = vs
		case "fparam_from_compute":
			s, err := strArg(args, &i, kw)
			if err != nil {
				return Settings{}, err
			}
			set.ComputeID = s
		case "ttm_fix":
			s, err := strArg(args, &i, kw)
			if err != nil {
				return Settings{}, err
			}
			set.TTMFixID = s
		default:
			return Settings{}, types.Errorf("settings: unknown keyword %q", kw)
		}
	}
	return set, nil
}

func strArg(args []string, i *int, kw string) (string, error) {
	if *i >= len(args) {
		return "", types.Errorf("settings: %s expects an argument", kw)
	}
	s := args[*i]
	*i++
	return s, nil
}

func intArg(args []string, i *int, kw string) (int64, error) {
	s, err := strArg(args, i, kw)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, types.Errorf("settings: %s expects an integer, got %q", kw, s)
	}
	return v, nil
}

func realArg(args []string, i *int, kw string) (types.Real, error) {
	s, err := strArg(args, i, kw)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, types.Errorf("settings: %s expects a number, got %q", kw, s)
	}
	return types.Real(v), nil
}

// realList consumes numeric tokens until the next keyword or end of line.
func realList(args []string, i *int, kw string) ([]types.Real, error) {
	var out []types.Real
	for *i < len(args) && !keywords[args[*i]] {
		v, err := strconv.ParseFloat(args[*i], 64)
		if err != nil {
			return nil, types.Errorf("settings: %s expects numbers, got %q", kw, args[*i])
		}
		out = append(out, types.Real(v))
		*i++
	}
	if len(out) == 0 {
		return nil, types.Errorf("settings: %s expects at least one value", kw)
	}
	return out, nil
}
