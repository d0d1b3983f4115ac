// Package restart serializes the bridge's own persistent state into the
// host's opaque restart stream: the per-type-pair scale table plus the model
// identity metadata needed to refuse an incompatible restore.
package restart

import (
	"encoding/binary"
	"io"

	"mdbridge/pkg/types"
)

// stream layout, little endian, fixed order:
//   magic uint32, version uint16, realBits uint16,
//   numbTypes int32, numbModels int32, dimFparam int32, dimAparam int32,
//   scale[i][j] float64 for 1 <= i <= j <= numbTypes
const (
	magic   = uint32(0x4d444252) // "MDBR"
	version = uint16(1)
)

// State is the adapter-owned block written at a host checkpoint.
type State struct {
	NumbModels int
	DimFparam  int
	DimAparam  int
	Scale      types.ScaleTable
}

type header struct {
	Magic      uint32
	Version    uint16
	RealBits   uint16
	NumbTypes  int32
	NumbModels int32
	DimFparam  int32
	DimAparam  int32
}

// Write encodes the state. The byte count is fully determined by NumbTypes,
// so a matching Read consumes exactly what Write produced.
func Write(w io.Writer, st State) error {
	nt := st.Scale.NumTypes()
	h := header{
		Magic:      magic,
		Version:    version,
		RealBits:   types.RealBits,
		NumbTypes:  int32(nt),
		NumbModels: int32(st.NumbModels),
		DimFparam:  int32(st.DimFparam),
		DimAparam:  int32(st.DimAparam),
	}
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return types.Errorf("write restart header: %v", err)
	}
	for i := 1; i <= nt; i++ {
		for j := i; j <= nt; j++ {
			if err := binary.Write(w, binary.LittleEndian, float64(st.Scale[i][j])); err != nil {
				return types.Errorf("write restart scale[%d][%d]: %v", i, j, err)
			}
		}
	}
	return nil
}

// Read decodes a block written by Write. wantNumbTypes must match the
// writing configuration; a mismatch refuses the restore instead of reading a
// truncated or overlong table.
func Read(r io.Reader, wantNumbTypes int) (State, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return State{}, types.Errorf("read restart header: %v", err)
	}
	if h.Magic != magic {
		return State{}, types.Errorf("restart stream does not contain a bridge block (magic %#x)", h.Magic)
	}
	if h.Version != version {
		return State{}, types.Errorf("restart block version %d, this build reads %d", h.Version, version)
	}
	if h.RealBits != types.RealBits {
		return State{}, types.Errorf("restart written by a %d-bit precision build, this build uses %d-bit", h.RealBits, types.RealBits)
	}
	if int(h.NumbTypes) != wantNumbTypes {
		return State{}, types.Errorf("restart written with %d atom types, current configuration has %d", h.NumbTypes, wantNumbTypes)
	}
	st := State{
		NumbModels: int(h.NumbModels),
		DimFparam:  int(h.DimFparam),
		DimAparam:  int(h.DimAparam),
		Scale:      types.NewScaleTable(wantNumbTypes),
	}
	for i := 1; i <= wantNumbTypes; i++ {
		for j := i; j <= wantNumbTypes; j++ {
			var v float64
			if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
				return State{}, types.Errorf("read restart scale[%d][%d]: %v", i, j, err)
			}
			st.Scale[i][j] = types.Real(v)
			st.Scale[j][i] = types.Real(v)
		}
	}
	return st, nil
}
