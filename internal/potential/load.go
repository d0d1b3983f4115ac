package potential

import (
	"os"

	"mdbridge/pkg/types"
)

// Load builds a Potential from a model descriptor. Content is preferred when
// populated (the designated reader rank loads the bytes once and broadcasts
// them); otherwise the path is read directly.
func Load(m types.Model) (Potential, error) {
	data := m.Content
	if len(data) == 0 {
		var err error
		data, err = FileContent(m.Path)
		if err != nil {
			return nil, err
		}
	}
	p, err := parseHarmonic(data)
	if err != nil {
		return nil, types.Errorf("load model %q: %v", m.ID, err)
	}
	return p, nil
}

// LoadAll loads every model in order. Any failure aborts the whole load.
func LoadAll(models []types.Model) ([]Potential, error) {
	out := make([]Potential, 0, len(models))
	for _, m := range models {
		p, err := Load(m)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// FileContent reads one model file's raw bytes.
func FileContent(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, types.Errorf("read model file %q: %v", path, err)
	}
	return b, nil
}

// FileContents reads several model files, preserving order.
func FileContents(paths []string) ([][]byte, error) {
	out := make([][]byte, 0, len(paths))
	for _, p := range paths {
		b, err := FileContent(p)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
