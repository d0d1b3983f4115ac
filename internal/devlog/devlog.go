// Package devlog owns the deviation log file: opened at setup by the single
// designated rank, appended on the configured cadence, flushed per logged
// step, and closed at teardown. Every other rank holds a no-op writer.
package devlog

import (
	"bufio"
	"fmt"
	"os"

	"mdbridge/pkg/types"
)

// Writer appends one line per logged step. A nil or disabled Writer is safe
// to call; only the designated rank ever holds an open handle.
type Writer struct {
	f  *os.File
	bw *bufio.Writer

	freq    int64
	perAtom bool
}

// Open creates the deviation log. freq <= 0 disables logging entirely (no
// file is created). designated is false on every rank but the one elected to
// write; those ranks get a disabled Writer back.
func Open(path string, freq int64, perAtom bool, designated bool) (*Writer, error) {
	w := &Writer{freq: freq, perAtom: perAtom}
	if freq <= 0 || !designated {
		return w, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, types.Errorf("open deviation log %q: %v", path, err)
	}
	w.f = f
	w.bw = bufio.NewWriter(f)
	if _, err := fmt.Fprintf(w.bw, "#%11s %14s %14s %14s\n", "step", "max_devi_f", "rms_devi_f", "devi_v"); err != nil {
		f.Close()
		return nil, types.Errorf("write deviation log header: %v", err)
	}
	return w, nil
}

// ShouldLog reports whether this step falls on the output cadence. It is the
// same answer on every rank, so all ranks can agree on collective calls.
func (w *Writer) ShouldLog(step int64) bool {
	return w != nil && w.freq > 0 && step%w.freq == 0
}

// Append writes one log line and flushes. Non-designated ranks no-op.
func (w *Writer) Append(step int64, stats types.DeviationStats) error {
	if w == nil || w.bw == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w.bw, "%12d %14.6e %14.6e %14.6e", step, float64(stats.MaxF), float64(stats.RMSF), float64(stats.DeviV)); err != nil {
		return types.Errorf("append deviation log: %v", err)
	}
	if w.perAtom {
		for _, d := range stats.PerAtom {
			if _, err := fmt.Fprintf(w.bw, " %12.4e", float64(d)); err != nil {
				return types.Errorf("append deviation log: %v", err)
			}
		}
	}
	if err := w.bw.WriteByte('\n'); err != nil {
		return types.Errorf("append deviation log: %v", err)
	}
	if err := w.bw.Flush(); err != nil {
		return types.Errorf("flush deviation log: %v", err)
	}
	return nil
}

// Close flushes and releases the handle at teardown.
func (w *Writer) Close() error {
	if w == nil || w.f == nil {
		return nil
	}
	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		return types.Errorf("flush deviation log: %v", err)
	}
	if err := w.f.Close(); err != nil {
		return types.Errorf("close deviation log: %v", err)
	}
	w.f, w.bw = nil, nil
	return nil
}
