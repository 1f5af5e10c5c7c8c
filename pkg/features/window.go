package features

import "gonum.org/v1/gonum/stat"

// Window is a trailing window over the most recent size values. Its mean
// covers however many values have been pushed, up to size.
type Window struct {
	size int
	vals []float64
}

// NewWindow creates a trailing window of the given size.
func NewWindow(size int) *Window {
	return &Window{size: size, vals: make([]float64, 0, size)}
}

// Push appends v, evicting the oldest value once the window is full.
func (w *Window) Push(v float64) {
	if len(w.vals) == w.size {
		copy(w.vals, w.vals[1:])
		w.vals = w.vals[:w.size-1]
	}
	w.vals = append(w.vals, v)
}

// Mean returns the arithmetic mean, or 0 for an empty window.
func (w *Window) Mean() float64 {
	if len(w.vals) == 0 {
		return 0
	}
	return stat.Mean(w.vals, nil)
}

// Tail summarizes the end of an observed series: lag values counted back from
// the last observation and trailing means.
type Tail struct {
	Lag1      float64
	Lag7      float64
	Rolling7  float64
	Rolling28 float64
}

// TailOf computes inference-time lag and rolling values from a chronologically
// ordered quantity series. Lags resolve to 0 when the series is too short.
func (b *Builder) TailOf(q []float64) Tail {
	var t Tail
	n := len(q)
	if n == 0 {
		return t
	}
	if n >= b.cfg.ShortLag {
		t.Lag1 = q[n-b.cfg.ShortLag]
	}
	if n >= b.cfg.LongLag {
		t.Lag7 = q[n-b.cfg.LongLag]
	}
	t.Rolling7 = stat.Mean(q[max(0, n-b.cfg.ShortWindow):], nil)
	t.Rolling28 = stat.Mean(q[max(0, n-b.cfg.LongWindow):], nil)
	return t
}
