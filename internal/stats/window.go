// Package stats keeps a rolling window of accepted samples and summarises it.
package stats

import (
	"sync"

	"example.com/heartstream/internal/domain"
)

// DefaultSize is the number of samples retained when no size is configured.
const DefaultSize = 200

// Window is a fixed-count ring of recent samples. It is safe for concurrent use.
type Window struct {
	mu    sync.Mutex
	buf   []domain.Sample
	next  int
	count int
}

// NewWindow returns a window retaining the last size samples.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultSize
	}
	return &Window{buf: make([]domain.Sample, size)}
}

// Add appends an accepted sample, evicting the oldest when full.
// Samples without a positive heart rate are ignored.
func (w *Window) Add(sample domain.Sample) {
	if !sample.Accepted() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.addLocked(sample)
}

func (w *Window) addLocked(sample domain.Sample) {
	w.buf[w.next] = sample
	w.next = (w.next + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
}

// Seed loads samples ordered oldest-first, typically from a store at startup.
func (w *Window) Seed(samples []domain.Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sample := range samples {
		if sample.Accepted() {
			w.addLocked(sample)
		}
	}
}

// Stats summarises the heart rates currently in the window.
func (w *Window) Stats() domain.Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count == 0 {
		return domain.Stats{}
	}

	out := domain.Stats{Count: w.count}
	sum := 0
	for i := 0; i < w.count; i++ {
		hr := w.at(i).HeartRate
		sum += hr
		if i == 0 || hr < out.Min {
			out.Min = hr
		}
		if hr > out.Max {
			out.Max = hr
		}
	}
	out.Avg = float64(sum) / float64(w.count)
	return out
}

// Recent returns up to limit of the newest samples, oldest first.
// A non-positive limit returns the whole window.
func (w *Window) Recent(limit int) []domain.Sample {
	w.mu.Lock()
	defer w.mu.Unlock()

	if limit <= 0 || limit > w.count {
		limit = w.count
	}
	out := make([]domain.Sample, 0, limit)
	for i := w.count - limit; i < w.count; i++ {
		out = append(out, w.at(i))
	}
	return out
}

// Len reports how many samples the window holds.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// at returns the i-th oldest sample. Callers hold mu.
func (w *Window) at(i int) domain.Sample {
	start := w.next - w.count
	if start < 0 {
		start += len(w.buf)
	}
	return w.buf[(start+i)%len(w.buf)]
}
