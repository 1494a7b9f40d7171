// Package profiling is a lightweight per-tick CPU profiler.
package profiling

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Profiler accumulates wall time per named section until the next ResetFrame.
type Profiler struct {
	mu     sync.Mutex
	totals map[string]time.Duration
	counts map[string]int
	now    func() time.Time
}

func New() *Profiler {
	return &Profiler{
		totals: make(map[string]time.Duration),
		counts: make(map[string]int),
		now:    time.Now,
	}
}

// Track returns a stop function that records the elapsed time under name.
// Usage: defer p.Track("streaming.Update")()
func (p *Profiler) Track(name string) func() {
	start := p.now()
	return func() {
		p.Add(name, p.now().Sub(start))
	}
}

// Add records d under name directly.
func (p *Profiler) Add(name string, d time.Duration) {
	p.mu.Lock()
	p.totals[name] += d
	p.counts[name]++
	p.mu.Unlock()
}

// ResetFrame clears the current totals. Call at the start of each tick.
func (p *Profiler) ResetFrame() {
	p.mu.Lock()
	clear(p.totals)
	clear(p.counts)
	p.mu.Unlock()
}

// Snapshot returns a copy of the current totals.
func (p *Profiler) Snapshot() map[string]time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]time.Duration, len(p.totals))
	for k, v := range p.totals {
		out[k] = v
	}
	return out
}

// Count returns how many times name was recorded this tick.
func (p *Profiler) Count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[name]
}

// SumWithPrefix totals every section whose name starts with prefix.
func (p *Profiler) SumWithPrefix(prefix string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	var sum time.Duration
	for k, v := range p.totals {
		if strings.HasPrefix(k, prefix) {
			sum += v
		}
	}
	return sum
}

// TopN formats the n largest totals, e.g. "streaming.Update:4.2ms, streaming.evict:0.3ms".
func (p *Profiler) TopN(n int) string {
	ss := p.Snapshot()
	type pair struct {
		name string
		dur  time.Duration
	}
	list := make([]pair, 0, len(ss))
	for k, v := range ss {
		list = append(list, pair{name: k, dur: v})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].dur != list[j].dur {
			return list[i].dur > list[j].dur
		}
		return list[i].name < list[j].name
	})
	n = min(n, len(list))
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ms := float64(list[i].dur.Microseconds()) / 1000.0
		parts = append(parts, list[i].name+":"+formatMs(ms))
	}
	return strings.Join(parts, ", ")
}

// formatMs keeps one decimal and drops ".0".
func formatMs(ms float64) string {
	return strings.TrimSuffix(strconv.FormatFloat(ms, 'f', 1, 64), ".0") + "ms"
}
