package observ

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
	"go.uber.org/zap"
)

// Phase records the duration of one pipeline step (load, layout, render).
type Phase struct {
	Name  string
	Start time.Time
	Dur   time.Duration
	Note  string
}

// Timer tracks phases of a run. Phases of different files may be recorded
// from several goroutines.
type Timer struct {
	mu     sync.Mutex
	phases []Phase
}

// NewTimer creates a new empty Timer.
func NewTimer() *Timer { return &Timer{phases: make([]Phase, 0, 8)} }

// Begin starts a new phase and returns its index.
func (t *Timer) Begin(name string) int {
	if t == nil {
		return -1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phases = append(t.phases, Phase{Name: name, Start: time.Now()})
	return len(t.phases) - 1
}

// End finishes a phase by its index.
func (t *Timer) End(idx int, note string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.phases) {
		return
	}
	p := &t.phases[idx]
	p.Dur = time.Since(p.Start)
	p.Note = note
}

// Track begins a phase and returns the function that ends it.
func (t *Timer) Track(name string) func(note string) {
	idx := t.Begin(name)
	return func(note string) { t.End(idx, note) }
}

// Summary returns a human-readable table of all tracked phases. The name
// column is as wide as the longest name.
func (t *Timer) Summary() string {
	report := t.Report()
	width := runewidth.StringWidth("total")
	for _, p := range report.Phases {
		width = max(width, runewidth.StringWidth(p.Name))
	}
	var b strings.Builder
	b.WriteString("timings:\n")
	row := func(name string, ms float64, note string) {
		fmt.Fprintf(&b, "  %s %7.2f ms", runewidth.FillRight(name, width), ms)
		if note != "" {
			b.WriteString("  // ")
			b.WriteString(note)
		}
		b.WriteByte('\n')
	}
	for _, p := range report.Phases {
		row(p.Name, p.DurationMS, p.Note)
	}
	row("total", report.TotalMS, fmt.Sprintf("wall %.2f ms", report.WallMS))
	return b.String()
}

// PhaseReport is the serialisable form of a phase.
type PhaseReport struct {
	Name       string  `json:"name"`
	DurationMS float64 `json:"duration_ms"`
	Note       string  `json:"note,omitempty"`
}

// Report aggregates the timer.
type Report struct {
	// TotalMS sums phase durations; phases recorded concurrently overlap.
	TotalMS float64 `json:"total_ms"`
	// WallMS spans from the first start to the last finished phase.
	WallMS float64       `json:"wall_ms"`
	Phases []PhaseReport `json:"phases"`
}

// Report returns the phases in the order they began.
func (t *Timer) Report() Report {
	if t == nil {
		return Report{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.phases) == 0 {
		return Report{}
	}
	report := Report{
		Phases: make([]PhaseReport, len(t.phases)),
	}
	var total time.Duration
	first, last := t.phases[0].Start, t.phases[0].Start
	for i, phase := range t.phases {
		total += phase.Dur
		if phase.Start.Before(first) {
			first = phase.Start
		}
		if end := phase.Start.Add(phase.Dur); end.After(last) {
			last = end
		}
		report.Phases[i] = PhaseReport{
			Name:       phase.Name,
			DurationMS: durationToMillis(phase.Dur),
			Note:       phase.Note,
		}
	}
	report.TotalMS = durationToMillis(total)
	report.WallMS = durationToMillis(last.Sub(first))
	return report
}

// Log writes one debug record per phase.
func (t *Timer) Log(log *zap.Logger) {
	if log == nil {
		return
	}
	for _, p := range t.Report().Phases {
		log.Debug("phase",
			zap.String("name", p.Name),
			zap.Float64("ms", p.DurationMS),
			zap.String("note", p.Note),
		)
	}
}

func durationToMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
