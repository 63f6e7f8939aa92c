package driver

import (
	"context"
	"time"
)

// Stage names a step a unit goes through.
type Stage string

const (
	// StageLoad reads and resolves the declaration file.
	StageLoad Stage = "load"
	// StageLayout computes and renders layouts.
	StageLayout Stage = "layout"
	// StageCheck compares layouts against expectations.
	StageCheck Stage = "check"
)

// Status is the state of a unit within a stage.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusWorking Status = "working"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Event reports progress of one file.
type Event struct {
	File    string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events. It may be called from several
// goroutines.
type ProgressSink interface {
	OnEvent(Event)
}

// ChannelSink forwards events into a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	s.Ch <- evt
}

func (s *Session) emit(evt Event) {
	if s.opts.Progress != nil {
		s.opts.Progress.OnEvent(evt)
	}
}

// Run is Each with progress reporting: every unit is marked working in
// stage before fn and done or error after it. A unit whose bag holds
// errors ends in error.
func (s *Session) Run(ctx context.Context, units []*Unit, stage Stage, fn func(context.Context, *Unit) error) error {
	return s.Each(ctx, units, func(ctx context.Context, u *Unit) error {
		start := time.Now()
		s.emit(Event{File: u.Path, Stage: stage, Status: StatusWorking})
		err := fn(ctx, u)
		evt := Event{File: u.Path, Stage: stage, Status: StatusDone, Err: err, Elapsed: time.Since(start)}
		if err != nil || u.Err != nil || u.Bag.HasErrors() {
			evt.Status = StatusError
		}
		s.emit(evt)
		return err
	})
}
