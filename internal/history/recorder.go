package history

import (
	"context"
	"log/slog"
)

// Recorder drains events published by the supervisor to the configured
// sinks. Publish never blocks: when the buffer is full the event is dropped,
// because the supervisor must not stall on sink latency.
type Recorder struct {
	ch    chan Event
	sinks []Sink
	done  chan struct{}
}

const recorderBuffer = 256

func NewRecorder(sinks ...Sink) *Recorder {
	return &Recorder{
		ch:    make(chan Event, recorderBuffer),
		sinks: sinks,
		done:  make(chan struct{}),
	}
}

// Publish enqueues an event, dropping it when the recorder is saturated.
func (r *Recorder) Publish(e Event) {
	select {
	case r.ch <- e:
	default:
		slog.Warn("history buffer full, dropping event", "instance", e.Name, "state", e.State)
	}
}

// Run delivers events until ctx is canceled, then drains what is buffered.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case e := <-r.ch:
			r.deliver(ctx, e)
		case <-ctx.Done():
			for {
				select {
				case e := <-r.ch:
					r.deliver(context.Background(), e)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until Run has returned.
func (r *Recorder) Wait() { <-r.done }

func (r *Recorder) deliver(ctx context.Context, e Event) {
	for _, s := range r.sinks {
		if err := s.Send(ctx, e); err != nil {
			slog.Warn("history sink send failed", "instance", e.Name, "error", err)
		}
	}
}
