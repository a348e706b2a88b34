package events

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/ruteri/certificate-registry/interfaces"
)

// MultiSink publishes every event to all of its sinks concurrently. A failing
// sink does not stop or cancel the others; Publish returns the failures of
// all sinks joined.
type MultiSink struct {
	sinks []interfaces.EventSink
}

func NewMultiSink(sinks ...interfaces.EventSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Publish(ctx context.Context, event interfaces.Event) error {
	errs := make([]error, len(m.sinks))

	var g errgroup.Group
	for i, sink := range m.sinks {
		g.Go(func() error {
			errs[i] = sink.Publish(ctx, event)
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
