package services

import (
	"context"
	"time"
)

const (
	EventRFMBuilt         = "rfm_built"
	EventPipelineFinished = "pipeline_finished"
	EventPipelineFailed   = "pipeline_failed"
)

// Event is a pipeline lifecycle notification pushed to live subscribers.
type Event struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func newEvent(typ, runID string, data any) Event {
	return Event{Type: typ, RunID: runID, Data: data, Timestamp: time.Now().Unix()}
}

// EventSink receives pipeline events.
type EventSink interface {
	Publish(Event)
}

// Invalidator drops cached reads after the underlying tables change.
type Invalidator interface {
	Invalidate(ctx context.Context, action, runID string)
}

// notifier fans one event out to the cache and the live feed. Either may be nil.
type notifier struct {
	cache  Invalidator
	events EventSink
}

func (n notifier) notify(ctx context.Context, e Event) {
	if n.cache != nil {
		n.cache.Invalidate(ctx, e.Type, e.RunID)
	}
	if n.events != nil {
		n.events.Publish(e)
	}
}
