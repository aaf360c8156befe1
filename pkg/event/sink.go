// Package event carries best-effort notifications out of the collection
// pipeline. Publishing never blocks and never fails; slow or absent
// consumers cost dropped events, not stalled crawls.
package event

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Type identifies what happened
type Type string

const (
	TypeTaskCompleted  Type = "task_completed"
	TypeTaskFailed     Type = "task_failed"
	TypeAlertTriggered Type = "alert_triggered"
)

// Event is a single notification. Fields holds type-specific details such as
// the task id, disposition, or alert kind.
type Event struct {
	Type      Type
	Timestamp time.Time
	Fields    map[string]any
}

// Sink consumes events. Implementations must not block in Publish.
type Sink interface {
	Publish(ev Event)
}

// NopSink discards everything
type NopSink struct{}

func (NopSink) Publish(Event) {}

// ChannelSink forwards events to a buffered channel, dropping when the
// consumer falls behind.
type ChannelSink struct {
	ch      chan Event
	dropped *uint64
	log     *logrus.Entry
}

// NewChannelSink creates a sink with the given buffer size
func NewChannelSink(buffer int, log *logrus.Entry) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	var dropped uint64
	return &ChannelSink{
		ch:      make(chan Event, buffer),
		dropped: &dropped,
		log:     log,
	}
}

// Events returns the receive side of the sink
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Publish enqueues ev, dropping it when the buffer is full
func (s *ChannelSink) Publish(ev Event) {
	select {
	case s.ch <- ev:
	default:
		atomic.AddUint64(s.dropped, 1)
		s.log.WithField("type", ev.Type).Warn("Event buffer full, dropping event")
	}
}

// Dropped reports how many events were discarded due to a full buffer
func (s *ChannelSink) Dropped() uint64 {
	return atomic.LoadUint64(s.dropped)
}

// LogSink writes every event as a structured log line
type LogSink struct {
	log *logrus.Entry
}

func NewLogSink(log *logrus.Entry) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Publish(ev Event) {
	fields := logrus.Fields{"event_type": ev.Type}
	for k, v := range ev.Fields {
		fields[k] = v
	}
	s.log.WithFields(fields).Info("Collection event")
}

// MultiSink fans one event out to several sinks
type MultiSink []Sink

func (m MultiSink) Publish(ev Event) {
	for _, s := range m {
		s.Publish(ev)
	}
}
