package service

import (
	"sync"
	"time"

	"github.com/kasper/vidmeta/internal/logger"
)

// ErrorEvent describes a terminal failure inside an asynchronous import run.
// Runs never return errors to the submitter; they publish events here.
type ErrorEvent struct {
	SubmissionID string
	Requester    string
	Stage        string
	Err          error
	OccurredAt   time.Time
}

// ErrorSink collects error events on a buffered channel and hands them to a
// logging subscriber. Publishing never blocks the pipeline: when the buffer
// is full the event is counted as dropped instead.
type ErrorSink struct {
	events  chan ErrorEvent
	log     *logger.Logger
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	dropped int64
}

// NewErrorSink creates a sink with the given buffer and starts its subscriber.
func NewErrorSink(buffer int, log *logger.Logger) *ErrorSink {
	if buffer < 1 {
		buffer = 16
	}
	s := &ErrorSink{
		events: make(chan ErrorEvent, buffer),
		log:    log,
		done:   make(chan struct{}),
	}
	go s.consume()
	return s
}

func (s *ErrorSink) consume() {
	defer close(s.done)
	for ev := range s.events {
		s.log.WithFields(logger.Fields{
			logger.FieldSubmissionID: ev.SubmissionID,
			logger.FieldRequester:    ev.Requester,
			"stage":                  ev.Stage,
		}).WithError(ev.Err).Error("Import run failed")
	}
}

// Publish submits an event without blocking.
func (s *ErrorSink) Publish(ev ErrorEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	select {
	case s.events <- ev:
	default:
		s.dropped++
	}
}

// Close stops the subscriber after draining buffered events.
func (s *ErrorSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.events)
	dropped := s.dropped
	s.mu.Unlock()

	<-s.done
	if dropped > 0 {
		s.log.WithField(logger.FieldCount, dropped).Warn("Error events dropped due to full sink buffer")
	}
}
