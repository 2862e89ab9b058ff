package audit

import (
	"context"
	"sync"
	"time"

	"cyberguard-progress-service/internal/logger"
	"github.com/google/uuid"
)

const (
	ActionModuleStarted    = "module.started"
	ActionModuleCompleted  = "module.completed"
	ActionAttemptSubmitted = "module.attempt-submitted"
	ActionModuleExited     = "module.exited"
	ActionBadgeEarned      = "badge.earned"
)

const SeverityInfo = "info"

// Event is one audit record. Details is free-form.
type Event struct {
	ID        string         `json:"id" bson:"eventId"`
	UserID    string         `json:"userId" bson:"userId"`
	Action    string         `json:"action" bson:"action"`
	Category  string         `json:"category" bson:"category"`
	Severity  string         `json:"severity" bson:"severity"`
	Details   map[string]any `json:"details,omitempty" bson:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp" bson:"timestamp"`
}

// NewEvent stamps an ID and time. Category is derived from the action prefix.
func NewEvent(userID, action string, details map[string]any) Event {
	category := "progress"
	if action == ActionBadgeEarned {
		category = "gamification"
	}
	return Event{
		ID:        uuid.NewString(),
		UserID:    userID,
		Action:    action,
		Category:  category,
		Severity:  SeverityInfo,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// Sink persists or forwards events.
type Sink interface {
	Name() string
	Emit(ctx context.Context, event Event) error
}

// FailureRecorder is notified when a sink rejects an event.
type FailureRecorder interface {
	AuditEmitFailed(sink string)
}

// Dispatcher fans events out to sinks. Sink errors are logged and swallowed.
type Dispatcher struct {
	sinks    []Sink
	log      *logger.Logger
	failures FailureRecorder
	timeout  time.Duration
}

func NewDispatcher(log *logger.Logger, failures FailureRecorder, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, log: log, failures: failures, timeout: 3 * time.Second}
}

func (d *Dispatcher) Emit(ctx context.Context, events ...Event) {
	if d == nil || len(events) == 0 {
		return
	}
	// Detach from request cancellation so a finished request still records its events.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	for _, ev := range events {
		for _, sink := range d.sinks {
			if err := sink.Emit(ctx, ev); err != nil {
				d.log.Warn("audit emit failed", "sink", sink.Name(), "action", ev.Action, "user", ev.UserID, "error", err)
				if d.failures != nil {
					d.failures.AuditEmitFailed(sink.Name())
				}
			}
		}
	}
}

// LogSink writes events to the structured log.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink { return &LogSink{log: log} }

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Emit(_ context.Context, ev Event) error {
	s.log.Info("audit", "action", ev.Action, "user", ev.UserID, "category", ev.Category, "details", ev.Details)
	return nil
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Emit(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Actions returns how many events of each action were recorded.
func (r *Recorder) Actions() map[string]int {
	out := make(map[string]int)
	for _, ev := range r.Events() {
		out[ev.Action]++
	}
	return out
}
