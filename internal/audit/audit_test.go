package audit

import (
	"context"
	"errors"
	"testing"

	"cyberguard-progress-service/internal/logger"
)

type failingSink struct{}

func (failingSink) Name() string { return "broken" }
func (failingSink) Emit(context.Context, Event) error {
	return errors.New("down")
}

type countingFailures struct{ bySink map[string]int }

func (c *countingFailures) AuditEmitFailed(sink string) { c.bySink[sink]++ }

func TestDispatcherSwallowsSinkErrors(t *testing.T) {
	rec := &Recorder{}
	failures := &countingFailures{bySink: map[string]int{}}
	d := NewDispatcher(logger.Nop(), failures, failingSink{}, rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Emit(ctx,
		NewEvent("u1", ActionModuleStarted, map[string]any{"moduleId": "m1"}),
		NewEvent("u1", ActionBadgeEarned, map[string]any{"badgeId": "b1"}),
	)

	if got := len(rec.Events()); got != 2 {
		t.Fatalf("expected healthy sink to receive 2 events, got %d", got)
	}
	if failures.bySink["broken"] != 2 {
		t.Fatalf("expected 2 failures recorded, got %d", failures.bySink["broken"])
	}
	if rec.Events()[1].Category != "gamification" {
		t.Fatalf("expected badge events in gamification category, got %s", rec.Events()[1].Category)
	}
}

func TestNilDispatcherIsNoop(t *testing.T) {
	var d *Dispatcher
	d.Emit(context.Background(), NewEvent("u1", ActionModuleExited, nil))
}
