package system

import (
	"context"
	"errors"
	"testing"
)

type fakeService struct {
	name     string
	startErr error
	stopErr  error
	events   *[]string
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start(context.Context) error {
	*f.events = append(*f.events, "start:"+f.name)
	return f.startErr
}

func (f *fakeService) Stop(context.Context) error {
	*f.events = append(*f.events, "stop:"+f.name)
	return f.stopErr
}

func TestManagerStartStopOrder(t *testing.T) {
	var events []string
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(&fakeService{name: name, events: &events}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("events: %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d = %s, want %s (all: %v)", i, events[i], want[i], events)
		}
	}
}

func TestManagerStartFailureRollsBack(t *testing.T) {
	var events []string
	m := NewManager()
	m.Register(&fakeService{name: "ok", events: &events})
	m.Register(&fakeService{name: "boom", startErr: errors.New("bad wiring"), events: &events})
	m.Register(&fakeService{name: "never", events: &events})

	err := m.Start(context.Background())
	if err == nil || err.Error() != "start boom: bad wiring" {
		t.Fatalf("unexpected start error: %v", err)
	}

	want := []string{"start:ok", "start:boom", "stop:ok"}
	if len(events) != len(want) {
		t.Fatalf("events: %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("rollback order wrong: %v", events)
		}
	}
}

func TestManagerRejectsDuplicatesAndLateRegistration(t *testing.T) {
	var events []string
	m := NewManager()

	if err := m.Register(NoopService{ServiceName: "images"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(NoopService{ServiceName: "images"}); err == nil {
		t.Fatal("expected duplicate name to be rejected")
	}
	if err := m.Register(nil); err == nil {
		t.Fatal("expected nil service to be rejected")
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Register(&fakeService{name: "late", events: &events}); err == nil {
		t.Fatal("expected registration after start to be rejected")
	}

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestManagerStopJoinsErrors(t *testing.T) {
	var events []string
	m := NewManager()
	m.Register(&fakeService{name: "a", stopErr: errors.New("a failed"), events: &events})
	m.Register(&fakeService{name: "b", events: &events})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	err := m.Stop(context.Background())
	if err == nil {
		t.Fatal("expected stop error")
	}
	// Both services must still have been stopped.
	stops := 0
	for _, e := range events {
		if e == "stop:a" || e == "stop:b" {
			stops++
		}
	}
	if stops != 2 {
		t.Fatalf("expected both stops to run, events: %v", events)
	}
}
