package session

import (
	"honeyguard/internal/types"
	"sync"
	"time"
)

// Timeline is the ordered list of events seen for one session since it was
// last drained.
type Timeline struct {
	SessionID string
	Events    []types.NormalizedEvent
	FirstSeen time.Time // wall clock of the first append
	LastSeen  time.Time // wall clock of the latest append
}

// Len returns the number of buffered events
func (t *Timeline) Len() int {
	return len(t.Events)
}

// AppendResult tells the caller whether it should trigger classification
type AppendResult struct {
	Len  int  // timeline length after the append
	Full bool // timeline reached MaxEvents

	// Evicted is set when another session's timeline (or this session's
	// overfull one) was detached to stay within limits. It must be handed
	// to classification, it is no longer buffered.
	Evicted *Timeline
}

// Options bounds the buffer. Zero values mean unbounded.
type Options struct {
	MaxEvents   int
	MaxSessions int
	Now         func() time.Time
}

// Buffer accumulates events per session. It is a passive store: it has no
// timers, callers decide when to drain.
type Buffer struct {
	mu        sync.Mutex
	timelines map[string]*Timeline
	opts      Options
}

// NewBuffer creates a new session buffer
func NewBuffer(opts Options) *Buffer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Buffer{
		timelines: make(map[string]*Timeline),
		opts:      opts,
	}
}

// Append records evt at the end of its session's timeline
func (b *Buffer) Append(evt types.NormalizedEvent) AppendResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.opts.Now()
	var res AppendResult

	tl, exists := b.timelines[evt.SessionID]
	if exists && b.opts.MaxEvents > 0 && len(tl.Events) >= b.opts.MaxEvents {
		// Caller ignored Full; detach rather than grow without bound
		res.Evicted = tl
		delete(b.timelines, evt.SessionID)
		exists = false
	}

	if !exists {
		if res.Evicted == nil && b.opts.MaxSessions > 0 && len(b.timelines) >= b.opts.MaxSessions {
			res.Evicted = b.evictStalest()
		}
		tl = &Timeline{
			SessionID: evt.SessionID,
			FirstSeen: now,
		}
		b.timelines[evt.SessionID] = tl
	}

	tl.Events = append(tl.Events, evt)
	tl.LastSeen = now

	res.Len = len(tl.Events)
	res.Full = b.opts.MaxEvents > 0 && res.Len >= b.opts.MaxEvents
	return res
}

// Drain removes and returns the session's whole timeline. It reports false
// when nothing is buffered for the session.
func (b *Buffer) Drain(sessionID string) (Timeline, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tl, ok := b.timelines[sessionID]
	if !ok || len(tl.Events) == 0 {
		return Timeline{}, false
	}
	delete(b.timelines, sessionID)
	return *tl, true
}

// DrainAll empties the buffer, returning every non-empty timeline
func (b *Buffer) DrainAll() []Timeline {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Timeline, 0, len(b.timelines))
	for id, tl := range b.timelines {
		if len(tl.Events) > 0 {
			out = append(out, *tl)
		}
		delete(b.timelines, id)
	}
	return out
}

// Due lists sessions idle for at least idle, or open for at least maxAge.
// A zero duration disables that criterion.
func (b *Buffer) Due(idle, maxAge time.Duration) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.opts.Now()
	var due []string
	for id, tl := range b.timelines {
		if idle > 0 && now.Sub(tl.LastSeen) >= idle {
			due = append(due, id)
			continue
		}
		if maxAge > 0 && now.Sub(tl.FirstSeen) >= maxAge {
			due = append(due, id)
		}
	}
	return due
}

// Len returns the number of sessions currently buffered
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.timelines)
}

// evictStalest detaches the least recently active timeline.
// Caller must hold lock.
func (b *Buffer) evictStalest() *Timeline {
	var (
		stalestID string
		stalest   *Timeline
	)
	for id, tl := range b.timelines {
		if stalest == nil || tl.LastSeen.Before(stalest.LastSeen) {
			stalestID, stalest = id, tl
		}
	}
	if stalest != nil {
		delete(b.timelines, stalestID)
	}
	return stalest
}
