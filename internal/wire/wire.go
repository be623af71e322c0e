// Package wire implements the event/request bus that every component of
// the agent core communicates through instead of calling each other
// directly. Publishers never block on slow subscribers: each subscription
// has a bounded buffer and drops its oldest pending event rather than
// stall the bus.
package wire

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Kind discriminates the payload carried by an Event.
type Kind string

const (
	KindTurnStarted      Kind = "turn_started"
	KindTurnFinished     Kind = "turn_finished"
	KindStepStarted      Kind = "step_started"
	KindStepFinished     Kind = "step_finished"
	KindStepInterrupted  Kind = "step_interrupted"
	KindTextDelta        Kind = "text_delta"
	KindThinkDelta       Kind = "think_delta"
	KindMessage          Kind = "message"
	KindToolCallAnnounce Kind = "tool_call_announce"
	KindToolCallBegin    Kind = "tool_call_begin"
	KindToolCallPart     Kind = "tool_call_part"
	KindToolCallEnd      Kind = "tool_call_end"
	KindStatusUpdate     Kind = "status_update"
	KindApprovalRequest  Kind = "approval_request"
	KindApprovalDecision Kind = "approval_decision"
	KindCheckpoint       Kind = "checkpoint"
	KindRewind           Kind = "rewind"
	KindCompactionBegin  Kind = "compaction_begin"
	KindCompactionEnd    Kind = "compaction_end"
	KindDiagnostics      Kind = "diagnostics"
	KindSubagentEvent    Kind = "subagent_event"
	KindFilePreview      Kind = "file_preview"
	KindFileDiff         Kind = "file_diff"
	KindError            Kind = "error"
)

// Event is the single envelope type carried over the bus. Seq is assigned
// by the Bus in publish order and is unique within a Bus's lifetime.
type Event struct {
	Seq     uint64
	Kind    Kind
	Payload any
}

// subBufferSize bounds how many undelivered events a slow subscriber may
// queue before the bus starts dropping its oldest pending event.
const subBufferSize = 256

// Bus is a process-local, in-memory event bus. Zero value is not usable;
// construct with New.
type Bus struct {
	seq atomic.Uint64

	mu   sync.Mutex
	subs map[uint64]*subscription
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]*subscription)}
}

// Subscription is a handle returned by Subscribe. Events arrives on C.
// Call Unsubscribe when done listening to release the bus-side resources.
type Subscription struct {
	id  uint64
	bus *Bus
	C   <-chan Event
}

type subscription struct {
	ch chan Event
	mu sync.Mutex
}

// Subscribe registers a new listener and returns its channel. The channel
// is closed when Unsubscribe is called or ctx is canceled.
func (b *Bus) Subscribe(ctx context.Context) *Subscription {
	id := b.seq.Add(1)
	sub := &subscription{ch: make(chan Event, subBufferSize)}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	if ctx != nil {
		go func() {
			<-ctx.Done()
			b.unsubscribe(id)
		}()
	}

	return &Subscription{id: id, bus: b, C: sub.ch}
}

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Publish assigns the event its sequence number and fans it out to every
// current subscriber. A subscriber whose buffer is full has its oldest
// queued event dropped to make room — Publish itself never blocks.
func (b *Bus) Publish(kind Kind, payload any) Event {
	ev := Event{Seq: b.seq.Add(1), Kind: kind, Payload: payload}

	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.send(ev)
	}
	return ev
}

func (s *subscription) send(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case s.ch <- ev:
		return
	default:
	}
	// Buffer full: drop the oldest queued event, then enqueue this one.
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- ev:
	default:
	}
}

// SubscriberCount reports how many subscriptions are currently active.
// Mainly useful for tests and diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// --- ambient wire access ---

type wireCtxKey struct{}

// WithBus returns a context carrying bus as the ambient wire, replacing
// thread-local/global state with explicit context propagation.
func WithBus(ctx context.Context, bus *Bus) context.Context {
	return context.WithValue(ctx, wireCtxKey{}, bus)
}

// FromContext returns the ambient Bus, or nil if none was attached.
func FromContext(ctx context.Context) *Bus {
	b, _ := ctx.Value(wireCtxKey{}).(*Bus)
	return b
}

// Emit publishes on the context's ambient bus, if any. It is a no-op when
// no bus is attached, so components can call it unconditionally.
func Emit(ctx context.Context, kind Kind, payload any) {
	if b := FromContext(ctx); b != nil {
		b.Publish(kind, payload)
	}
}

// --- recorder ---

// Recorder subscribes to a Bus and keeps every event it has seen, for
// tests and for post-hoc inspection (e.g. replaying a turn's event
// sequence in a debugger or transcript viewer).
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder subscribes to bus and begins recording until ctx is done.
func NewRecorder(ctx context.Context, bus *Bus) *Recorder {
	r := &Recorder{}
	sub := bus.Subscribe(ctx)
	go func() {
		for ev := range sub.C {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
	}()
	return r
}

// Events returns a snapshot of every event recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind filters the recorded events to a single kind, preserving order.
func (r *Recorder) OfKind(kind Kind) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// --- file recorder (wire.jsonl) ---

// fileRecord is the on-disk shape of one recorded event: a tagged union
// with {type, payload}.
type fileRecord struct {
	Seq     uint64 `json:"seq"`
	Type    Kind   `json:"type"`
	Payload any    `json:"payload"`
}

// FileRecorder subscribes to a Bus and appends one JSON line per event to
// a file. A write failure is logged and otherwise ignored, never fatal
// to the turn.
type FileRecorder struct {
	f  *os.File
	w  *bufio.Writer
	mu sync.Mutex
}

// NewFileRecorder opens (creating if necessary) path and subscribes to
// bus, writing every event until ctx is done or Close is called.
func NewFileRecorder(ctx context.Context, bus *Bus, path string) (*FileRecorder, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	rec := &FileRecorder{f: f, w: bufio.NewWriter(f)}

	sub := bus.Subscribe(ctx)
	go func() {
		for ev := range sub.C {
			rec.write(ev)
		}
		rec.mu.Lock()
		_ = rec.w.Flush()
		rec.mu.Unlock()
	}()
	return rec, nil
}

func (r *FileRecorder) write(ev Event) {
	b, err := json.Marshal(fileRecord{Seq: ev.Seq, Type: ev.Kind, Payload: ev.Payload})
	if err != nil {
		log.Warn().Err(err).Msg("wire: failed to marshal event for wire.jsonl")
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.w.Write(b); err != nil {
		log.Warn().Err(err).Msg("wire: failed to write wire.jsonl line")
		return
	}
	if err := r.w.WriteByte('\n'); err != nil {
		log.Warn().Err(err).Msg("wire: failed to write wire.jsonl newline")
		return
	}
	if err := r.w.Flush(); err != nil {
		log.Warn().Err(err).Msg("wire: failed to flush wire.jsonl")
	}
}

// Close flushes and closes the underlying file.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.w.Flush(); err != nil {
		return err
	}
	return r.f.Close()
}
