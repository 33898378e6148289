// Package events implements the observability hook named in SPEC_FULL.md's
// domain-stack supplement: a small pub-sub bus the runtime posts to each
// time it finalizes a stage's plan just before running it, mirroring the teacher's
// pattern of narrow, typed notifications rather than a generic logger call.
package events

import "sync"

// AdaptiveExecutionUpdate describes one update to a running query's
// adaptive plan. runtime.Engine publishes one with Kind "plan-finalized"
// for every shuffle or result stage it runs, with Detail set to the
// canonical form of the stage's finalized plan (after rewriting and
// reducer-count assignment). Kind and Detail are free text; the bus
// itself places no restriction on them.
type AdaptiveExecutionUpdate struct {
	StageID string
	Kind    string // "plan-finalized" when published by runtime.Engine
	Detail  string
}

// Bus is the minimal publish/subscribe surface AQSE needs: runtime posts
// updates, callers (a UI, a test, a metrics exporter) subscribe to them.
type Bus interface {
	Publish(update AdaptiveExecutionUpdate)
	Subscribe() <-chan AdaptiveExecutionUpdate
}

// InMemoryBus is a Bus backed by fan-out channels, sufficient for a single
// process and for tests that want to assert on the sequence of updates a
// query produced.
type InMemoryBus struct {
	mu   sync.Mutex
	subs []chan AdaptiveExecutionUpdate
}

// NewInMemoryBus constructs an empty InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{}
}

// Publish fans an update out to every current subscriber. Slow or absent
// subscribers never block a query: each subscriber channel is buffered and
// a full channel silently drops the update rather than stalling runtime.
func (b *InMemoryBus) Publish(update AdaptiveExecutionUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- update:
		default:
		}
	}
}

// Subscribe registers a new channel that receives every subsequent Publish.
func (b *InMemoryBus) Subscribe() <-chan AdaptiveExecutionUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan AdaptiveExecutionUpdate, 64)
	b.subs = append(b.subs, ch)
	return ch
}

// Recorder is a Bus that keeps every update it's handed in order, for
// tests asserting on exact adaptive-decision sequences without racing a
// channel read.
type Recorder struct {
	mu      sync.Mutex
	Updates []AdaptiveExecutionUpdate
}

// NewRecorder constructs an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish appends update to Updates.
func (r *Recorder) Publish(update AdaptiveExecutionUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Updates = append(r.Updates, update)
}

// Subscribe returns a closed, unused channel: Recorder is for synchronous
// inspection of Updates, not fan-out.
func (r *Recorder) Subscribe() <-chan AdaptiveExecutionUpdate {
	ch := make(chan AdaptiveExecutionUpdate)
	close(ch)
	return ch
}

// Snapshot returns a copy of the updates recorded so far.
func (r *Recorder) Snapshot() []AdaptiveExecutionUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AdaptiveExecutionUpdate, len(r.Updates))
	copy(out, r.Updates)
	return out
}
