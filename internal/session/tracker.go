// Package session tracks the artifacts of one conversation: it drives the
// scanner and assembler over incoming message chunks, keeps a bounded set
// of artifact slots, fans events out to subscribers, and runs the
// render-and-recover loop for completed artifacts.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/koopa0/canvas/internal/artifact"
	"github.com/koopa0/canvas/internal/log"
	"github.com/koopa0/canvas/internal/oracle"
	"github.com/koopa0/canvas/internal/recovery"
	"github.com/koopa0/canvas/internal/scanner"
)

// DefaultMaxTracked bounds how many artifacts one session keeps state for.
const DefaultMaxTracked = 10

// Event kinds delivered to subscribers.
const (
	EventOpened   = "artifact-opened"
	EventProgress = "artifact-progress"
	EventClosed   = "artifact-closed"
)

// Event is one artifact lifecycle notification.
type Event struct {
	Kind       string
	Identifier string

	// Path and Content carry streaming file state on progress events.
	Path    string
	Content string

	// Artifact is set on closed events.
	Artifact *artifact.Artifact
}

// Subscriber receives events synchronously in emission order.
type Subscriber func(Event)

// ErrInProgress is returned when rendering is requested for an artifact
// that is still streaming.
var ErrInProgress = errors.New("artifact is still in progress")

// Config contains all required parameters for Tracker.
type Config struct {
	Execution    oracle.Execution
	Orchestrator *recovery.Orchestrator
	Logger       log.Logger

	// MaxTracked bounds the artifact slots per session (zero uses the
	// default).
	MaxTracked int
}

func (cfg Config) validate() error {
	if cfg.Execution == nil {
		return errors.New("execution oracle is required")
	}
	if cfg.Orchestrator == nil {
		return errors.New("orchestrator is required")
	}
	return nil
}

// slot is the tracked state of one artifact identity.
type slot struct {
	art       *artifact.Artifact
	completed bool
	streaming bool   // a block under this identity is currently open
	context   string // surrounding message text, set when the message ends
	seq       int
}

// Tracker owns artifact state for one session. Chunk feeding is driven by
// a single stream at a time; the mutex makes the render path safe to run
// concurrently with it.
type Tracker struct {
	mu sync.Mutex

	maxTracked int
	execution  oracle.Execution
	recoverer  *recovery.Orchestrator
	logger     log.Logger

	scanner   *scanner.Scanner
	assembler *scanner.Assembler

	slots map[string]*slot
	seq   int

	messageID   uuid.UUID
	messageText strings.Builder

	subs []Subscriber
}

func NewTracker(cfg Config) (*Tracker, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("tracker config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	maxTracked := cfg.MaxTracked
	if maxTracked <= 0 {
		maxTracked = DefaultMaxTracked
	}

	return &Tracker{
		maxTracked: maxTracked,
		execution:  cfg.Execution,
		recoverer:  cfg.Orchestrator,
		logger:     logger,
		scanner:    scanner.New(),
		assembler:  scanner.NewAssembler(logger),
		slots:      make(map[string]*slot),
	}, nil
}

// Subscribe registers a lifecycle event receiver. Not safe to call while a
// message is being fed.
func (t *Tracker) Subscribe(fn Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, fn)
}

// StartMessage resets the scan pipeline for a new assistant message.
// Artifact slots from earlier messages stay tracked.
func (t *Tracker) StartMessage(messageID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.scanner.Reset()
	t.assembler.Reset(messageID)
	t.messageID = messageID
	t.messageText.Reset()
}

// FeedChunk advances the pipeline with the next stream chunk.
func (t *Tracker) FeedChunk(chunk string) {
	t.mu.Lock()
	t.messageText.WriteString(chunk)
	events := t.apply(t.scanner.Feed(chunk))
	t.mu.Unlock()

	t.publish(events)
}

// FinishMessage flushes the pipeline at end of stream. Incomplete blocks
// are discarded; bare-code fallback artifacts are admitted here.
func (t *Tracker) FinishMessage() []*artifact.Artifact {
	t.mu.Lock()

	events := t.apply(t.scanner.Finish())

	var closed []*artifact.Artifact
	for _, a := range t.assembler.Finish() {
		t.admit(a)
		closed = append(closed, a)
		events = append(events, Event{Kind: EventClosed, Identifier: a.Identifier, Artifact: a})
	}

	// Truncated blocks never complete; their reserved slots go away, but
	// an identity with a completed earlier revision keeps it.
	for id, s := range t.slots {
		s.streaming = false
		if !s.completed {
			delete(t.slots, id)
		}
	}

	// Snapshot the full message text as recovery context for everything
	// this message produced.
	text := t.messageText.String()
	for _, s := range t.slots {
		if s.completed && s.art.MessageID == t.messageID {
			s.context = text
		}
	}

	t.mu.Unlock()
	t.publish(events)
	return closed
}

// apply feeds scanner events through the assembler and updates slots. The
// caller holds the lock.
func (t *Tracker) apply(events []scanner.Event) []Event {
	var out []Event
	for _, ev := range events {
		switch ev := ev.(type) {
		case scanner.BlockOpened:
			t.open(ev.Identifier)
			out = append(out, Event{Kind: EventOpened, Identifier: ev.Identifier})
		case scanner.FileProgress:
			out = append(out, Event{
				Kind:       EventProgress,
				Identifier: ev.Identifier,
				Path:       ev.Path,
				Content:    ev.Content,
			})
		}

		a, malformed := t.assembler.Apply(ev)
		if malformed != nil {
			t.logger.Warn("malformed artifact dropped",
				"identifier", malformed.Identifier,
				"reasons", strings.Join(malformed.Reasons, "; "),
			)
			t.dropInProgress(malformed.Identifier)
			continue
		}
		if a != nil {
			t.admit(a)
			out = append(out, Event{Kind: EventClosed, Identifier: a.Identifier, Artifact: a})
		}
	}
	return out
}

// open reserves an in-progress slot for a newly opened block, evicting the
// oldest completed slot when the tracker is full. In-progress state is
// never evicted. Reopening a known identity keeps its completed revision
// until the new block closes successfully.
func (t *Tracker) open(identifier string) {
	s, exists := t.slots[identifier]
	if !exists {
		if len(t.slots) >= t.maxTracked {
			t.evictOldestCompleted()
		}
		s = &slot{}
		t.slots[identifier] = s
	}
	t.seq++
	s.streaming = true
	s.seq = t.seq
}

// admit installs a completed artifact into its slot.
func (t *Tracker) admit(a *artifact.Artifact) {
	s, exists := t.slots[a.Identifier]
	if !exists {
		if len(t.slots) >= t.maxTracked {
			t.evictOldestCompleted()
		}
		s = &slot{}
		t.slots[a.Identifier] = s
	}
	t.seq++
	s.art = a
	s.completed = true
	s.streaming = false
	s.seq = t.seq
}

// dropInProgress discards the open-block state of an identity that will
// never complete. A completed earlier revision under the same identity
// stays.
func (t *Tracker) dropInProgress(identifier string) {
	s, ok := t.slots[identifier]
	if !ok {
		return
	}
	s.streaming = false
	if !s.completed {
		delete(t.slots, identifier)
	}
}

func (t *Tracker) evictOldestCompleted() {
	oldest := ""
	oldestSeq := 0
	for id, s := range t.slots {
		if !s.completed || s.streaming {
			continue
		}
		if oldest == "" || s.seq < oldestSeq {
			oldest = id
			oldestSeq = s.seq
		}
	}
	if oldest != "" {
		delete(t.slots, oldest)
		t.logger.Debug("evicted artifact slot", "identifier", oldest)
	}
}

func (t *Tracker) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	t.mu.Lock()
	subs := make([]Subscriber, len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// Artifact returns the latest revision tracked for an identifier.
func (t *Tracker) Artifact(identifier string) (*artifact.Artifact, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[identifier]
	if !ok {
		return nil, artifact.ErrNotFound
	}
	if !s.completed {
		return nil, ErrInProgress
	}
	return s.art, nil
}

// Tracked reports how many artifact slots are held.
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// RenderReport is the outcome of one RenderAndRecover call.
type RenderReport struct {
	// Rendered reports that the payload executed, either initially or
	// after recovery.
	Rendered bool

	// Verdict is the initial rendering attempt.
	Verdict *oracle.RenderVerdict

	// Recovery is set when the initial attempt failed. Its breaker
	// bookkeeping already happened.
	Recovery *recovery.Result

	// Artifact is the current revision, corrected when recovery produced
	// a new payload.
	Artifact *artifact.Artifact
}

// RenderAndRecover asks the execution oracle to render an artifact and, on
// failure, runs one recovery attempt with the surrounding message text as
// context. A successful recovery installs the corrected payload as the new
// tracked revision.
func (t *Tracker) RenderAndRecover(ctx context.Context, identifier string) (*RenderReport, error) {
	t.mu.Lock()
	s, ok := t.slots[identifier]
	if !ok {
		t.mu.Unlock()
		return nil, artifact.ErrNotFound
	}
	if !s.completed {
		t.mu.Unlock()
		return nil, ErrInProgress
	}
	a := s.art
	recoveryContext := s.context
	t.mu.Unlock()

	verdict, err := t.execution.Render(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", identifier, err)
	}
	report := &RenderReport{Verdict: verdict, Artifact: a}
	if verdict.Success {
		report.Rendered = true
		return report, nil
	}

	res, err := t.recoverer.Recover(ctx, recovery.Request{
		Identifier: identifier,
		Payload:    a.Payload(),
		ErrorText:  verdict.ErrorText,
		Context:    recoveryContext,
		MessageID:  a.MessageID,
	})
	if err != nil {
		return nil, fmt.Errorf("recover %s: %w", identifier, err)
	}
	report.Recovery = res

	if res.Success {
		corrected := a.WithPayload(res.Payload)
		report.Rendered = true
		report.Artifact = corrected

		t.mu.Lock()
		// A newer revision may have superseded ours while recovery ran;
		// only install the correction if the slot still holds what we
		// started from.
		if cur, ok := t.slots[identifier]; ok && cur.art == a {
			cur.art = corrected
		}
		t.mu.Unlock()
	}
	return report, nil
}
