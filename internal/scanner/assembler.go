package scanner

import (
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/canvas/internal/artifact"
	"github.com/koopa0/canvas/internal/log"
)

// Malformed is the diagnostic emitted when a block closes without satisfying
// the assembly contract. The partial record is dropped; the stream continues.
type Malformed struct {
	Identifier string
	Reasons    []string
}

// record accumulates one in-progress block between BlockOpened and
// BlockClosed.
type record struct {
	opened BlockOpened
	deps   []artifact.Dependency
	files  []artifact.FileEntry
}

// Assembler consumes scanner events for one message at a time and emits
// immutable Artifact values on block close.
//
// Reset must be called before processing a new message's stream. This is the
// mechanism that prevents state from one generated message bleeding into the
// next.
type Assembler struct {
	logger    log.Logger
	messageID uuid.UUID
	open      *record
	prose     []string // plain text segments, scanned for unwrapped code at Finish
}

// NewAssembler creates an Assembler. A nil logger falls back to a no-op.
func NewAssembler(logger log.Logger) *Assembler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Assembler{logger: logger}
}

// Reset discards any in-progress partial record and binds the assembler to a
// new message stream.
func (a *Assembler) Reset(messageID uuid.UUID) {
	a.messageID = messageID
	a.open = nil
	a.prose = a.prose[:0]
}

// Incomplete reports whether a block is open but not yet closed.
func (a *Assembler) Incomplete() bool {
	return a.open != nil
}

// Apply consumes one event. On a valid BlockClosed it returns the finished
// Artifact; on an invalid close it returns a Malformed diagnostic. All other
// events return (nil, nil).
func (a *Assembler) Apply(ev Event) (*artifact.Artifact, *Malformed) {
	switch e := ev.(type) {
	case TextSegment:
		a.prose = append(a.prose, e.Content)

	case BlockOpened:
		if a.open != nil {
			a.logger.Warn("block opened while previous block still open, dropping partial",
				"dropped", a.open.opened.Identifier,
				"opened", e.Identifier)
		}
		a.open = &record{opened: e}

	case DependencyDeclared:
		if a.open != nil {
			a.open.deps = append(a.open.deps, artifact.Dependency{Name: e.Name, Version: e.Version})
		}

	case FileProgress:
		if a.open != nil && e.Complete {
			a.open.files = append(a.open.files, artifact.FileEntry{Path: e.Path, Content: e.Content})
		}

	case BlockClosed:
		if a.open == nil {
			a.logger.Warn("block closed without open record", "identifier", e.Identifier)
			return nil, &Malformed{Identifier: e.Identifier, Reasons: []string{"close without open"}}
		}
		rec := a.open
		a.open = nil
		return a.finalize(rec)
	}
	return nil, nil
}

// finalize validates the record and builds the immutable Artifact.
func (a *Assembler) finalize(rec *record) (*artifact.Artifact, *Malformed) {
	var reasons []string
	if rec.opened.Identifier == "" {
		reasons = append(reasons, "missing identifier")
	}
	if rec.opened.Kind == "" {
		reasons = append(reasons, "missing kind")
	}
	if rec.opened.Title == "" {
		reasons = append(reasons, "missing title")
	}
	if len(rec.files) == 0 {
		reasons = append(reasons, "no file sections")
	}
	if len(reasons) > 0 {
		a.logger.Info("dropping malformed block",
			"identifier", rec.opened.Identifier,
			"reasons", reasons)
		return nil, &Malformed{Identifier: rec.opened.Identifier, Reasons: reasons}
	}

	return &artifact.Artifact{
		Identifier:   rec.opened.Identifier,
		Kind:         artifact.ParseKind(rec.opened.Kind),
		Title:        rec.opened.Title,
		Description:  rec.opened.Description,
		Files:        rec.files,
		Dependencies: rec.deps,
		Confidence:   1.0,
		MessageID:    a.messageID,
		CreatedAt:    time.Now(),
	}, nil
}

// Finish runs the best-effort detector for payload that was not wrapped in a
// recognized block at all. It returns zero or more low-confidence Artifacts
// built from bare code fences in the message prose, so the UI can still offer
// a preview when the model ignored the structured format.
func (a *Assembler) Finish() []*artifact.Artifact {
	if len(a.prose) == 0 {
		return nil
	}
	var all string
	for _, seg := range a.prose {
		all += seg
	}
	found := detectBareCode(all, a.messageID)
	if len(found) > 0 {
		a.logger.Debug("fallback detector produced artifacts", "count", len(found))
	}
	return found
}
