package artifact

import (
	"time"

	"github.com/google/uuid"
)

// Kind represents the artifact content category.
type Kind string

const (
	KindComponent Kind = "component"
	KindMarkup    Kind = "markup"
	KindStyling   Kind = "styling"
	KindDiagram   Kind = "diagram"
)

// ParseKind maps a raw kind attribute to a Kind.
// Unknown values fall back to KindComponent so a sloppy model response
// still yields a renderable artifact.
func ParseKind(s string) Kind {
	switch Kind(s) {
	case KindComponent, KindMarkup, KindStyling, KindDiagram:
		return Kind(s)
	default:
		return KindComponent
	}
}

// FileEntry is one (path, content) pair carried by an artifact.
// Order is significant: the first entry is the entry point for rendering.
type FileEntry struct {
	Path    string
	Content string
}

// Dependency is a declared (name, version) pair the payload expects the
// rendering host to provide.
type Dependency struct {
	Name    string
	Version string
}

// Artifact is one assembled block from a model response.
//
// An Artifact is immutable once assembled. A corrected payload produced by
// recovery becomes a new Artifact value associated with the same Identifier,
// never an in-place edit.
//
// Zero values:
//   - Identifier: "" (invalid, required)
//   - Kind: "" (invalid, use ParseKind)
//   - Title: "" (invalid, required)
//   - Description: "" (optional)
//   - Files: nil (invalid, at least one entry required)
//   - Dependencies: nil (no declared dependencies)
//   - Confidence: 0 (set to 1.0 for structured blocks, lower for fallback
//     detection)
//   - MessageID: uuid.Nil (not linked to a message)
type Artifact struct {
	Identifier   string
	Kind         Kind
	Title        string
	Description  string
	Files        []FileEntry
	Dependencies []Dependency
	Confidence   float64
	MessageID    uuid.UUID
	CreatedAt    time.Time
}

// Payload returns the entry-point file content, or "" when no files exist.
func (a *Artifact) Payload() string {
	if len(a.Files) == 0 {
		return ""
	}
	return a.Files[0].Content
}

// WithPayload returns a copy of a whose entry-point file carries content.
// This is how recovery produces a corrected Artifact without mutating the
// original value.
func (a *Artifact) WithPayload(content string) *Artifact {
	out := *a
	out.Files = make([]FileEntry, len(a.Files))
	copy(out.Files, a.Files)
	if len(out.Files) == 0 {
		out.Files = []FileEntry{{Path: "main", Content: content}}
	} else {
		out.Files[0].Content = content
	}
	out.CreatedAt = time.Now()
	return &out
}
