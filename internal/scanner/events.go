package scanner

// Event is one observation produced by the Scanner as the model response
// streams in. Consumers type-switch on the concrete event types below.
type Event interface {
	isEvent()
}

// TextSegment is plain response text outside any artifact block.
// The transcript renderer displays it; the assembler accumulates it for
// fallback detection of unwrapped code.
type TextSegment struct {
	Content string
}

// BlockOpened is emitted as soon as an opening tag's attributes are fully
// parsed, before the block body is complete. It carries enough data for an
// optimistic preview.
type BlockOpened struct {
	Identifier  string
	Kind        string
	Title       string
	Description string
}

// DependencyDeclared is emitted for each dependency tag inside an open block.
type DependencyDeclared struct {
	Identifier string
	Name       string
	Version    string
}

// FileProgress is emitted opportunistically as verbatim file content
// accumulates. Content always holds the full content received so far for
// that file section; Complete is true exactly once, when the section's close
// marker is observed.
type FileProgress struct {
	Identifier string
	Path       string
	Content    string
	Complete   bool
}

// BlockClosed is emitted when a block's closing tag is observed. Malformed or
// truncated blocks never produce this event.
type BlockClosed struct {
	Identifier string
}

func (TextSegment) isEvent()        {}
func (BlockOpened) isEvent()        {}
func (DependencyDeclared) isEvent() {}
func (FileProgress) isEvent()       {}
func (BlockClosed) isEvent()        {}
