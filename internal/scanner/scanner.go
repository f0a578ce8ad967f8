// Package scanner implements incremental detection of artifact blocks inside
// a streamed model response.
//
// A block is a self-describing region of the response text:
//
//	<artifact identifier="card-demo" kind="component" title="Card demo">
//	  <dependency name="react" version="18.2.0">
//	  <file path="Card.jsx">
//	  ...verbatim payload, never re-interpreted...
//	  </file>
//	</artifact>
//
// The Scanner is fed successive chunks of the response and emits Events. It
// never assumes a chunk boundary aligns with a tag boundary: a marker split
// across two chunks is matched by retaining an unconsumed tail of the buffer
// between calls. File sections are verbatim: once entered, only the matching
// close marker terminates them, so payloads may contain marker-like text.
//
// One Scanner owns one stream. Create a fresh Scanner (or call Reset) for
// each new message; state never bleeds between messages.
package scanner

import "strings"

// Block grammar markers. markerCloseName deliberately omits the trailing '>'
// so the close tag can be recognized before the final byte arrives.
const (
	markerOpen      = "<artifact "
	markerFile      = "<file "
	markerDep       = "<dependency "
	markerCloseName = "</artifact"
	markerFileClose = "</file>"
)

// phase is the scanner's position in the block grammar.
type phase int

const (
	phaseScanning phase = iota
	phaseInOpenTag
	phaseInBody
	phaseInVerbatim
	phaseInCloseTag
)

// partialBlock is the in-progress record for the currently open block.
type partialBlock struct {
	identifier  string
	kind        string
	title       string
	description string
	filePath    string
	fileContent strings.Builder
}

// Scanner is the incremental tokenizer. Not safe for concurrent use; each
// stream has exactly one owner.
type Scanner struct {
	buf    string
	ph     phase
	cur    partialBlock
	offset int // bytes consumed from the stream so far, for diagnostics
}

// New returns a Scanner ready to receive the first chunk of a stream.
func New() *Scanner {
	return &Scanner{}
}

// Reset discards all state so the Scanner can consume a new stream.
func (s *Scanner) Reset() {
	*s = Scanner{}
}

// Offset returns the number of stream bytes fully consumed so far.
func (s *Scanner) Offset() int {
	return s.offset
}

// InBlock reports whether the scanner is inside an unclosed block.
func (s *Scanner) InBlock() bool {
	return s.ph != phaseScanning
}

// Feed appends a chunk to the stream and returns the events it completes.
func (s *Scanner) Feed(chunk string) []Event {
	s.buf += chunk
	return s.drain()
}

// Finish signals end of stream and returns any final events. A block still
// open at this point never produces BlockClosed; the assembler treats it as
// incomplete rather than as an error.
func (s *Scanner) Finish() []Event {
	events := s.drain()
	if s.ph == phaseScanning && s.buf != "" {
		events = append(events, TextSegment{Content: s.buf})
		s.consume(len(s.buf))
	}
	return events
}

// drain advances the state machine until no more progress can be made with
// the buffered text. Each iteration either consumes bytes or stops, so the
// scan stays linear in total input length amortized across calls.
func (s *Scanner) drain() []Event {
	var events []Event
	for {
		var (
			made bool
			evs  []Event
		)
		switch s.ph {
		case phaseScanning:
			evs, made = s.stepScanning()
		case phaseInOpenTag:
			evs, made = s.stepOpenTag()
		case phaseInBody:
			evs, made = s.stepBody()
		case phaseInVerbatim:
			evs, made = s.stepVerbatim()
		case phaseInCloseTag:
			evs, made = s.stepCloseTag()
		}
		events = append(events, evs...)
		if !made {
			return events
		}
	}
}

func (s *Scanner) consume(n int) {
	s.buf = s.buf[n:]
	s.offset += n
}

// stepScanning looks for the start of a block, releasing everything before it
// as plain text. A trailing partial open marker is held back for the next
// chunk.
func (s *Scanner) stepScanning() ([]Event, bool) {
	var events []Event
	if i := strings.Index(s.buf, markerOpen); i >= 0 {
		if i > 0 {
			events = append(events, TextSegment{Content: s.buf[:i]})
		}
		s.consume(i + len(markerOpen))
		s.cur = partialBlock{}
		s.ph = phaseInOpenTag
		return events, true
	}

	safe, _ := holdPartial(s.buf, markerOpen)
	if safe != "" {
		events = append(events, TextSegment{Content: safe})
		s.consume(len(safe))
	}
	return events, false
}

// stepOpenTag waits for the end of the opening tag, then parses attributes
// and announces the block.
func (s *Scanner) stepOpenTag() ([]Event, bool) {
	j := strings.IndexByte(s.buf, '>')
	if j < 0 {
		return nil, false
	}

	tagBody := s.buf[:j]
	s.cur.identifier = extractAttr(tagBody, "identifier")
	s.cur.kind = extractAttr(tagBody, "kind")
	s.cur.title = extractAttr(tagBody, "title")
	s.cur.description = extractAttr(tagBody, "description")
	s.consume(j + 1)
	s.ph = phaseInBody

	return []Event{BlockOpened{
		Identifier:  s.cur.identifier,
		Kind:        s.cur.kind,
		Title:       s.cur.title,
		Description: s.cur.description,
	}}, true
}

// stepBody dispatches on the next tag inside an open block: a file section,
// a dependency declaration, or the closing tag. Filler text between tags is
// discarded.
func (s *Scanner) stepBody() ([]Event, bool) {
	fileIdx := strings.Index(s.buf, markerFile)
	depIdx := strings.Index(s.buf, markerDep)
	closeIdx := strings.Index(s.buf, markerCloseName)

	idx, marker := earliest(fileIdx, markerFile, depIdx, markerDep, closeIdx, markerCloseName)
	if idx < 0 {
		// No complete marker yet. Hold back a possible partial tag, drop the
		// filler before it.
		safe, _ := holdPartial(s.buf, markerFile, markerDep, markerCloseName)
		if safe != "" {
			s.consume(len(safe))
		}
		return nil, false
	}

	switch marker {
	case markerFile:
		tagEnd := strings.IndexByte(s.buf[idx+len(markerFile):], '>')
		if tagEnd < 0 {
			return nil, false
		}
		tagBody := s.buf[idx+len(markerFile) : idx+len(markerFile)+tagEnd]
		s.cur.filePath = extractAttr(tagBody, "path")
		s.cur.fileContent.Reset()
		s.consume(idx + len(markerFile) + tagEnd + 1)
		s.ph = phaseInVerbatim
		return nil, true

	case markerDep:
		tagEnd := strings.IndexByte(s.buf[idx+len(markerDep):], '>')
		if tagEnd < 0 {
			return nil, false
		}
		tagBody := s.buf[idx+len(markerDep) : idx+len(markerDep)+tagEnd]
		ev := DependencyDeclared{
			Identifier: s.cur.identifier,
			Name:       extractAttr(tagBody, "name"),
			Version:    extractAttr(tagBody, "version"),
		}
		s.consume(idx + len(markerDep) + tagEnd + 1)
		return []Event{ev}, true

	default: // markerCloseName
		s.consume(idx + len(markerCloseName))
		s.ph = phaseInCloseTag
		return nil, true
	}
}

// stepVerbatim accumulates literal file content until the close marker. All
// but the last len(markerFileClose)-1 bytes are safe to release as progress:
// anything shorter cannot be the start of the close marker split across
// chunks.
func (s *Scanner) stepVerbatim() ([]Event, bool) {
	if i := strings.Index(s.buf, markerFileClose); i >= 0 {
		s.cur.fileContent.WriteString(s.buf[:i])
		s.consume(i + len(markerFileClose))
		s.ph = phaseInBody
		return []Event{FileProgress{
			Identifier: s.cur.identifier,
			Path:       s.cur.filePath,
			Content:    s.cur.fileContent.String(),
			Complete:   true,
		}}, true
	}

	hold := len(markerFileClose) - 1
	if len(s.buf) <= hold {
		return nil, false
	}
	release := len(s.buf) - hold
	s.cur.fileContent.WriteString(s.buf[:release])
	s.consume(release)
	return []Event{FileProgress{
		Identifier: s.cur.identifier,
		Path:       s.cur.filePath,
		Content:    s.cur.fileContent.String(),
	}}, false
}

// stepCloseTag waits for the '>' completing the closing tag.
func (s *Scanner) stepCloseTag() ([]Event, bool) {
	j := strings.IndexByte(s.buf, '>')
	if j < 0 {
		return nil, false
	}
	identifier := s.cur.identifier
	s.consume(j + 1)
	s.cur = partialBlock{}
	s.ph = phaseScanning
	return []Event{BlockClosed{Identifier: identifier}}, true
}

// extractAttr extracts an attribute value from a tag body. Attributes may
// appear in any order: identifier="x" kind="component" title="X".
// strings.Index is simpler than regex here.
func extractAttr(tag, name string) string {
	prefix := name + `="`
	i := strings.Index(tag, prefix)
	if i == -1 {
		return ""
	}
	start := i + len(prefix)
	end := strings.IndexByte(tag[start:], '"')
	if end == -1 {
		return ""
	}
	return tag[start : start+end]
}

// holdPartial splits s so that a trailing strict prefix of any marker is held
// back for the next chunk. Everything before it is safe to release.
func holdPartial(s string, markers ...string) (safe, held string) {
	window := 0
	for _, m := range markers {
		if len(m)-1 > window {
			window = len(m) - 1
		}
	}
	start := len(s) - window
	if start < 0 {
		start = 0
	}
	for i := start; i < len(s); i++ {
		if s[i] != '<' {
			continue
		}
		tail := s[i:]
		for _, m := range markers {
			if strings.HasPrefix(m, tail) {
				return s[:i], s[i:]
			}
		}
	}
	return s, ""
}

// earliest returns the smallest non-negative index and its marker.
func earliest(i1 int, m1 string, i2 int, m2 string, i3 int, m3 string) (int, string) {
	idx, marker := -1, ""
	for _, c := range []struct {
		i int
		m string
	}{{i1, m1}, {i2, m2}, {i3, m3}} {
		if c.i >= 0 && (idx < 0 || c.i < idx) {
			idx, marker = c.i, c.m
		}
	}
	return idx, marker
}
