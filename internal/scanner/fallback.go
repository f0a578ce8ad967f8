package scanner

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/canvas/internal/artifact"
)

// FallbackConfidence is assigned to artifacts produced by the bare-fence
// detector. It sits below the recovery acceptance threshold so collaborators
// can distinguish these from structured blocks.
const FallbackConfidence = 0.5

const fence = "```"

// renderableLanguages maps fence info strings to the artifact kind a bare
// code section of that language should preview as.
var renderableLanguages = map[string]artifact.Kind{
	"jsx":        artifact.KindComponent,
	"tsx":        artifact.KindComponent,
	"javascript": artifact.KindComponent,
	"js":         artifact.KindComponent,
	"html":       artifact.KindMarkup,
	"svg":        artifact.KindMarkup,
	"css":        artifact.KindStyling,
	"mermaid":    artifact.KindDiagram,
}

// detectBareCode scans message prose for triple-backtick fences whose
// language or content matches known component-file conventions and produces
// low-confidence artifacts from them.
func detectBareCode(prose string, messageID uuid.UUID) []*artifact.Artifact {
	var found []*artifact.Artifact
	rest := prose
	for {
		start := strings.Index(rest, fence)
		if start < 0 {
			return found
		}
		rest = rest[start+len(fence):]

		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			return found
		}
		lang := strings.ToLower(strings.TrimSpace(rest[:nl]))
		rest = rest[nl+1:]

		end := strings.Index(rest, fence)
		if end < 0 {
			return found
		}
		content := rest[:end]
		rest = rest[end+len(fence):]

		kind, ok := classifyBareCode(lang, content)
		if !ok {
			continue
		}
		found = append(found, &artifact.Artifact{
			Identifier: "fallback-" + uuid.NewString(),
			Kind:       kind,
			Title:      fallbackTitle(kind),
			Files:      []artifact.FileEntry{{Path: fallbackPath(lang), Content: content}},
			Confidence: FallbackConfidence,
			MessageID:  messageID,
			CreatedAt:  time.Now(),
		})
	}
}

// classifyBareCode decides whether a fence looks like a renderable payload.
// Script languages additionally need a component export or element markup so
// ordinary snippets are not promoted to artifacts.
func classifyBareCode(lang, content string) (artifact.Kind, bool) {
	kind, ok := renderableLanguages[lang]
	if !ok {
		return "", false
	}
	if kind == artifact.KindComponent {
		if !strings.Contains(content, "export default") && !strings.Contains(content, "function ") {
			return "", false
		}
	}
	if strings.TrimSpace(content) == "" {
		return "", false
	}
	return kind, true
}

func fallbackTitle(kind artifact.Kind) string {
	switch kind {
	case artifact.KindMarkup:
		return "Untitled markup"
	case artifact.KindStyling:
		return "Untitled stylesheet"
	case artifact.KindDiagram:
		return "Untitled diagram"
	default:
		return "Untitled component"
	}
}

func fallbackPath(lang string) string {
	switch lang {
	case "html", "svg":
		return "index.html"
	case "css":
		return "styles.css"
	case "mermaid":
		return "diagram.mmd"
	case "tsx":
		return "Component.tsx"
	default:
		return "Component.jsx"
	}
}
