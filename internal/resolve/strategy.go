// Package resolve implements the dependency-resolution strategy chain that
// rewrites a failing artifact payload until it can execute in the rendering
// host.
//
// Each strategy pairs an applicability predicate with a pattern-directed
// transformation and declares a fixed priority. The Executor runs applicable
// strategies in descending priority order and stops at the first qualifying
// success; when the chain is exhausted it escalates to the AI repair oracle.
// Transformations are pattern-directed, not a compiler: they resolve import
// shapes the model commonly emits, nothing more.
package resolve

import (
	"context"
	"regexp"
	"strings"
)

// Request carries the failing payload together with the material a strategy
// may draw corrections from.
type Request struct {
	// Payload is the source that failed to execute.
	Payload string

	// ErrorText is the raw failure output from the rendering host.
	ErrorText string

	// Context is the surrounding message text, which may contain a styling
	// or data block the payload references but does not bundle.
	Context string
}

// Outcome is a strategy's transformation result.
type Outcome struct {
	Payload    string
	Confidence float64
	Changes    []string
}

// Strategy is one independently pluggable transform.
//
// CanHandle must be cheap and side-effect free; Apply is only invoked after
// CanHandle reports true.
type Strategy interface {
	Name() string
	Priority() int
	CanHandle(req Request) bool
	Apply(ctx context.Context, req Request) (*Outcome, error)
}

// Strategy priorities are fixed; the executor sorts by them descending.
const (
	PriorityStyleModule = 100
	PriorityStyleInject = 90
	PriorityDataInline  = 80
	PriorityImportStrip = 10
)

// Import shapes the strategies recognize. The payloads are model-generated
// JavaScript, so a handful of patterns covers what actually occurs.
var (
	// import styles from "./Card.module.css";
	styleModuleImportRe = regexp.MustCompile(`import\s+(\w+)\s+from\s+['"]([^'"]+\.module\.css)['"];?[^\S\n]*\n?`)

	// import "./styles.css";
	sideEffectCSSImportRe = regexp.MustCompile(`import\s+['"]([^'"]+\.css)['"];?[^\S\n]*\n?`)

	// import data from "./data.json";
	jsonImportRe = regexp.MustCompile(`import\s+(\w+)\s+from\s+['"]([^'"]+\.json)['"];?[^\S\n]*\n?`)

	// Any import whose specifier is relative: it can never resolve inside
	// the sandboxed host, which has no sibling files.
	relativeImportRe = regexp.MustCompile(`import\s+(?:[\w$]+|\{[^}]*\}|[\w$]+\s*,\s*\{[^}]*\}|\*\s+as\s+[\w$]+)?\s*(?:from\s+)?['"](\.\.?/[^'"]+)['"];?[^\S\n]*\n?`)
)

// DefaultStrategies returns the full chain in declaration order. The
// executor re-sorts by priority, so order here is cosmetic.
func DefaultStrategies() []Strategy {
	return []Strategy{
		styleModuleStrategy{},
		styleInjectStrategy{},
		dataInlineStrategy{},
		importStripStrategy{},
	}
}

// balancedBrackets reports whether every (, [ and { in the source closes in
// order, skipping string and template literals. This is the structural
// sanity check applied to AI-repaired payloads; it is deliberately shallow.
func balancedBrackets(src string) bool {
	var stack []byte
	var quote byte
	var escape bool

	for i := 0; i < len(src); i++ {
		b := src[i]
		if escape {
			escape = false
			continue
		}
		if quote != 0 {
			switch b {
			case '\\':
				escape = true
			case quote:
				quote = 0
			}
			continue
		}
		switch b {
		case '"', '\'', '`':
			quote = b
		case '(', '[', '{':
			stack = append(stack, b)
		case ')', ']', '}':
			if len(stack) == 0 {
				return false
			}
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if (b == ')' && open != '(') || (b == ']' && open != '[') || (b == '}' && open != '{') {
				return false
			}
		}
	}
	return len(stack) == 0 && quote == 0
}

// spliceMatches replaces every match of re with replacement, inserted
// literally. ReplaceAllString would treat $ sequences in the replacement as
// template references, so the match spans are spliced by index instead.
func spliceMatches(re *regexp.Regexp, src, replacement string) string {
	spans := re.FindAllStringIndex(src, -1)
	if spans == nil {
		return src
	}
	var out strings.Builder
	last := 0
	for _, sp := range spans {
		out.WriteString(src[last:sp[0]])
		out.WriteString(replacement)
		last = sp[1]
	}
	out.WriteString(src[last:])
	return out.String()
}

// stripMatches removes every match of re from src, returning the new source
// and the removed statements.
func stripMatches(re *regexp.Regexp, src string) (string, []string) {
	var removed []string
	out := re.ReplaceAllStringFunc(src, func(m string) string {
		removed = append(removed, strings.TrimRight(m, "\n"))
		return ""
	})
	return out, removed
}
