package resolve

import (
	"encoding/json"
	"strings"

	"github.com/aymerick/douceur/parser"
)

// Styling and data blocks travel in the message context either as fenced
// code sections or as raw text the model emitted alongside the payload.
// These helpers locate and parse them.

// fencedBlocks returns the contents of all ```lang fences in text. An empty
// lang matches any fence.
func fencedBlocks(text, lang string) []string {
	var blocks []string
	rest := text
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			return blocks
		}
		rest = rest[start+3:]

		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			return blocks
		}
		info := strings.ToLower(strings.TrimSpace(rest[:nl]))
		rest = rest[nl+1:]

		end := strings.Index(rest, "```")
		if end < 0 {
			return blocks
		}
		if lang == "" || info == lang {
			blocks = append(blocks, rest[:end])
		}
		rest = rest[end+3:]
	}
}

// stylesheet is a parsed styling block: selector -> declarations in source
// order.
type stylesheet struct {
	selectors []string
	decls     map[string][][2]string // selector -> [property, value]
}

// parseStylesheet extracts a styling block from context text. Fenced css
// sections are tried first, then any brace-balanced rule runs in the raw
// text. Returns nil when no parsable rules are found.
func parseStylesheet(context string) *stylesheet {
	candidates := fencedBlocks(context, "css")
	if len(candidates) == 0 {
		if run := cssRuleRuns(context); run != "" {
			candidates = []string{run}
		}
	}

	for _, src := range candidates {
		ss, err := parser.Parse(src)
		if err != nil || len(ss.Rules) == 0 {
			continue
		}
		out := &stylesheet{decls: make(map[string][][2]string)}
		for _, rule := range ss.Rules {
			for _, sel := range rule.Selectors {
				name := strings.TrimSpace(sel)
				if _, seen := out.decls[name]; !seen {
					out.selectors = append(out.selectors, name)
				}
				for _, d := range rule.Declarations {
					out.decls[name] = append(out.decls[name], [2]string{d.Property, d.Value})
				}
			}
		}
		if len(out.selectors) > 0 {
			return out
		}
	}
	return nil
}

// cssRuleRuns pulls `selector { declarations }` shaped runs out of free
// text so an unfenced styling block still parses. Braces inside strings are
// not expected in CSS emitted by a model; a simple depth counter suffices.
func cssRuleRuns(text string) string {
	var out strings.Builder
	i := 0
	for i < len(text) {
		open := strings.IndexByte(text[i:], '{')
		if open < 0 {
			break
		}
		open += i

		// Selector: walk back to the previous newline or closing brace.
		selStart := strings.LastIndexAny(text[:open], "\n}") + 1
		selector := strings.TrimSpace(text[selStart:open])
		if selector == "" || strings.ContainsAny(selector, "<>=()") {
			i = open + 1
			continue
		}

		depth := 0
		end := -1
		for j := open; j < len(text); j++ {
			switch text[j] {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					end = j
				}
			}
			if end >= 0 {
				break
			}
		}
		if end < 0 {
			break
		}
		out.WriteString(selector)
		out.WriteString(" ")
		out.WriteString(text[open : end+1])
		out.WriteString("\n")
		i = end + 1
	}
	return out.String()
}

// jsonBlock extracts a structured-data block from context text: the first
// fenced json section, or the first raw top-level JSON value, that passes
// json.Valid. The raw bytes are returned untouched so inlining preserves
// nested structure, arrays, and primitive types exactly.
func jsonBlock(context string) string {
	for _, b := range fencedBlocks(context, "json") {
		trimmed := strings.TrimSpace(b)
		if json.Valid([]byte(trimmed)) {
			return trimmed
		}
	}
	for _, candidate := range jsonCandidates(context) {
		if json.Valid([]byte(candidate)) {
			return candidate
		}
	}
	return ""
}

// jsonCandidates scans text for top-level {...} or [...] runs using a
// byte-level depth counter that skips string contents. ASCII delimiters are
// safe to match bytewise in UTF-8 text.
func jsonCandidates(text string) []string {
	var candidates []string
	var depth, start int
	var inString, escape bool
	start = -1

	for i := 0; i < len(text); i++ {
		b := text[i]
		if escape {
			escape = false
			continue
		}
		if inString {
			switch b {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{', '[':
			if depth == 0 {
				start = i
			}
			depth++
		case '}', ']':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidates = append(candidates, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return candidates
}

// camelCase converts a hyphenated CSS property name to its JavaScript
// accessor form: background-color -> backgroundColor, -webkit-box ->
// WebkitBox.
func camelCase(property string) string {
	parts := strings.Split(property, "-")
	var out strings.Builder
	first := !strings.HasPrefix(property, "-")
	for _, p := range parts {
		if p == "" {
			continue
		}
		if first {
			out.WriteString(p)
			first = false
			continue
		}
		out.WriteString(strings.ToUpper(p[:1]))
		out.WriteString(p[1:])
	}
	return out.String()
}

// styleKey reduces a CSS selector to a lookup-object key: leading class or
// id punctuation is stripped and non-identifier characters are camel-joined,
// so ".card" -> "card" and ".card-header" -> "cardHeader".
func styleKey(selector string) string {
	s := strings.TrimLeft(selector, ".#")
	return camelCase(s)
}

// jsString single-quotes a CSS value for emission inside a style object.
func jsString(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// styleObject renders the stylesheet as an inline JavaScript style-lookup
// object keyed by selector name, with every hyphenated declaration name in
// camel-cased accessor form.
func styleObject(varName string, ss *stylesheet) string {
	var out strings.Builder
	out.WriteString("const ")
	out.WriteString(varName)
	out.WriteString(" = {\n")
	for _, sel := range ss.selectors {
		out.WriteString("  ")
		out.WriteString(styleKey(sel))
		out.WriteString(": {\n")
		for _, d := range ss.decls[sel] {
			out.WriteString("    ")
			out.WriteString(camelCase(d[0]))
			out.WriteString(": ")
			out.WriteString(jsString(d[1]))
			out.WriteString(",\n")
		}
		out.WriteString("  },\n")
	}
	out.WriteString("};")
	return out.String()
}
