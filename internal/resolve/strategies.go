package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Strategy confidences. Every value must clear the acceptance threshold
// (see config.Recovery) or the strategy could never qualify.
const (
	confidenceStyleModule = 0.9
	confidenceStyleInject = 0.8
	confidenceDataInline  = 0.85
	confidenceImportStrip = 0.7
)

var errNothingToRemove = errors.New("no removable import statements")

// styleModuleStrategy rewrites a styling-module import into an equivalent
// inline style-lookup object built from the styling block found in context.
// Every hyphenated declaration name becomes its camel-cased accessor form,
// keyed by selector name, so `className={styles.card}` keeps working.
type styleModuleStrategy struct{}

func (styleModuleStrategy) Name() string  { return "style-module-conversion" }
func (styleModuleStrategy) Priority() int { return PriorityStyleModule }

func (styleModuleStrategy) CanHandle(req Request) bool {
	if !styleModuleImportRe.MatchString(req.Payload) {
		return false
	}
	return parseStylesheet(req.Context) != nil
}

func (styleModuleStrategy) Apply(_ context.Context, req Request) (*Outcome, error) {
	m := styleModuleImportRe.FindStringSubmatch(req.Payload)
	if m == nil {
		return nil, errors.New("styling-module import disappeared between CanHandle and Apply")
	}
	varName, modulePath := m[1], m[2]

	ss := parseStylesheet(req.Context)
	if ss == nil {
		return nil, errors.New("no parsable styling block in context")
	}

	object := styleObject(varName, ss)
	payload := spliceMatches(styleModuleImportRe, req.Payload, object+"\n")

	return &Outcome{
		Payload:    payload,
		Confidence: confidenceStyleModule,
		Changes: []string{
			fmt.Sprintf("replaced import of %s with inline style object %s (%d selectors)",
				modulePath, varName, len(ss.selectors)),
		},
	}, nil
}

// styleInjectStrategy handles the case where no module import is involved
// but a styling block is present in context and referenced informally: the
// block is injected directly as a stylesheet constant instead of converting
// an import.
type styleInjectStrategy struct{}

func (styleInjectStrategy) Name() string  { return "style-direct-injection" }
func (styleInjectStrategy) Priority() int { return PriorityStyleInject }

func (styleInjectStrategy) CanHandle(req Request) bool {
	if styleModuleImportRe.MatchString(req.Payload) {
		return false // the module conversion owns that shape
	}
	ss := parseStylesheet(req.Context)
	if ss == nil {
		return false
	}
	return sideEffectCSSImportRe.MatchString(req.Payload) || referencesSelectors(req.Payload, ss)
}

func (styleInjectStrategy) Apply(_ context.Context, req Request) (*Outcome, error) {
	ss := parseStylesheet(req.Context)
	if ss == nil {
		return nil, errors.New("no parsable styling block in context")
	}

	var changes []string
	payload, removed := stripMatches(sideEffectCSSImportRe, req.Payload)
	for _, r := range removed {
		changes = append(changes, "removed unresolvable stylesheet import: "+r)
	}

	css := rawCSS(ss)
	sheet := "const stylesheet = `\n" + css + "`;\n" +
		"if (typeof document !== 'undefined') {\n" +
		"  const el = document.createElement('style');\n" +
		"  el.textContent = stylesheet;\n" +
		"  document.head.appendChild(el);\n" +
		"}\n"
	changes = append(changes, fmt.Sprintf("injected styling block directly (%d selectors)", len(ss.selectors)))

	return &Outcome{
		Payload:    sheet + payload,
		Confidence: confidenceStyleInject,
		Changes:    changes,
	}, nil
}

// referencesSelectors reports whether the payload mentions any class name
// defined by the styling block, e.g. className="card".
func referencesSelectors(payload string, ss *stylesheet) bool {
	for _, sel := range ss.selectors {
		name := strings.TrimLeft(sel, ".#")
		if name == "" {
			continue
		}
		if strings.Contains(payload, `"`+name+`"`) || strings.Contains(payload, `'`+name+`'`) {
			return true
		}
	}
	return false
}

// rawCSS re-renders the parsed stylesheet as plain CSS text.
func rawCSS(ss *stylesheet) string {
	var out strings.Builder
	for _, sel := range ss.selectors {
		out.WriteString(sel)
		out.WriteString(" {\n")
		for _, d := range ss.decls[sel] {
			out.WriteString("  ")
			out.WriteString(d[0])
			out.WriteString(": ")
			out.WriteString(d[1])
			out.WriteString(";\n")
		}
		out.WriteString("}\n")
	}
	return out.String()
}

// dataInlineStrategy rewrites a structured-data import into an inlined
// literal constant. The JSON bytes from the context block are inserted
// verbatim, preserving nested structure, arrays, and primitive types
// exactly.
type dataInlineStrategy struct{}

func (dataInlineStrategy) Name() string  { return "data-inlining" }
func (dataInlineStrategy) Priority() int { return PriorityDataInline }

func (dataInlineStrategy) CanHandle(req Request) bool {
	if !jsonImportRe.MatchString(req.Payload) {
		return false
	}
	return jsonBlock(req.Context) != ""
}

func (dataInlineStrategy) Apply(_ context.Context, req Request) (*Outcome, error) {
	m := jsonImportRe.FindStringSubmatch(req.Payload)
	if m == nil {
		return nil, errors.New("data import disappeared between CanHandle and Apply")
	}
	varName, modulePath := m[1], m[2]

	data := jsonBlock(req.Context)
	if data == "" {
		return nil, errors.New("no valid data block in context")
	}

	constant := "const " + varName + " = " + data + ";\n"
	payload := spliceMatches(jsonImportRe, req.Payload, constant)

	return &Outcome{
		Payload:    payload,
		Confidence: confidenceDataInline,
		Changes: []string{
			fmt.Sprintf("inlined %s as literal constant %s", modulePath, varName),
		},
	}, nil
}

// importStripStrategy is the fallback: it removes the offending relative
// import statements entirely and leaves the rest of the payload untouched.
// It always reports applicable, so it only runs when nothing higher-priority
// qualified.
type importStripStrategy struct{}

func (importStripStrategy) Name() string  { return "import-removal" }
func (importStripStrategy) Priority() int { return PriorityImportStrip }

func (importStripStrategy) CanHandle(Request) bool { return true }

func (importStripStrategy) Apply(_ context.Context, req Request) (*Outcome, error) {
	payload, removed := stripMatches(relativeImportRe, req.Payload)
	if len(removed) == 0 {
		return nil, errNothingToRemove
	}

	changes := make([]string, 0, len(removed))
	for _, r := range removed {
		changes = append(changes, "removed import: "+r)
	}
	return &Outcome{
		Payload:    payload,
		Confidence: confidenceImportStrip,
		Changes:    changes,
	}, nil
}
