package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/canvas/internal/artifact"
	"github.com/koopa0/canvas/internal/oracle"
	"github.com/koopa0/canvas/internal/recovery"
	"github.com/koopa0/canvas/internal/resolve"
	"github.com/koopa0/canvas/internal/testutil"
)

func newTestTracker(t *testing.T, exec oracle.Execution, maxTracked int) *Tracker {
	t.Helper()

	executor, err := resolve.NewExecutor(resolve.ExecutorConfig{
		Strategies:       resolve.DefaultStrategies(),
		AcceptConfidence: 0.7,
	})
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	orch, err := recovery.NewOrchestrator(recovery.OrchestratorConfig{
		Executor: executor,
		Breakers: recovery.NewBreakers(recovery.BreakerConfig{
			Clock: testutil.NewManualClock(time.Unix(0, 0)),
		}),
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	tracker, err := NewTracker(Config{
		Execution:    exec,
		Orchestrator: orch,
		MaxTracked:   maxTracked,
	})
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return tracker
}

func block(identifier, path, payload string) string {
	return `<artifact identifier="` + identifier + `" kind="component" title="` + identifier + `">
<file path="` + path + `">` + payload + `</file>
</artifact>`
}

func feedMessage(t *testing.T, tr *Tracker, text string) []*artifact.Artifact {
	t.Helper()
	tr.StartMessage(uuid.New())
	// Feed in small chunks the way a model streams.
	for i := 0; i < len(text); i += 7 {
		end := min(i+7, len(text))
		tr.FeedChunk(text[i:end])
	}
	return tr.FinishMessage()
}

func TestTrackerLifecycleEvents(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, &testutil.ScriptedExecution{}, 0)

	var kinds []string
	tr.Subscribe(func(ev Event) {
		kinds = append(kinds, ev.Kind)
	})

	closed := feedMessage(t, tr, "Here you go:\n"+block("card-demo", "Card.jsx", "export default () => null;")+"\nEnjoy!")
	if len(closed) != 1 || closed[0].Identifier != "card-demo" {
		t.Fatalf("closed = %+v", closed)
	}

	if kinds[0] != EventOpened {
		t.Fatalf("first event = %q", kinds[0])
	}
	if kinds[len(kinds)-1] != EventClosed {
		t.Fatalf("last event = %q", kinds[len(kinds)-1])
	}
	var progress int
	for _, k := range kinds {
		if k == EventProgress {
			progress++
		}
	}
	if progress == 0 {
		t.Fatal("no progress events during streaming")
	}

	a, err := tr.Artifact("card-demo")
	if err != nil {
		t.Fatalf("Artifact: %v", err)
	}
	if a.Payload() != "export default () => null;" {
		t.Fatalf("payload = %q", a.Payload())
	}
	if tr.Tracked() != 1 {
		t.Fatalf("Tracked = %d", tr.Tracked())
	}
}

func TestTrackerInProgressVisibility(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, &testutil.ScriptedExecution{}, 0)
	tr.StartMessage(uuid.New())
	tr.FeedChunk(`<artifact identifier="slow" kind="component" title="Slow">` + "\n" + `<file path="a.jsx">still stre`)

	if _, err := tr.Artifact("slow"); !errors.Is(err, ErrInProgress) {
		t.Fatalf("err = %v", err)
	}

	// The stream ends without closing the block: the slot goes away.
	tr.FinishMessage()
	if _, err := tr.Artifact("slow"); !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestTrackerTruncatedReopenKeepsCompletedRevision(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, &testutil.ScriptedExecution{}, 0)

	feedMessage(t, tr, block("card-demo", "Card.jsx", "export default () => null;"))

	// A later message reopens the same identity but never closes the block.
	tr.StartMessage(uuid.New())
	tr.FeedChunk(`<artifact identifier="card-demo" kind="component" title="Card v2">` + "\n" + `<file path="Card.jsx">const v2 =`)
	if _, err := tr.Artifact("card-demo"); err != nil {
		t.Fatalf("Artifact during reopen: %v", err)
	}
	tr.FinishMessage()

	a, err := tr.Artifact("card-demo")
	if err != nil {
		t.Fatalf("Artifact after truncated reopen: %v", err)
	}
	if a.Payload() != "export default () => null;" {
		t.Fatalf("payload = %q, want the completed revision", a.Payload())
	}

	// A malformed reopen (closes without a file entry) keeps it too.
	feedMessage(t, tr, `<artifact identifier="card-demo" kind="component" title="Card v3">
</artifact>`)
	a, err = tr.Artifact("card-demo")
	if err != nil {
		t.Fatalf("Artifact after malformed reopen: %v", err)
	}
	if a.Payload() != "export default () => null;" {
		t.Fatalf("payload = %q after malformed reopen", a.Payload())
	}
	if tr.Tracked() != 1 {
		t.Fatalf("Tracked = %d", tr.Tracked())
	}
}

func TestTrackerEvictsOldestCompleted(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, &testutil.ScriptedExecution{}, 2)

	text := block("first", "a.jsx", "export default () => 1;") + "\n" +
		block("second", "b.jsx", "export default () => 2;") + "\n" +
		block("third", "c.jsx", "export default () => 3;")
	feedMessage(t, tr, text)

	if tr.Tracked() != 2 {
		t.Fatalf("Tracked = %d", tr.Tracked())
	}
	if _, err := tr.Artifact("first"); !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("oldest artifact survived: %v", err)
	}
	for _, id := range []string{"second", "third"} {
		if _, err := tr.Artifact(id); err != nil {
			t.Fatalf("Artifact(%s): %v", id, err)
		}
	}
}

func TestTrackerRenderSuccess(t *testing.T) {
	t.Parallel()

	exec := &testutil.ScriptedExecution{}
	tr := newTestTracker(t, exec, 0)
	feedMessage(t, tr, block("ok", "a.jsx", "export default () => null;"))

	report, err := tr.RenderAndRecover(context.Background(), "ok")
	if err != nil {
		t.Fatalf("RenderAndRecover: %v", err)
	}
	if !report.Rendered || report.Recovery != nil {
		t.Fatalf("report = %+v", report)
	}
	if exec.Calls() != 1 {
		t.Fatalf("render calls = %d", exec.Calls())
	}
}

func TestTrackerRenderAndRecover(t *testing.T) {
	t.Parallel()

	payload := `import styles from './Card.module.css';

export default function Card() {
  return <div className={styles.card}>hi</div>;
}
`
	text := "Here is the card:\n" + block("card", "Card.jsx", payload) +
		"\nAnd its styles:\n```css\n.card {\n  background-color: blue;\n}\n```\n"

	exec := &testutil.ScriptedExecution{
		Verdicts: []*oracle.RenderVerdict{
			{Success: false, ErrorText: "Failed to resolve module specifier './Card.module.css'"},
		},
	}
	tr := newTestTracker(t, exec, 0)
	feedMessage(t, tr, text)

	report, err := tr.RenderAndRecover(context.Background(), "card")
	if err != nil {
		t.Fatalf("RenderAndRecover: %v", err)
	}
	if !report.Rendered {
		t.Fatalf("report = %+v", report)
	}
	if report.Recovery == nil || !report.Recovery.Success {
		t.Fatalf("recovery = %+v", report.Recovery)
	}
	if report.Recovery.Strategy != "style-module-conversion" {
		t.Fatalf("strategy = %q", report.Recovery.Strategy)
	}
	if strings.Contains(report.Artifact.Payload(), ".module.css") {
		t.Fatalf("corrected payload still imports styles:\n%s", report.Artifact.Payload())
	}

	// The corrected payload is the new tracked revision.
	a, err := tr.Artifact("card")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(a.Payload(), "backgroundColor: 'blue'") {
		t.Fatalf("tracked payload not updated:\n%s", a.Payload())
	}
}

func TestTrackerRecoveryFailureKeepsPayload(t *testing.T) {
	t.Parallel()

	payload := "export default () => null;"
	exec := &testutil.ScriptedExecution{
		Verdicts: []*oracle.RenderVerdict{
			{Success: false, ErrorText: "SyntaxError: something unfixable"},
		},
	}
	tr := newTestTracker(t, exec, 0)
	feedMessage(t, tr, block("stuck", "a.jsx", payload))

	report, err := tr.RenderAndRecover(context.Background(), "stuck")
	if err != nil {
		t.Fatalf("RenderAndRecover: %v", err)
	}
	if report.Rendered || report.Recovery.Success {
		t.Fatalf("report = %+v", report)
	}

	a, err := tr.Artifact("stuck")
	if err != nil {
		t.Fatal(err)
	}
	if a.Payload() != payload {
		t.Fatalf("failed recovery mutated the payload: %q", a.Payload())
	}
}

func TestTrackerUnknownArtifact(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, &testutil.ScriptedExecution{}, 0)
	if _, err := tr.RenderAndRecover(context.Background(), "ghost"); !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestTrackerConfigValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewTracker(Config{}); err == nil {
		t.Fatal("accepted empty config")
	}
}
