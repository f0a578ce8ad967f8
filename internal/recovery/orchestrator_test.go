package recovery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/koopa0/canvas/internal/recovery"
	"github.com/koopa0/canvas/internal/resolve"
	"github.com/koopa0/canvas/internal/testutil"
)

// stubStrategy is a scripted resolve.Strategy for orchestration tests.
type stubStrategy struct {
	outcome *Outcome
	err     error
	calls   int
}

// Outcome aliases resolve.Outcome for brevity in test tables.
type Outcome = resolve.Outcome

func (s *stubStrategy) Name() string                   { return "stub" }
func (s *stubStrategy) Priority() int                  { return 50 }
func (s *stubStrategy) CanHandle(resolve.Request) bool { return true }

func (s *stubStrategy) Apply(context.Context, resolve.Request) (*Outcome, error) {
	s.calls++
	return s.outcome, s.err
}

// blockingStrategy waits for the context to end.
type blockingStrategy struct{}

func (blockingStrategy) Name() string                   { return "blocking" }
func (blockingStrategy) Priority() int                  { return 50 }
func (blockingStrategy) CanHandle(resolve.Request) bool { return true }

func (blockingStrategy) Apply(ctx context.Context, _ resolve.Request) (*Outcome, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newOrchestrator(t *testing.T, s resolve.Strategy, breakers *recovery.Breakers, budget time.Duration) *recovery.Orchestrator {
	t.Helper()
	exec, err := resolve.NewExecutor(resolve.ExecutorConfig{
		Strategies:       []resolve.Strategy{s},
		AcceptConfidence: 0.7,
		Budget:           budget,
	})
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	o, err := recovery.NewOrchestrator(recovery.OrchestratorConfig{Executor: exec, Breakers: breakers})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o
}

func defaultRegistry(clock recovery.Clock) *recovery.Breakers {
	return recovery.NewBreakers(recovery.BreakerConfig{
		FailureThreshold:     3,
		ResetTimeout:         30 * time.Second,
		MaxBackoffMultiplier: 4,
		Clock:                clock,
	})
}

func TestRecoverSuccess(t *testing.T) {
	t.Parallel()

	stub := &stubStrategy{outcome: &Outcome{Payload: "fixed", Confidence: 0.9}}
	breakers := defaultRegistry(testutil.NewManualClock(time.Unix(0, 0)))
	o := newOrchestrator(t, stub, breakers, 0)

	res, err := o.Recover(context.Background(), recovery.Request{
		Identifier: "chart-1",
		Payload:    "broken",
		ErrorText:  "boom",
	})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !res.Success || res.Payload != "fixed" || res.Confidence != 0.9 {
		t.Fatalf("result = %+v", res)
	}
	if res.BreakerState != recovery.BreakerClosed {
		t.Fatalf("breaker = %v", res.BreakerState)
	}
	if len(res.Attempts) != 1 {
		t.Fatalf("attempts = %+v", res.Attempts)
	}
}

func TestRecoverFailureHasEmptyPayload(t *testing.T) {
	t.Parallel()

	stub := &stubStrategy{err: errors.New("cannot fix")}
	breakers := defaultRegistry(testutil.NewManualClock(time.Unix(0, 0)))
	o := newOrchestrator(t, stub, breakers, 0)

	res, err := o.Recover(context.Background(), recovery.Request{Identifier: "chart-1", Payload: "broken"})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if res.Success || res.Payload != "" {
		t.Fatalf("result = %+v", res)
	}
}

func TestRecoverOpensBreakerAndShortCircuits(t *testing.T) {
	t.Parallel()

	stub := &stubStrategy{err: errors.New("cannot fix")}
	breakers := defaultRegistry(testutil.NewManualClock(time.Unix(0, 0)))
	o := newOrchestrator(t, stub, breakers, 0)

	req := recovery.Request{Identifier: "chart-1", Payload: "broken"}

	// Each call counts as exactly one attempt against the breaker.
	for i := 0; i < 3; i++ {
		res, err := o.Recover(context.Background(), req)
		if err != nil {
			t.Fatalf("Recover %d: %v", i, err)
		}
		if res.Disabled {
			t.Fatalf("disabled verdict at attempt %d", i)
		}
	}
	if stub.calls != 3 {
		t.Fatalf("executor ran %d times", stub.calls)
	}

	res, err := o.Recover(context.Background(), req)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !res.Disabled || res.Success {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Attempts) != 0 {
		t.Fatal("disabled verdict must carry zero attempts")
	}
	if res.BreakerState != recovery.BreakerOpen {
		t.Fatalf("breaker = %v", res.BreakerState)
	}
	if stub.calls != 3 {
		t.Fatal("executor ran despite an open breaker")
	}

	// Other identities are unaffected.
	other, err := o.Recover(context.Background(), recovery.Request{Identifier: "table-2", Payload: "broken"})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if other.Disabled {
		t.Fatal("open breaker for one identity blocked another")
	}
}

func TestRecoverProbeAfterResetTimeout(t *testing.T) {
	t.Parallel()

	stub := &stubStrategy{err: errors.New("cannot fix")}
	clock := testutil.NewManualClock(time.Unix(0, 0))
	breakers := defaultRegistry(clock)
	o := newOrchestrator(t, stub, breakers, 0)

	req := recovery.Request{Identifier: "chart-1", Payload: "broken"}
	for i := 0; i < 3; i++ {
		if _, err := o.Recover(context.Background(), req); err != nil {
			t.Fatal(err)
		}
	}

	clock.Advance(31 * time.Second)
	stub.err = nil
	stub.outcome = &Outcome{Payload: "fixed", Confidence: 0.9}

	res, err := o.Recover(context.Background(), req)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !res.Success || res.BreakerState != recovery.BreakerClosed {
		t.Fatalf("result = %+v", res)
	}
}

func TestRecoverCancellationLeavesBreakerIntact(t *testing.T) {
	t.Parallel()

	clock := testutil.NewManualClock(time.Unix(0, 0))
	breakers := defaultRegistry(clock)
	o := newOrchestrator(t, blockingStrategy{}, breakers, 0)

	req := recovery.Request{Identifier: "chart-1", Payload: "broken"}

	// Drive the breaker open, then into a half-open probe that gets
	// cancelled mid-flight.
	b := breakers.Get(req.Identifier)
	for i := 0; i < 3; i++ {
		b.Failure()
	}
	clock.Advance(31 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := o.Recover(ctx, req)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !res.Cancelled || res.Success {
		t.Fatalf("result = %+v", res)
	}

	// The probe slot went back: a later caller can still probe, and a
	// successful probe closes the breaker. Cancellation corrupted nothing.
	o2 := newOrchestrator(t, &stubStrategy{
		outcome: &Outcome{Payload: "fixed", Confidence: 0.9},
	}, breakers, 0)
	res, err = o2.Recover(context.Background(), req)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !res.Success || res.BreakerState != recovery.BreakerClosed {
		t.Fatalf("result = %+v", res)
	}
}

func TestRecoverBudgetOverrunCountsAsFailure(t *testing.T) {
	t.Parallel()

	breakers := recovery.NewBreakers(recovery.BreakerConfig{
		FailureThreshold: 1,
		Clock:            testutil.NewManualClock(time.Unix(0, 0)),
	})
	o := newOrchestrator(t, blockingStrategy{}, breakers, 5*time.Millisecond)

	res, err := o.Recover(context.Background(), recovery.Request{Identifier: "chart-1", Payload: "broken"})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if res.Success || res.Cancelled {
		t.Fatalf("result = %+v", res)
	}
	if res.BreakerState != recovery.BreakerOpen {
		t.Fatalf("breaker = %v after budget overrun", res.BreakerState)
	}
}

func TestRecoverRequiresIdentifier(t *testing.T) {
	t.Parallel()

	breakers := defaultRegistry(testutil.NewManualClock(time.Unix(0, 0)))
	o := newOrchestrator(t, &stubStrategy{}, breakers, 0)

	if _, err := o.Recover(context.Background(), recovery.Request{Payload: "x"}); err == nil {
		t.Fatal("accepted a request without an identifier")
	}
}
