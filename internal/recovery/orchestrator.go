package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/canvas/internal/log"
	"github.com/koopa0/canvas/internal/resolve"
)

// Request asks for one recovery attempt on a failing artifact payload.
type Request struct {
	// Identifier is the artifact identity the breaker is keyed by.
	Identifier string

	// Payload is the source that failed to execute.
	Payload string

	// ErrorText is the raw failure output from the rendering host.
	ErrorText string

	// Context is the surrounding message text.
	Context string

	// MessageID is the message the artifact came from.
	MessageID uuid.UUID
}

// Result is the verdict of one Recover call.
//
// Success implies Payload is the corrected source and Confidence cleared
// the acceptance threshold; on failure Payload is empty. Disabled results
// carry zero attempts: the breaker refused before any strategy ran.
type Result struct {
	Success    bool
	Strategy   string
	Confidence float64
	Payload    string
	Attempts   []resolve.Attempt

	// Disabled reports that the breaker short-circuited the call.
	Disabled bool

	// Cancelled reports that the caller's context ended the attempt before
	// an outcome; the breaker was left untouched.
	Cancelled bool

	BreakerState BreakerState
	Elapsed      time.Duration
}

// OrchestratorConfig contains all required parameters for Orchestrator.
type OrchestratorConfig struct {
	Executor *resolve.Executor
	Breakers *Breakers
	Logger   log.Logger
}

func (cfg OrchestratorConfig) validate() error {
	if cfg.Executor == nil {
		return errors.New("executor is required")
	}
	if cfg.Breakers == nil {
		return errors.New("breaker registry is required")
	}
	return nil
}

// Orchestrator is the single entry point for recovery. Each Recover call
// counts as exactly one attempt against the identity's breaker; callers
// must not call it speculatively.
type Orchestrator struct {
	executor *resolve.Executor
	breakers *Breakers
	logger   log.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("orchestrator config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Orchestrator{
		executor: cfg.Executor,
		breakers: cfg.Breakers,
		logger:   logger,
	}, nil
}

// Recover runs the strategy chain for one failing payload, gated by the
// identity's breaker. A cancelled attempt feeds nothing back into the
// breaker; a budget overrun counts as a failure.
func (o *Orchestrator) Recover(ctx context.Context, req Request) (*Result, error) {
	if req.Identifier == "" {
		return nil, errors.New("recovery request needs an artifact identifier")
	}
	start := time.Now()

	breaker := o.breakers.Get(req.Identifier)
	if err := breaker.Allow(); err != nil {
		o.logger.Warn("recovery disabled",
			"identifier", req.Identifier,
			"state", breaker.State().String(),
		)
		return &Result{
			Disabled:     true,
			BreakerState: breaker.State(),
			Elapsed:      time.Since(start),
		}, nil
	}

	res, err := o.executor.Execute(ctx, resolve.Request{
		Payload:   req.Payload,
		ErrorText: req.ErrorText,
		Context:   req.Context,
	})

	if err != nil {
		if errors.Is(err, context.Canceled) {
			breaker.Release()
			o.logger.Debug("recovery cancelled",
				"identifier", req.Identifier,
				"attempts", len(res.Attempts),
			)
			return &Result{
				Cancelled:    true,
				Attempts:     res.Attempts,
				BreakerState: breaker.State(),
				Elapsed:      time.Since(start),
			}, nil
		}
		// Budget overrun is a strategy failure, not a hang.
		breaker.Failure()
		o.logger.Warn("recovery budget exceeded",
			"identifier", req.Identifier,
			"elapsed", time.Since(start),
		)
		return &Result{
			Attempts:     res.Attempts,
			BreakerState: breaker.State(),
			Elapsed:      time.Since(start),
		}, nil
	}

	out := &Result{
		Success:  res.Success,
		Attempts: res.Attempts,
		Elapsed:  time.Since(start),
	}
	if res.Success {
		breaker.Success()
		out.Strategy = res.Strategy
		out.Confidence = res.Confidence
		out.Payload = res.Payload
		o.logger.Info("recovery succeeded",
			"identifier", req.Identifier,
			"strategy", res.Strategy,
			"confidence", res.Confidence,
		)
	} else {
		breaker.Failure()
		o.logger.Info("recovery failed",
			"identifier", req.Identifier,
			"attempts", len(res.Attempts),
		)
	}
	out.BreakerState = breaker.State()
	return out, nil
}
