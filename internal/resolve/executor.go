package resolve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/koopa0/canvas/internal/log"
)

// Repair is the escalation oracle consulted after every strategy in the
// chain has been tried without a qualifying success. Implementations live
// outside this package; see oracle.GenkitRepair.
type Repair interface {
	Repair(ctx context.Context, req Request) (*Outcome, error)
}

// Attempt records one strategy (or repair) invocation in execution order.
type Attempt struct {
	Strategy   string
	Succeeded  bool
	Confidence float64
	Reason     string
}

// Result is the outcome of one full chain execution.
type Result struct {
	Success    bool
	Payload    string
	Strategy   string
	Confidence float64
	Changes    []string
	Repaired   bool
	Attempts   []Attempt
}

// ExecutorConfig configures an Executor. Strategies and AcceptConfidence
// are required; Repair and Budget are optional.
type ExecutorConfig struct {
	Strategies []Strategy

	// AcceptConfidence is the minimum confidence an outcome must report to
	// count as a success.
	AcceptConfidence float64

	// Repair, when set, is consulted after the chain is exhausted.
	Repair Repair

	// Budget bounds one Execute call in wall-clock time. Zero means no
	// bound beyond the caller's context.
	Budget time.Duration

	Logger log.Logger
}

func (c ExecutorConfig) validate() error {
	if len(c.Strategies) == 0 {
		return errors.New("resolve: at least one strategy is required")
	}
	if c.AcceptConfidence <= 0 || c.AcceptConfidence > 1 {
		return fmt.Errorf("resolve: accept confidence %v outside (0, 1]", c.AcceptConfidence)
	}
	return nil
}

// Executor runs the strategy chain in strictly descending priority order
// and stops at the first qualifying success. A success at one priority
// means lower priorities are never consulted, even if they might have
// reported higher confidence.
type Executor struct {
	strategies []Strategy
	accept     float64
	repair     Repair
	budget     time.Duration
	logger     log.Logger
}

func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	strategies := make([]Strategy, len(cfg.Strategies))
	copy(strategies, cfg.Strategies)
	sort.SliceStable(strategies, func(i, j int) bool {
		return strategies[i].Priority() > strategies[j].Priority()
	})

	return &Executor{
		strategies: strategies,
		accept:     cfg.AcceptConfidence,
		repair:     cfg.Repair,
		budget:     cfg.Budget,
		logger:     logger,
	}, nil
}

// Execute runs the chain against one failing payload. The returned error is
// non-nil only when the context was cancelled or the budget elapsed; the
// Result then carries whatever attempts completed before the cutoff.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	if e.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.budget)
		defer cancel()
	}

	result := &Result{Payload: req.Payload}

	for _, s := range e.strategies {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !s.CanHandle(req) {
			continue
		}

		outcome, err := s.Apply(ctx, req)
		attempt := Attempt{Strategy: s.Name()}
		switch {
		case err != nil:
			attempt.Reason = err.Error()
			e.logger.Debug("strategy failed",
				"strategy", s.Name(), "error", err)
		case outcome.Confidence < e.accept:
			attempt.Confidence = outcome.Confidence
			attempt.Reason = fmt.Sprintf("confidence %.2f below acceptance %.2f",
				outcome.Confidence, e.accept)
		default:
			attempt.Succeeded = true
			attempt.Confidence = outcome.Confidence
			result.Attempts = append(result.Attempts, attempt)
			result.Success = true
			result.Payload = outcome.Payload
			result.Strategy = s.Name()
			result.Confidence = outcome.Confidence
			result.Changes = outcome.Changes
			e.logger.Info("strategy succeeded",
				"strategy", s.Name(), "confidence", outcome.Confidence)
			return result, nil
		}
		result.Attempts = append(result.Attempts, attempt)
	}

	if e.repair == nil {
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	return e.escalate(ctx, req, result)
}

const repairAttemptName = "ai-repair"

func (e *Executor) escalate(ctx context.Context, req Request, result *Result) (*Result, error) {
	e.logger.Info("strategy chain exhausted, escalating to repair",
		"attempts", len(result.Attempts))

	outcome, err := e.repair.Repair(ctx, req)
	attempt := Attempt{Strategy: repairAttemptName}
	if err != nil {
		attempt.Reason = err.Error()
		result.Attempts = append(result.Attempts, attempt)
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, nil
	}

	attempt.Confidence = outcome.Confidence
	if reason := vetRepair(outcome, e.accept); reason != "" {
		attempt.Reason = reason
		result.Attempts = append(result.Attempts, attempt)
		e.logger.Warn("repair rejected", "reason", reason)
		return result, nil
	}

	attempt.Succeeded = true
	result.Attempts = append(result.Attempts, attempt)
	result.Success = true
	result.Payload = outcome.Payload
	result.Strategy = repairAttemptName
	result.Confidence = outcome.Confidence
	result.Changes = outcome.Changes
	result.Repaired = true
	return result, nil
}

// vetRepair applies the structural sanity checks a repaired payload must
// pass before it is accepted. Returns an empty string when the payload
// qualifies.
func vetRepair(outcome *Outcome, accept float64) string {
	if strings.TrimSpace(outcome.Payload) == "" {
		return "repaired payload is empty"
	}
	if outcome.Confidence < accept {
		return fmt.Sprintf("confidence %.2f below acceptance %.2f", outcome.Confidence, accept)
	}
	if !balancedBrackets(outcome.Payload) {
		return "repaired payload has unbalanced brackets"
	}
	return ""
}
