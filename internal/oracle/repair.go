package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/koopa0/canvas/internal/log"
	"github.com/koopa0/canvas/internal/resolve"
)

// RepairPromptName is the name of the Dotprompt file for payload repair.
// This corresponds to prompts/repair.prompt.
// NOTE: The model is configured in the Dotprompt file, not via Config.
const RepairPromptName = "repair"

// RepairConfig contains all required parameters for GenkitRepair.
type RepairConfig struct {
	Genkit *genkit.Genkit
	Logger log.Logger

	RetryConfig RetryConfig   // zero-value uses defaults
	RateLimiter *rate.Limiter // optional proactive rate limiting
}

func (cfg RepairConfig) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// GenkitRepair asks a model to rewrite a payload that every mechanical
// strategy failed on. Configuration is captured immutably at construction
// time for thread-safe concurrent use.
type GenkitRepair struct {
	retryConfig RetryConfig
	rateLimiter *rate.Limiter

	g      *genkit.Genkit
	logger log.Logger
	prompt ai.Prompt
}

// NewGenkitRepair creates the repair oracle backed by the repair Dotprompt.
func NewGenkitRepair(cfg RepairConfig) (*GenkitRepair, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("repair config: %w", err)
	}

	retryConfig := cfg.RetryConfig
	if retryConfig.MaxRetries == 0 && retryConfig.InitialInterval == 0 {
		retryConfig = DefaultRetryConfig()
	}

	r := &GenkitRepair{
		retryConfig: retryConfig,
		rateLimiter: cfg.RateLimiter,
		g:           cfg.Genkit,
		logger:      cfg.Logger,
	}
	r.prompt = genkit.LookupPrompt(r.g, RepairPromptName)
	if r.prompt == nil {
		return nil, fmt.Errorf("prompt %q not found", RepairPromptName)
	}
	return r, nil
}

// repairResponse is the JSON document the repair prompt instructs the model
// to produce.
type repairResponse struct {
	Code       string   `json:"code"`
	Confidence float64  `json:"confidence"`
	Changes    []string `json:"changes"`
}

// Repair implements resolve.Repair.
func (r *GenkitRepair) Repair(ctx context.Context, req resolve.Request) (*resolve.Outcome, error) {
	resp, err := r.executeWithRetry(ctx, []ai.PromptExecuteOption{
		ai.WithInput(map[string]any{
			"code":    req.Payload,
			"error":   req.ErrorText,
			"context": req.Context,
		}),
	})
	if err != nil {
		return nil, err
	}

	parsed, err := parseRepairResponse(resp.Text())
	if err != nil {
		r.logger.Warn("unparseable repair response", "error", err)
		return nil, err
	}

	r.logger.Info("repair produced",
		"confidence", parsed.Confidence,
		"changes", len(parsed.Changes),
	)
	return &resolve.Outcome{
		Payload:    parsed.Code,
		Confidence: parsed.Confidence,
		Changes:    parsed.Changes,
	}, nil
}

// parseRepairResponse extracts the repair document from model output. The
// prompt demands bare JSON, but models wrap it in prose or fences often
// enough that both shapes are handled.
func parseRepairResponse(text string) (*repairResponse, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, errors.New("empty repair response")
	}

	for _, candidate := range documentCandidates(trimmed) {
		var parsed repairResponse
		if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
			continue
		}
		if parsed.Code == "" {
			continue
		}
		if parsed.Confidence < 0 || parsed.Confidence > 1 {
			return nil, fmt.Errorf("confidence %v outside [0, 1]", parsed.Confidence)
		}
		return &parsed, nil
	}
	return nil, errors.New("no repair document in response")
}

// documentCandidates yields the top-level {...} runs in text, skipping
// string contents so braces inside the repaired code do not split a run.
func documentCandidates(text string) []string {
	var candidates []string
	var depth int
	var inString, escape bool
	start := -1

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
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
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
