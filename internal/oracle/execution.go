// Package oracle defines the two external judgments the recovery pipeline
// depends on: whether a payload executes in the rendering host, and how a
// model would repair one that does not.
//
// The rendering host itself lives outside this process (a browser sandbox
// talking back over the transport layer), so Execution is an interface the
// caller satisfies; GenkitRepair is the in-process repair implementation.
package oracle

import (
	"context"
	"time"

	"github.com/koopa0/canvas/internal/artifact"
)

// RenderVerdict is the outcome of one rendering attempt.
type RenderVerdict struct {
	// Success reports whether the payload executed without error.
	Success bool

	// ErrorText is the raw failure output from the host. Empty on success.
	ErrorText string

	// Elapsed is how long the attempt took.
	Elapsed time.Duration
}

// Execution evaluates an artifact in the rendering host.
type Execution interface {
	Render(ctx context.Context, a *artifact.Artifact) (*RenderVerdict, error)
}
