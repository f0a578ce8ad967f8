package artifact

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingIdentifier indicates the block carried no identifier attribute.
	ErrMissingIdentifier = errors.New("missing identifier")

	// ErrMissingKind indicates the block carried no kind attribute.
	ErrMissingKind = errors.New("missing kind")

	// ErrMissingTitle indicates the block carried no title attribute.
	ErrMissingTitle = errors.New("missing title")

	// ErrNoFiles indicates the block closed without any file section.
	ErrNoFiles = errors.New("no file sections")

	// ErrNotFound indicates the requested artifact does not exist.
	ErrNotFound = errors.New("artifact not found")
)

// Validate reports every reason the artifact is not a well-formed value.
// Returns nil when the artifact satisfies the assembly contract.
func (a *Artifact) Validate() error {
	var errs []error
	if a.Identifier == "" {
		errs = append(errs, ErrMissingIdentifier)
	}
	if a.Kind == "" {
		errs = append(errs, ErrMissingKind)
	}
	if a.Title == "" {
		errs = append(errs, ErrMissingTitle)
	}
	if len(a.Files) == 0 {
		errs = append(errs, ErrNoFiles)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid artifact %q: %w", a.Identifier, errors.Join(errs...))
}
