package verifier

import (
	"errors"
	"fmt"
)

// ErrMalformedOutput is returned when a backend answers with something that is
// not a usable draft verdict
var ErrMalformedOutput = errors.New("malformed verification output")

// BackendError is a transient failure of a verification backend. The rule is
// reported FAILED and may be retried.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("verification backend %s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// CitationIntegrityError describes a citation whose quote is not a verbatim
// substring of any supplied candidate
type CitationIntegrityError struct {
	RuleID  string
	ChunkID string
	Quote   string
}

func (e *CitationIntegrityError) Error() string {
	return fmt.Sprintf("rule %s: quote %q is not a substring of chunk %s", e.RuleID, excerpt(e.Quote, 60), e.ChunkID)
}

// IsRetryable reports whether err comes from a transient backend failure
func IsRetryable(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}
