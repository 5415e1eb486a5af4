package branch

import (
	"fmt"

	"github.com/pkg/errors"
)

// BranchError is a deterministic domain failure (missing origin, cross-session
// reference, invalid merge target). Never retried automatically.
type BranchError struct {
	Reason string
}

func (e *BranchError) Error() string {
	return e.Reason
}

func NewBranchError(format string, args ...interface{}) *BranchError {
	return &BranchError{Reason: fmt.Sprintf(format, args...)}
}

// IsBranchError reports whether err is a deterministic branch failure.
func IsBranchError(err error) bool {
	var be *BranchError
	return errors.As(err, &be)
}
