package relay

import (
	"errors"
	"fmt"

	"github.com/sdrelay/sdrelay/core/protocol/wire"
)

var (
	// ErrUnknownOperation indicates the operation name is not in the
	// endpoint registry. Permanent; the caller must fix the request.
	ErrUnknownOperation = errors.New("unknown_operation")
	// ErrReadinessTimeout indicates the upstream never answered the health
	// probe within the wait budget. Transient; a later invocation may succeed.
	ErrReadinessTimeout = errors.New("readiness_timeout")
	// ErrConnection indicates the upstream was unreachable or died mid-request.
	ErrConnection = errors.New("upstream unreachable")
	// ErrConnRefused is the pre-acceptance subset of ErrConnection: the
	// request was never handed to the upstream, so a retry cannot duplicate work.
	ErrConnRefused = fmt.Errorf("%w: connection refused", ErrConnection)
	// ErrBadUpstreamResponse indicates a 2xx response whose body violates the
	// upstream contract. Logged distinctly as a system integrity error.
	ErrBadUpstreamResponse = errors.New("bad_upstream_response")
)

// Failure carries an error-kind classification through the controller so any
// component can fail a job with a fully specified outcome.
type Failure struct {
	Kind           string
	Message        string
	UpstreamStatus int
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	if f.UpstreamStatus > 0 {
		return fmt.Sprintf("%s (status %d): %s", f.Kind, f.UpstreamStatus, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// failureFor maps an error from any phase to the wire error taxonomy.
func failureFor(err error) *wire.ErrorInfo {
	var f *Failure
	if errors.As(err, &f) {
		return &wire.ErrorInfo{Kind: f.Kind, Message: f.Message, UpstreamStatus: f.UpstreamStatus}
	}
	switch {
	case errors.Is(err, ErrUnknownOperation):
		return &wire.ErrorInfo{Kind: wire.KindUnknownOperation, Message: err.Error()}
	case errors.Is(err, ErrReadinessTimeout):
		return &wire.ErrorInfo{Kind: wire.KindReadinessTimeout, Message: err.Error()}
	case errors.Is(err, ErrConnection):
		return &wire.ErrorInfo{Kind: wire.KindConnectionError, Message: err.Error()}
	case errors.Is(err, ErrBadUpstreamResponse):
		return &wire.ErrorInfo{Kind: wire.KindBadUpstreamResponse, Message: err.Error()}
	default:
		return &wire.ErrorInfo{Kind: wire.KindInternal, Message: err.Error()}
	}
}
