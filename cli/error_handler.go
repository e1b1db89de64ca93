package cli

import (
	"fmt"
	"io"

	"github.com/grovetools/memory/errors"
)

// ErrorHandler prints user-facing messages for structured errors.
type ErrorHandler struct {
	Verbose bool
	Out     io.Writer
}

// NewErrorHandler creates a new error handler writing to out.
func NewErrorHandler(verbose bool, out io.Writer) *ErrorHandler {
	return &ErrorHandler{Verbose: verbose, Out: out}
}

// Handle prints err with a hint for the codes a user can act on and returns it.
func (h *ErrorHandler) Handle(err error) error {
	if err == nil {
		return nil
	}
	memErr, structured := errors.As(err)

	switch errors.GetCode(err) {
	case errors.ErrCodeConfigNotFound:
		fmt.Fprintf(h.Out, "Error: configuration file not found: %v\n", memErr.Details["path"])
	case errors.ErrCodeConfigInvalid:
		fmt.Fprintf(h.Out, "Error: %s\nRun 'grove-memory schema config' to see the accepted keys.\n", memErr.Message)
	case errors.ErrCodeLockTimeout:
		fmt.Fprintf(h.Out, "Error: %s\nAnother memory process is holding the lock; retry, or remove a lock file left by a crashed process.\n", memErr.Message)
	case errors.ErrCodeThreadNotFound:
		fmt.Fprintf(h.Out, "Error: %s\nRun 'grove-memory threads list' to see thread ids.\n", memErr.Message)
	case errors.ErrCodeRemoteUnavailable, errors.ErrCodeRemoteRequest:
		fmt.Fprintf(h.Out, "Error: %s\nCheck remote.url and remote.api_key, or run without a remote.\n", memErr.Message)
	default:
		fmt.Fprintf(h.Out, "Error: %v\n", err)
	}

	if h.Verbose && structured {
		fmt.Fprintf(h.Out, "\nError details:\n%s\n", memErr.ToJSON())
	}
	return err
}
