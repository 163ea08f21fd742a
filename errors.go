package main

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Failure kinds returned by Summarize. Match them with errors.Is.
var (
	ErrNotFound              = errors.New("metadata not found")
	ErrSSRFBlocked           = errors.New("access to non-routable address is denied")
	ErrTimeout               = errors.New("timeout exceeded")
	ErrContentLengthExceeded = errors.New("content length exceeds limit")
	ErrContentLengthMissing  = errors.New("content length required but not provided")
	ErrTransport             = errors.New("transport error")
	ErrParse                 = errors.New("parse error")
)

// classifyError maps a client error onto the failure kinds above
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrSSRFBlocked) || errors.Is(err, ErrTimeout) {
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	if errors.Is(err, ErrContentLengthExceeded) ||
		errors.Is(err, ErrContentLengthMissing) ||
		errors.Is(err, ErrTransport) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrTransport, err)
}
