package icp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var (
	// ErrAuthRejected means the auth endpoint answered but refused to
	// issue a token.
	ErrAuthRejected = errors.New("icp: auth rejected")

	// ErrMalformedChallenge means the challenge response was missing one
	// of its required fields (images, uuid, secret key).
	ErrMalformedChallenge = errors.New("icp: malformed challenge response")

	// ErrVerificationRejected means the server did not accept the
	// submitted solution. A fresh challenge may still succeed.
	ErrVerificationRejected = errors.New("icp: captcha verification rejected")

	// ErrQueryRejected means the registry query itself came back with a
	// logical failure after a successful verification.
	ErrQueryRejected = errors.New("icp: query rejected")
)

// StatusError is a non-200 HTTP response from any protocol endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("icp: unexpected http status %d", e.Code)
}

// Retryable reports whether another attempt can plausibly succeed.
// Client errors mean the request itself is wrong; repeating it is noise
// the target may rate-limit on.
func (e *StatusError) Retryable() bool {
	switch e.Code {
	case 400, 401, 403, 404:
		return false
	}
	return true
}

// retryable reports whether the attempt loop should run again after err.
// Per-request timeouts stay retryable; they also match
// context.DeadlineExceeded since Go 1.16, so the caller's own deadline is
// detected through ctx.Err() in the loop, not here.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return !errors.Is(err, context.Canceled)
}

// retryDelay picks the backoff before the next attempt. Timeouts and
// transport errors get a longer pause so a congested path can drain.
func retryDelay(err error) time.Duration {
	var ne net.Error
	if errors.As(err, &ne) {
		return 2 * time.Second
	}
	return time.Second
}
