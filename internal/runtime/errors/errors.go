package errors

import (
	sterrors "errors"
	"fmt"
	"time"
)

var (
	ErrKeyRequired               = sterrors.New("replybridge: correlation key is required")
	ErrCorrelationTimeout        = sterrors.New("replybridge: correlation timeout")
	ErrReplyAddressMissing       = sterrors.New("replybridge: reply address missing")
	ErrReplyAddressRequired      = sterrors.New("replybridge: inbound message carries no reply address")
	ErrCorrelationKeyNotFound    = sterrors.New("replybridge: correlation key not found")
	ErrCorrelationKeyUnavailable = sterrors.New("replybridge: correlation key unavailable")
	ErrSubscriptionStart         = sterrors.New("replybridge: subscription failed to start")
	ErrSubscriptionStopTimeout   = sterrors.New("replybridge: subscription stop timed out")
	ErrSubscriptionClosed        = sterrors.New("replybridge: subscription closed")
	ErrAlreadyStarted            = sterrors.New("replybridge: already started")
	ErrNotStarted                = sterrors.New("replybridge: not started")
	ErrBufferClosed              = sterrors.New("replybridge: buffer closed")
	ErrReceiveTimeout            = sterrors.New("replybridge: receive timeout")
	ErrPublisherRequired         = sterrors.New("replybridge: publisher is required")
	ErrSubscriberRequired        = sterrors.New("replybridge: subscriber is required")
	ErrTopicRequired             = sterrors.New("replybridge: topic is required")
	ErrConfigRequired            = sterrors.New("replybridge: configuration is required")
	ErrLoggerRequired            = sterrors.New("replybridge: logger is required")
	ErrServiceRequired           = sterrors.New("replybridge: service is required")
	ErrResponderRequired         = sterrors.New("replybridge: responder function is required")
	ErrResponderNameRequired     = sterrors.New("replybridge: responder name is required")
	ErrRequestTypeRequired       = sterrors.New("replybridge: request message type is required")
	ErrRequestPointerNeeded      = sterrors.New("replybridge: request message type must be a pointer")
)

// CorrelationTimeoutError is returned when a waiter's deadline elapses before
// a value was stored under Key. It is never retried internally.
type CorrelationTimeoutError struct {
	Key     string
	Timeout time.Duration
	Elapsed time.Duration
	// Destination optionally names where the reply was expected.
	Destination string
}

func (e *CorrelationTimeoutError) Error() string {
	if e.Destination != "" {
		return fmt.Sprintf("replybridge: no reply for correlation key %q on %q after %s (timeout %s)",
			e.Key, e.Destination, e.Elapsed, e.Timeout)
	}
	return fmt.Sprintf("replybridge: no reply for correlation key %q after %s (timeout %s)",
		e.Key, e.Elapsed, e.Timeout)
}

func (e *CorrelationTimeoutError) Is(target error) bool {
	return target == ErrCorrelationTimeout
}

// ReplyAddressMissingError signals a protocol violation: the peer never
// supplied a reply address for Key, or it was already consumed.
type ReplyAddressMissingError struct {
	Key string
}

func (e *ReplyAddressMissingError) Error() string {
	return fmt.Sprintf("replybridge: no reply address for correlation key %q", e.Key)
}

func (e *ReplyAddressMissingError) Is(target error) bool {
	return target == ErrReplyAddressMissing
}

// SubscriptionStartError completes a failed adapter start.
type SubscriptionStartError struct {
	Topic string
	Err   error
}

func (e *SubscriptionStartError) Error() string {
	return fmt.Sprintf("replybridge: subscription to %q failed to start: %v", e.Topic, e.Err)
}

func (e *SubscriptionStartError) Unwrap() error { return e.Err }

func (e *SubscriptionStartError) Is(target error) bool {
	return target == ErrSubscriptionStart
}

// SubscriptionStopTimeoutError is a warning: the background task did not
// confirm shutdown in time. It may still be running.
type SubscriptionStopTimeoutError struct {
	Topic   string
	Timeout time.Duration
}

func (e *SubscriptionStopTimeoutError) Error() string {
	return fmt.Sprintf("replybridge: subscription to %q did not stop within %s", e.Topic, e.Timeout)
}

func (e *SubscriptionStopTimeoutError) Is(target error) bool {
	return target == ErrSubscriptionStopTimeout
}

// ConfigValidationError wraps the joined validation failures of a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "replybridge: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
