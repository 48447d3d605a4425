package model

import "fmt"

// FeedError reports an unavailable tick source or a malformed tick. The tick
// is skipped and the pipeline keeps running.
type FeedError struct {
	Symbol string
	Reason string
	Err    error
}

func (e *FeedError) Error() string {
	msg := "feed"
	if e.Symbol != "" {
		msg += " " + e.Symbol
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FeedError) Unwrap() error { return e.Err }

// ComputeError reports a tick whose indicators could not be computed. Only
// that tick is affected.
type ComputeError struct {
	Symbol string
	Err    error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("compute %s: %v", e.Symbol, e.Err)
}

func (e *ComputeError) Unwrap() error { return e.Err }

// NotificationError reports a failed alert delivery. It is logged and
// counted, never retried and never propagated to the pipeline.
type NotificationError struct {
	Sink    string
	AlertID string
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify %s (alert %s): %v", e.Sink, e.AlertID, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }
