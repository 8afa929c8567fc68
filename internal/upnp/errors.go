package upnp

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAlreadySubscribed is returned by Subscribe while a subscription is active.
	ErrAlreadySubscribed = errors.New("already subscribed, unsubscribe first")
	// ErrNotSubscribed is returned by a non-forced Unsubscribe without an active subscription.
	ErrNotSubscribed = errors.New("not subscribed")
	// ErrSubscriptionNotFound indicates the device no longer knows our SID (HTTP 412).
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrUnknownAction is returned when calling an action the service does not declare.
	ErrUnknownAction = errors.New("unknown action")
)

// FetchError indicates a description document could not be retrieved.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: http %d", e.URL, e.StatusCode)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the fetch failed because of a deadline.
func (e *FetchError) Timeout() bool {
	return isTimeout(e.Err)
}

// ActionCallError indicates a SOAP call failed at the transport or HTTP level.
type ActionCallError struct {
	Action     string
	StatusCode int
	Err        error
}

func (e *ActionCallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("action %s: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("action %s failed: http %d", e.Action, e.StatusCode)
}

func (e *ActionCallError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the call failed because of a deadline.
func (e *ActionCallError) Timeout() bool {
	return isTimeout(e.Err)
}

// EventError indicates a SUBSCRIBE or UNSUBSCRIBE request failed at the transport level.
type EventError struct {
	Method     string
	URL        string
	StatusCode int
	Err        error
}

func (e *EventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: http %d", e.Method, e.URL, e.StatusCode)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

// ParseError indicates malformed or incomplete XML.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %v", e.What, e.Err)
	}
	return "parse " + e.What
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// UnsupportedTypeError is returned for SCPD data types without a native mapping.
type UnsupportedTypeError struct {
	StateVariable string
	DataType      string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("state variable %s: unsupported data type %q", e.StateVariable, e.DataType)
}

// ValidationError is returned when a native value violates a state variable rule.
type ValidationError struct {
	StateVariable string
	Value         any
	Rule          string
	Reason        string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("state variable %s: value %v fails %s rule: %s", e.StateVariable, e.Value, e.Rule, e.Reason)
}

// CoercionError is returned when a wire string cannot be converted to its native type.
type CoercionError struct {
	StateVariable string
	Value         string
	DataType      string
	Err           error
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("state variable %s: cannot coerce %q to %s", e.StateVariable, e.Value, e.DataType)
}

func (e *CoercionError) Unwrap() error {
	return e.Err
}

// MissingArgumentError is returned when an in-argument has no value.
type MissingArgumentError struct {
	Action   string
	Argument string
}

func (e *MissingArgumentError) Error() string {
	return fmt.Sprintf("action %s: missing argument %s", e.Action, e.Argument)
}

// ActionFaultError is a SOAP Fault returned by the device.
type ActionFaultError struct {
	Action      string
	Code        string
	Description string
	Body        []byte
}

func (e *ActionFaultError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("action %s: soap fault", e.Action)
	}
	if e.Description == "" {
		return fmt.Sprintf("action %s rejected: code %s", e.Action, e.Code)
	}
	return fmt.Sprintf("action %s rejected: code %s (%s)", e.Action, e.Code, e.Description)
}

type timeoutError interface {
	Timeout() bool
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te timeoutError
	if errors.As(err, &te) && te.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
