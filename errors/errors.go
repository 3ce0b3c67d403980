package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells a loop whether to skip, reject or stop
type ErrorClass int

const (
	// ErrorTransient: skip the current item and keep going
	ErrorTransient ErrorClass = iota
	// ErrorInvalid: reject the input or configuration
	ErrorInvalid
	// ErrorFatal: stop the pipeline
	ErrorFatal
)

var classNames = map[ErrorClass]string{
	ErrorTransient: "transient",
	ErrorInvalid:   "invalid",
	ErrorFatal:     "fatal",
}

func (ec ErrorClass) String() string {
	if name, ok := classNames[ec]; ok {
		return name
	}
	return "unknown"
}

// Lifecycle
var (
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrAlreadyStopped = errors.New("component already stopped")
)

// Transport
var (
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrSocketClosed      = errors.New("socket closed")
)

// Samples and inference
var (
	ErrInvalidData    = errors.New("invalid data format")
	ErrUnknownChannel = errors.New("unknown sensor channel")
	ErrParsingFailed  = errors.New("parsing failed")
	ErrLayoutMismatch = errors.New("feature layout mismatch")
	ErrNotReady       = errors.New("window not ready")
	ErrInference      = errors.New("inference failed")
	ErrQueueFull      = errors.New("queue full")
)

// Configuration
var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingConfig  = errors.New("missing required configuration")
	ErrConfigNotFound = errors.New("configuration not found")
)

// sentinelClasses classifies bare sentinels that were never wrapped with a class.
// Checked in order, so fatal wins over invalid.
var sentinelClasses = []struct {
	class     ErrorClass
	sentinels []error
}{
	{ErrorFatal, []error{ErrSocketClosed, ErrLayoutMismatch, ErrMissingConfig}},
	{ErrorInvalid, []error{ErrInvalidData, ErrUnknownChannel, ErrParsingFailed, ErrInvalidConfig}},
	{ErrorTransient, []error{ErrConnectionTimeout, ErrConnectionLost, ErrQueueFull, ErrInference, context.DeadlineExceeded}},
}

// transientHints mark unclassified third-party errors as retryable
var transientHints = []string{"timeout", "temporary", "unavailable", "busy"}

// ClassifiedError carries a class plus the component and operation that produced it
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// classOf finds the explicit or sentinel class of err
func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	for _, group := range sentinelClasses {
		for _, sentinel := range group.sentinels {
			if errors.Is(err, sentinel) {
				return group.class, true
			}
		}
	}
	return ErrorTransient, false
}

// IsTransient reports whether err is worth retrying or skipping past
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorTransient
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// IsFatal reports whether err must stop the pipeline
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	class, ok := classOf(err)
	return ok && class == ErrorFatal
}

// IsInvalid reports whether err was caused by bad input or configuration
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	class, ok := classOf(err)
	return ok && class == ErrorInvalid
}

// Classify returns the class of err. Unclassified errors are transient so a single bad
// item never stops a loop.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	class, _ := classOf(err)
	return class
}

// Wrap formats err as "component.method: action failed: cause"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps err with context and classifies it transient
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps err with context and classifies it fatal
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps err with context and classifies it invalid
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}
