// Package errx provides the error kinds surfaced by deep link resolution.
// An *Error is a tagged union: Kind selects the variant, and StatusCode/Body
// carry the payload of a Server failure while Err carries the cause of a
// Network failure (or any other wrapped error).
package errx

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	Unknown Kind = iota
	NotConfigured
	InvalidAPIKey
	Emulator
	InvalidIntent
	Network
	InvalidResponse
	Server
	NoMatch
	InstallReferrerUnavailable
	InstallReferrerTimeout
	Unavailable
	Invalid
)

type Error struct {
	Op         string
	Kind       Kind
	StatusCode int
	Body       string
	Err        error
}

func E(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// New builds an error of the given kind from a message.
func New(op string, kind Kind, msg string) error {
	return &Error{
		Op:   op,
		Kind: kind,
		Err:  errors.New(msg),
	}
}

// ServerError reports a non-2xx response from the attribution service.
func ServerError(op string, statusCode int, body string) error {
	return &Error{
		Op:         op,
		Kind:       Server,
		StatusCode: statusCode,
		Body:       body,
		Err:        fmt.Errorf("server responded with status %d", statusCode),
	}
}

// NetworkError reports a transport-level failure.
func NetworkError(op string, cause error) error {
	return E(op, Network, cause)
}

// String returns the string representation of the error kind.
func (k Kind) String() string {
	switch k {
	case Unknown:
		return "Unknown"
	case NotConfigured:
		return "NotConfigured"
	case InvalidAPIKey:
		return "InvalidAPIKey"
	case Emulator:
		return "Emulator"
	case InvalidIntent:
		return "InvalidIntent"
	case Network:
		return "Network"
	case InvalidResponse:
		return "InvalidResponse"
	case Server:
		return "Server"
	case NoMatch:
		return "NoMatch"
	case InstallReferrerUnavailable:
		return "InstallReferrerUnavailable"
	case InstallReferrerTimeout:
		return "InstallReferrerTimeout"
	case Unavailable:
		return "Unavailable"
	case Invalid:
		return "Invalid"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func OpOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// StatusOf returns the HTTP status code of the first Server error in the
// chain, or 0.
func StatusOf(err error) int {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return 0
		}
		if e.Kind == Server {
			return e.StatusCode
		}
		err = e.Err
	}
	return 0
}

// BodyOf returns the response body of the first Server error in the chain.
func BodyOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Kind == Server {
			return e.Body
		}
		err = e.Err
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// MessageOf returns the text of the innermost cause wrapped by an *Error,
// without any Op prefixes.
func MessageOf(err error) string {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			break
		}
		if e.Err == nil {
			return msg
		}
		msg = e.Err.Error()
		err = e.Err
	}
	return msg
}
