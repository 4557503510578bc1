// Package errcode holds the stable diagnostic codes reported by the drivers.
package errcode

import "errors"

// Code is a stable, API-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes.
const (
	OK             Code = "ok"
	InvalidChannel Code = "invalid_channel"
	InvalidParams  Code = "invalid_params"
	InvalidPayload Code = "invalid_payload"
	BusWrite       Code = "bus_write_failed"
	NoBus          Code = "no_bus"
	StripOpen      Code = "strip_open_failed"
	StripWrite     Code = "strip_write_failed"
	Timeout        Code = "timeout"

	Error Code = "error" // generic fallback
)

// E keeps a code together with the operation, a message and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	switch {
	case e.Msg != "":
		s += ": " + e.Msg
	case e.Err != nil:
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error chain, defaulting to Error. The code of
// an outer E wins over any code in its cause.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Error
}

// MapDriverErr maps a failed bus or strip write to a Code. The drivers never
// surface anything more specific than "the write failed".
func MapDriverErr(err error, fallback Code) Code {
	if err == nil {
		return OK
	}
	if c := Of(err); c != Error {
		return c
	}
	return fallback
}
