package sge

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind is how the acquisition engine must react to a failed request.
type Kind int

const (
	// KindTransient failures are retried on the same window.
	KindTransient Kind = iota
	// KindFunctional failures mean the window has nothing to give, skip it.
	KindFunctional
	// KindFatal failures stop pagination for the command service.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFunctional:
		return "functional"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is a failed SGE call.
type Error struct {
	Kind Kind
	// Code is the SGT code found in the response, if any.
	Code    string
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("sge %s error %s: %s", e.Kind, e.Code, e.Message)
	}
	if e.Status != 0 {
		return fmt.Sprintf("sge %s error (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("sge %s error: %s", e.Kind, e.Message)
}

// KindOf classifies any error returned by an Invoker. Errors that are not
// *Error (transport, timeouts, parse failures) are transient.
func KindOf(err error) Kind {
	var sgeErr *Error
	if errors.As(err, &sgeErr) {
		return sgeErr.Kind
	}
	return KindTransient
}

var codeRe = regexp.MustCompile(`SGT[0-9A-Z]+`)

const fatalCode = "SGT589"

// classify builds an Error from a response body. Codes are looked for
// anywhere in the body so a fault that fails to parse is still classified.
func classify(status int, body []byte) *Error {
	codes := codeRe.FindAllString(string(body), -1)
	e := &Error{
		Kind:    KindTransient,
		Status:  status,
		Message: faultMessage(body),
	}
	for _, c := range codes {
		if strings.HasPrefix(c, "SGT4") {
			e.Kind = KindFunctional
			e.Code = c
			return e
		}
	}
	for _, c := range codes {
		if c == fatalCode {
			e.Kind = KindFatal
			e.Code = c
			return e
		}
	}
	for _, c := range codes {
		if strings.HasPrefix(c, "SGT5") {
			e.Code = c
			return e
		}
	}
	return e
}
