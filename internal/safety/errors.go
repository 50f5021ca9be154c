package safety

import (
	"errors"
	"fmt"
)

// ErrJSONParseFailed is returned when a completion cannot be decoded into a
// tool selection.
var ErrJSONParseFailed = errors.New("model output is not valid JSON")

// Kind classifies a safety rejection.
type Kind string

const (
	KindNone               Kind = ""
	KindRawPatternDetected Kind = "RawPatternDetected"
	KindJSONParseFailed    Kind = "JSONParseFailed"
	KindDeepPattern        Kind = "DeepPatternDetected"
)

// RawPatternError reports a call-like token found in unparsed model output.
type RawPatternError struct {
	Match string
}

func (e *RawPatternError) Error() string {
	return fmt.Sprintf("model output contains call-like token %q", EscapeString(e.Match))
}

// DeepPatternError reports the first string leaf of a parsed selection that
// matched a forbidden pattern.
type DeepPatternError struct {
	Pattern string
	Path    string
	Match   string
}

func (e *DeepPatternError) Error() string {
	return fmt.Sprintf("parameter %s matches forbidden pattern %s (%q)", e.Path, e.Pattern, EscapeString(e.Match))
}

// KindOf returns the rejection kind carried by err, or KindNone.
func KindOf(err error) Kind {
	var raw *RawPatternError
	var deep *DeepPatternError
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &raw):
		return KindRawPatternDetected
	case errors.As(err, &deep):
		return KindDeepPattern
	case errors.Is(err, ErrJSONParseFailed):
		return KindJSONParseFailed
	}
	return KindNone
}
