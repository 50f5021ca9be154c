package safety

import (
	"errors"
	"strings"
)

type hint struct {
	fragment string
	text     string
}

// fragmentHints are matched case-sensitively against the offending fragment,
// first hit wins.
var fragmentHints = []hint{
	{"DbId", "Use the literal database ID value, not a variable name or function call."},
	{"DatabaseId", "Use the literal database ID value, not a variable name or function call."},
	{"DB_ID", "Use the literal database ID value, not an environment variable name."},
	{"DATABASE_ID", "Use the literal database ID value, not an environment variable name."},
	{"process.env", "Environment variables are not available here; use literal values."},
	{"import.meta", "Environment variables are not available here; use literal values."},
	{"${", "Template interpolation is not supported; write the final text as a literal value."},
	{"=>", "Functions are not allowed in parameters; use plain literal values."},
	{"eval", "Executable code is not allowed in parameters; use plain literal values."},
	{"Function", "Executable code is not allowed in parameters; use plain literal values."},
	{"setTimeout", "Scheduling code is not allowed in parameters; use plain literal values."},
	{"setInterval", "Scheduling code is not allowed in parameters; use plain literal values."},
	{"API_KEY", "Credentials cannot be referenced from parameters; use literal values only."},
	{"apiKey", "Credentials cannot be referenced from parameters; use literal values only."},
	{"secretKey", "Credentials cannot be referenced from parameters; use literal values only."},
	{"$", "Environment references are not resolved; use a literal value."},
}

const defaultHint = "Use a literal value, not a variable name or function call."

// Hint returns a remediation string for a safety rejection, or "" when err is
// not one.
func Hint(err error) string {
	var raw *RawPatternError
	var deep *DeepPatternError
	var fragment string
	switch {
	case errors.As(err, &raw):
		fragment = raw.Match
	case errors.As(err, &deep):
		fragment = deep.Match
	case errors.Is(err, ErrJSONParseFailed):
		return "The model reply could not be understood; please rephrase the request."
	default:
		return ""
	}
	for _, h := range fragmentHints {
		if strings.Contains(fragment, h.fragment) {
			return h.text
		}
	}
	return defaultHint
}

// UserMessage renders a rejection as a message safe to send back to the user.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindRawPatternDetected, KindDeepPattern:
		return "I could not run that request safely. " + Hint(err)
	case KindJSONParseFailed:
		return Hint(err)
	}
	return ""
}
