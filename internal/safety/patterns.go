package safety

import (
	"regexp"
	"sort"
	"strings"

	"workflow-assistant/backend/pkg/models"
)

// ParametersRoot is the path prefix of every finding inside a selection.
const ParametersRoot = "parameters"

// TemplatePlaceholder replaces interpolation tokens during escaping.
const TemplatePlaceholder = "[template]"

// rawCallPattern is an identifier immediately followed by empty parentheses,
// the usual shape of a hallucinated invocation such as taskDbId().
var rawCallPattern = regexp.MustCompile(`[A-Za-z_$][A-Za-z0-9_$.]*\(\s*\)`)

// templateToken matches every interpolation syntax escaped before output.
var templateToken = regexp.MustCompile(`\$\{[^}]*\}|\{\{[^}]*\}\}|#\{[^}]*\}`)

type deepPattern struct {
	name string
	re   *regexp.Regexp
}

// deepPatterns are checked in order against every string leaf; the first hit
// wins, so more specific patterns come before the generic call pattern.
var deepPatterns = []deepPattern{
	{"template-interpolation", regexp.MustCompile(`\$\{[^}]*\}`)},
	{"dangerous-builtin", regexp.MustCompile(`\b(?:eval|Function|setTimeout|setInterval|setImmediate|requestAnimationFrame)\s*\(`)},
	{"dynamic-property-call", regexp.MustCompile(`\[[^\]]*\]\s*\(`)},
	{"arrow-function", regexp.MustCompile(`=>`)},
	{"config-identifier", regexp.MustCompile(`\b(?:process\.env|import\.meta\.env|os\.Getenv|NOTION_API_KEY|NOTION_TOKEN|LLM_API_KEY|OPENAI_API_KEY|DISCORD_TOKEN|TELEGRAM_TOKEN|apiKey|secretKey|clientSecret)\b|\bos\.environ\b|\bENV\[|%[A-Z][A-Z0-9_]*%|\$env:\w+`)},
	{"env-reference", regexp.MustCompile(`\$[A-Z][A-Z0-9_]*\b`)},
	{"call-expression", regexp.MustCompile(`[A-Za-z_$][A-Za-z0-9_$]*\([^)]*\)`)},
}

// ScanRaw inspects raw model output before it is parsed. It fails with a
// *RawPatternError on the first call-like token.
func ScanRaw(text string) error {
	if m := rawCallPattern.FindString(text); m != "" {
		return &RawPatternError{Match: m}
	}
	return nil
}

// DeepScan walks a decoded tree rooted at root and returns the first string
// leaf matching a forbidden pattern, or nil when the tree is clean.
func DeepScan(v any, root string) *DeepPatternError {
	var found *DeepPatternError
	Walk(v, root, func(path, s string) bool {
		for _, p := range deepPatterns {
			if m := p.re.FindString(s); m != "" {
				found = &DeepPatternError{Pattern: p.name, Path: path, Match: m}
				return false
			}
		}
		return true
	})
	return found
}

// EscapeString replaces interpolation tokens with TemplatePlaceholder.
// Escaping an escaped string is a no-op.
func EscapeString(s string) string {
	if !strings.ContainsAny(s, "{") {
		return s
	}
	return templateToken.ReplaceAllString(s, TemplatePlaceholder)
}

// Escape returns a copy of v with every string leaf escaped.
func Escape(v any) any {
	return Transform(v, EscapeString)
}

// substituter replaces whole-word known identifiers with literal values.
type substituter struct {
	values map[string]string
	re     *regexp.Regexp
}

func newSubstituter(values map[string]string) *substituter {
	if len(values) == 0 {
		return &substituter{}
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	// longest first so a name that prefixes another cannot shadow it
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = regexp.QuoteMeta(name)
	}
	return &substituter{
		values: values,
		re:     regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`),
	}
}

func (s *substituter) replace(str string) string {
	if s.re == nil {
		return str
	}
	return s.re.ReplaceAllStringFunc(str, func(name string) string {
		return s.values[name]
	})
}

func findingOf(err *DeepPatternError) models.SanitizationFinding {
	return models.SanitizationFinding{Pattern: err.Pattern, Path: err.Path}
}
