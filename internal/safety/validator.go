package safety

import (
	"workflow-assistant/backend/internal/logging"
	"workflow-assistant/backend/pkg/models"
)

// Validator sanitizes tool selections produced by a language model before
// they reach a capability provider.
type Validator struct {
	subs   *substituter
	logger *logging.Logger
}

// NewValidator creates a validator that resolves the given identifier names
// to literal values. See config.Config.Substitutions.
func NewValidator(substitutions map[string]string, logger *logging.Logger) *Validator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Validator{
		subs:   newSubstituter(substitutions),
		logger: logger.Component("safety"),
	}
}

// ScanRaw runs the pre-parse scan. See the package level ScanRaw.
func (v *Validator) ScanRaw(text string) error {
	if err := ScanRaw(text); err != nil {
		v.logger.Warn("raw pattern rejected", "match", EscapeString(err.(*RawPatternError).Match))
		return err
	}
	return nil
}

// Substitute returns a copy of value with known identifiers replaced.
func (v *Validator) Substitute(value any) any {
	return Transform(value, v.subs.replace)
}

// SubstituteString replaces known identifiers in a single string.
func (v *Validator) SubstituteString(s string) string {
	return v.subs.replace(s)
}

// Sanitize returns a cleaned copy of sel: identifiers are substituted, the
// parameters are deep scanned and every string is escaped. sel itself is
// never modified.
func (v *Validator) Sanitize(sel *models.ToolSelection) (*models.ToolSelection, error) {
	if sel == nil {
		return nil, nil
	}
	params := transformParams(sel.Parameters, v.subs.replace)
	if finding := DeepScan(params, ParametersRoot); finding != nil {
		v.logger.Warn("deep pattern rejected",
			"tool", sel.Tool,
			"pattern", finding.Pattern,
			"path", finding.Path,
			"match", EscapeString(finding.Match))
		return nil, finding
	}
	return &models.ToolSelection{
		Tool:       sel.Tool,
		Parameters: transformParams(params, EscapeString),
		Reasoning:  EscapeString(sel.Reasoning),
	}, nil
}

// Finding returns the structured finding for a deep pattern rejection.
func (e *DeepPatternError) Finding() models.SanitizationFinding {
	return findingOf(e)
}
