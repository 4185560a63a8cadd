// Package validate checks a CV document against declarative per-section
// rules. Validation is a pure function: it performs no I/O, never calls
// the agent, and always returns the same result for the same document.
package validate

import (
	"fmt"
	"time"
)

// Error is a blocking validation finding. A document with any error in a
// generation-required section is not ready for artifact generation.
type Error struct {
	Section string `json:"section"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Warning is a non-blocking finding.
type Warning struct {
	Section string `json:"section"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Result is the outcome of validating a document.
type Result struct {
	Errors   []Error   `json:"errors"`
	Warnings []Warning `json:"warnings"`
	Ready    bool      `json:"ready"`
}

// Rule is a declarative constraint for one top-level section.
type Rule struct {
	Section string

	// Required marks the section as mandatory.
	Required bool

	// RequiredForGeneration marks the section as one that must pass with
	// zero errors before an artifact can be generated.
	RequiredForGeneration bool

	// RequiredFields must be present and non-empty when the section is an
	// object.
	RequiredFields []string

	// MaxItems bounds list sections; zero means unbounded.
	MaxItems int

	// MaxFieldLen bounds every string field in the section; zero means
	// unbounded.
	MaxFieldLen int

	// DateRange names a start/end field pair that must be ordered in each
	// item of a list section. An empty end field means "present" and is
	// always accepted.
	DateRange *DateRangeRule
}

// DateRangeRule names the fields checked for chronological ordering.
type DateRangeRule struct {
	StartField string
	EndField   string
}

// Validator applies a fixed rule set to documents.
type Validator struct {
	rules []Rule
}

// New creates a Validator with the given rules.
func New(rules []Rule) *Validator {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Validator{rules: rules}
}

// DefaultRules is the standard CV rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			Section:               "contact",
			Required:              true,
			RequiredForGeneration: true,
			RequiredFields:        []string{"full_name", "email", "phone"},
			MaxFieldLen:           256,
		},
		{
			Section:               "summary",
			RequiredForGeneration: false,
			MaxFieldLen:           2000,
		},
		{
			Section:               "experience",
			Required:              true,
			RequiredForGeneration: true,
			MaxItems:              15,
			MaxFieldLen:           4000,
			DateRange:             &DateRangeRule{StartField: "start_date", EndField: "end_date"},
		},
		{
			Section:     "education",
			MaxItems:    10,
			MaxFieldLen: 1000,
			DateRange:   &DateRangeRule{StartField: "start_date", EndField: "end_date"},
		},
		{
			Section:     "skills",
			MaxItems:    50,
			MaxFieldLen: 100,
		},
	}
}

// Validate checks the document against the rule set. Readiness is true
// iff every generation-required section passes with zero errors.
func (v *Validator) Validate(document map[string]interface{}) Result {
	result := Result{
		Errors:   []Error{},
		Warnings: []Warning{},
	}

	genErrors := 0
	for _, rule := range v.rules {
		errs, warns := checkSection(rule, document[rule.Section])
		result.Errors = append(result.Errors, errs...)
		result.Warnings = append(result.Warnings, warns...)
		if rule.RequiredForGeneration {
			genErrors += len(errs)
		}
	}

	result.Ready = genErrors == 0
	return result
}

func checkSection(rule Rule, section interface{}) ([]Error, []Warning) {
	var errs []Error
	var warns []Warning

	if section == nil || isEmpty(section) {
		if rule.Required {
			errs = append(errs, Error{
				Section: rule.Section,
				Message: fmt.Sprintf("section %q is required", rule.Section),
			})
		}
		return errs, warns
	}

	switch sec := section.(type) {
	case map[string]interface{}:
		errs = append(errs, checkRequiredFields(rule, sec)...)
		errs = append(errs, checkFieldLengths(rule, rule.Section, sec)...)

	case []interface{}:
		if rule.MaxItems > 0 && len(sec) > rule.MaxItems {
			errs = append(errs, Error{
				Section: rule.Section,
				Message: fmt.Sprintf("section %q has %d items, maximum is %d", rule.Section, len(sec), rule.MaxItems),
			})
		}
		for i, item := range sec {
			obj, ok := item.(map[string]interface{})
			if !ok {
				if s, isStr := item.(string); isStr {
					if rule.MaxFieldLen > 0 && len(s) > rule.MaxFieldLen {
						errs = append(errs, Error{
							Section: rule.Section,
							Field:   fmt.Sprintf("%d", i),
							Message: fmt.Sprintf("item %d exceeds maximum length %d", i, rule.MaxFieldLen),
						})
					}
				}
				continue
			}
			errs = append(errs, checkFieldLengths(rule, fmt.Sprintf("%s.%d", rule.Section, i), obj)...)
			if rule.DateRange != nil {
				if e := checkDateRange(rule, i, obj); e != nil {
					errs = append(errs, *e)
				}
			}
		}

	case string:
		if rule.MaxFieldLen > 0 && len(sec) > rule.MaxFieldLen {
			errs = append(errs, Error{
				Section: rule.Section,
				Message: fmt.Sprintf("section %q exceeds maximum length %d", rule.Section, rule.MaxFieldLen),
			})
		}
	}

	return errs, warns
}

func checkRequiredFields(rule Rule, obj map[string]interface{}) []Error {
	var errs []Error
	for _, field := range rule.RequiredFields {
		v, ok := obj[field]
		if !ok || isEmpty(v) {
			errs = append(errs, Error{
				Section: rule.Section,
				Field:   field,
				Message: fmt.Sprintf("field %q is required", field),
			})
		}
	}
	return errs
}

func checkFieldLengths(rule Rule, where string, obj map[string]interface{}) []Error {
	if rule.MaxFieldLen <= 0 {
		return nil
	}
	var errs []Error
	for field, v := range obj {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if len(s) > rule.MaxFieldLen {
			errs = append(errs, Error{
				Section: rule.Section,
				Field:   field,
				Message: fmt.Sprintf("field %q in %s exceeds maximum length %d", field, where, rule.MaxFieldLen),
			})
		}
	}
	return errs
}

// dateLayouts are accepted in order; CV dates are typically year-month.
var dateLayouts = []string{"2006-01-02", "2006-01", "2006"}

func checkDateRange(rule Rule, index int, obj map[string]interface{}) *Error {
	startRaw, _ := obj[rule.DateRange.StartField].(string)
	endRaw, _ := obj[rule.DateRange.EndField].(string)
	if startRaw == "" || endRaw == "" || endRaw == "present" {
		return nil
	}

	start, okStart := parseDate(startRaw)
	end, okEnd := parseDate(endRaw)
	if !okStart || !okEnd {
		return &Error{
			Section: rule.Section,
			Field:   fmt.Sprintf("%d.%s", index, rule.DateRange.StartField),
			Message: fmt.Sprintf("item %d has an unparseable date range %q..%q", index, startRaw, endRaw),
		}
	}
	if end.Before(start) {
		return &Error{
			Section: rule.Section,
			Field:   fmt.Sprintf("%d.%s", index, rule.DateRange.EndField),
			Message: fmt.Sprintf("item %d ends (%s) before it starts (%s)", index, endRaw, startRaw),
		}
	}
	return nil
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func isEmpty(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case map[string]interface{}:
		return len(val) == 0
	case []interface{}:
		return len(val) == 0
	}
	return false
}
