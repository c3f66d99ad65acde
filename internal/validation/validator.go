package validation

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/terra-clan/mission-bot/internal/models"
)

// Default thresholds
const (
	DefaultMinDescriptionLength = 50
	DefaultMinPrice             = 0
	DefaultMaxPrice             = 100000
)

// Rules holds the configurable validation thresholds
type Rules struct {
	MinDescriptionLength int
	MinPrice             float64
	MaxPrice             float64
}

// DefaultRules returns the stock thresholds
func DefaultRules() Rules {
	return Rules{
		MinDescriptionLength: DefaultMinDescriptionLength,
		MinPrice:             DefaultMinPrice,
		MaxPrice:             DefaultMaxPrice,
	}
}

// Result is the outcome of validating a mission
type Result struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Err returns a *Error when the mission is invalid, nil otherwise
func (r Result) Err() error {
	if r.IsValid {
		return nil
	}
	return &Error{Errors: r.Errors, Warnings: r.Warnings}
}

// Error reports a mission that failed validation
type Error struct {
	Errors   []string
	Warnings []string
}

func (e *Error) Error() string {
	return "validation failed: " + strings.Join(e.Errors, ", ")
}

// Validator checks missions against a set of rules. It does no I/O.
type Validator struct {
	rules Rules
}

// NewValidator creates a validator with the given rules
func NewValidator(rules Rules) *Validator {
	return &Validator{rules: rules}
}

// Rules returns the thresholds in use
func (v *Validator) Rules() Rules {
	return v.rules
}

// Validate checks required fields and the price range, and warns about
// short descriptions and missing skills
func (v *Validator) Validate(m *models.Mission) Result {
	errs := []string{}
	warnings := []string{}

	if m == nil {
		return Result{IsValid: false, Errors: []string{"mission is required"}, Warnings: warnings}
	}

	if strings.TrimSpace(m.ID) == "" {
		errs = append(errs, "ID is required")
	}
	if strings.TrimSpace(m.Title) == "" {
		errs = append(errs, "Title is required")
	}
	if strings.TrimSpace(m.Description) == "" {
		errs = append(errs, "Description is required")
	}

	switch {
	case m.InvalidPrice != "":
		errs = append(errs, fmt.Sprintf("Price must be a number (got %q)", m.InvalidPrice))
	case m.Price != nil && (math.IsNaN(*m.Price) || math.IsInf(*m.Price, 0)):
		errs = append(errs, "Price must be a number")
	case m.Price != nil && (*m.Price < v.rules.MinPrice || *m.Price > v.rules.MaxPrice):
		errs = append(errs, fmt.Sprintf("Price must be between %s and %s",
			formatBound(v.rules.MinPrice), formatBound(v.rules.MaxPrice)))
	}

	if m.Description != "" {
		if n := utf8.RuneCountInString(m.Description); n < v.rules.MinDescriptionLength {
			warnings = append(warnings, fmt.Sprintf(
				"Description is quite short (%d chars), consider adding more details", n))
		}
	}

	if len(m.Skills) == 0 {
		warnings = append(warnings, "No skills specified")
	}

	return Result{
		IsValid:  len(errs) == 0,
		Errors:   errs,
		Warnings: warnings,
	}
}

func formatBound(f float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
}
