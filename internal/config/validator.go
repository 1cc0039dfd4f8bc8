package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers RuleGate-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// rules_path: validates a .json file path.
	if err := v.RegisterValidation("rules_path", validateRulesPath); err != nil {
		return fmt.Errorf("failed to register rules_path validator: %w", err)
	}
	return nil
}

// validateRulesPath checks that the rules store path names a .json file.
func validateRulesPath(fl validator.FieldLevel) bool {
	path := fl.Field().String()
	if path == "" {
		return true
	}
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// Validate validates the Config using struct tags and custom rules.
// Returns an error with actionable messages if validation fails.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError renders one field error with a hint.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "hostname_port":
		return fmt.Sprintf("%s: %q is not a valid host:port address", field, e.Value())
	case "oneof":
		return fmt.Sprintf("%s: %q is not one of [%s]", field, e.Value(), e.Param())
	case "rules_path":
		return fmt.Sprintf("%s: %q must be a .json file path", field, e.Value())
	case "min":
		return fmt.Sprintf("%s: must be at least %s", field, e.Param())
	default:
		return fmt.Sprintf("%s: failed %q validation", field, e.Tag())
	}
}
