package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	schemasassets "github.com/3leaps/clipnimbus/internal/assets/schemas"
	"github.com/fulmenhq/gofulmen/schema"
)

var (
	// ErrCorrupt indicates the persisted document could not be read or
	// failed validation. The file is left untouched.
	ErrCorrupt = errors.New("settings document is corrupt")

	// ErrSchemaNotFound indicates the embedded schema is missing.
	ErrSchemaNotFound = errors.New("settings schema not found")

	// ErrUnknownKey is returned by Set for unrecognized keys.
	ErrUnknownKey = errors.New("unknown settings key")

	// ErrInvalidValue is returned by Set for values a key cannot hold.
	ErrInvalidValue = errors.New("invalid settings value")
)

var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// CorruptError reports an unusable settings file.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("settings %s: %v", e.Path, e.Err)
}

// Unwrap exposes both ErrCorrupt and the underlying cause.
func (e *CorruptError) Unwrap() []error {
	return []error{ErrCorrupt, e.Err}
}

// ValidationError is a single schema violation.
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors collects schema violations.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "settings validation failed with %d errors:", len(e))
	for _, err := range e {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// ValidateRaw checks raw JSON against the embedded settings schema.
func ValidateRaw(data []byte) error {
	if !json.Valid(data) {
		return errors.New("invalid JSON")
	}

	v, err := getValidator()
	if err != nil {
		return err
	}

	diags, err := v.ValidateJSON(data)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			errs = append(errs, ValidationError{Path: d.Pointer, Message: d.Message})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func getValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		if len(schemasassets.SettingsSchema) == 0 {
			validatorErr = fmt.Errorf("%w: embedded settings schema is empty", ErrSchemaNotFound)
			return
		}
		validator, validatorErr = schema.NewValidator(schemasassets.SettingsSchema)
		if validatorErr != nil {
			validatorErr = fmt.Errorf("failed to compile settings schema: %w", validatorErr)
		}
	})
	return validator, validatorErr
}
