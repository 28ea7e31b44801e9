// Package validation checks table, index and attribute names against the
// store's naming rules and exposes a shared struct validator.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/pay-theory/dynamodel/pkg/attr"
)

// Name limits enforced by DynamoDB
const (
	MinTableNameLength = 3
	MaxTableNameLength = 255
	MaxAttrNameLength  = 255
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// NameError describes a name rejected by one of the Validate functions
type NameError struct {
	Kind   string
	Name   string
	Detail string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.Name, e.Detail)
}

// ValidateTableName validates a DynamoDB table name
func ValidateTableName(name string) error {
	if len(name) < MinTableNameLength || len(name) > MaxTableNameLength {
		return &NameError{Kind: "table name", Name: name, Detail: "must be 3-255 characters"}
	}
	if !namePattern.MatchString(name) {
		return &NameError{Kind: "table name", Name: name, Detail: "can only contain letters, numbers, dots, dashes, and underscores"}
	}
	return nil
}

// ValidateIndexName validates a DynamoDB index name. The empty name means the
// base table and is accepted.
func ValidateIndexName(name string) error {
	if name == "" {
		return nil
	}
	if len(name) < MinTableNameLength || len(name) > MaxTableNameLength {
		return &NameError{Kind: "index name", Name: name, Detail: "must be 3-255 characters"}
	}
	if !namePattern.MatchString(name) {
		return &NameError{Kind: "index name", Name: name, Detail: "can only contain letters, numbers, dots, dashes, and underscores"}
	}
	return nil
}

// ValidateAttrName validates a top-level attribute name. Any UTF-8 text is
// allowed since names always travel through placeholders.
func ValidateAttrName(name string) error {
	if name == "" {
		return &NameError{Kind: "attribute name", Name: name, Detail: "cannot be empty"}
	}
	if len(name) > MaxAttrNameLength {
		return &NameError{Kind: "attribute name", Name: name, Detail: fmt.Sprintf("exceeds %d bytes", MaxAttrNameLength)}
	}
	if !utf8.ValidString(name) {
		return &NameError{Kind: "attribute name", Name: name, Detail: "is not valid UTF-8"}
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return &NameError{Kind: "attribute name", Name: name, Detail: "contains control characters"}
	}
	return nil
}

var validate = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	register := map[string]func(string) bool{
		"ddb_table": func(s string) bool { return ValidateTableName(s) == nil },
		"ddb_index": func(s string) bool { return ValidateIndexName(s) == nil },
		"ddb_attr":  func(s string) bool { return ValidateAttrName(s) == nil },
		"ddb_type":  func(s string) bool { return attr.Type(s).Valid() },
	}
	for tag, fn := range register {
		// Registration only fails for an empty tag or nil func.
		_ = v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return fn(fl.Field().String())
		})
	}
	return v
})

// Validator returns the shared validator with the ddb_table, ddb_index,
// ddb_attr and ddb_type tags registered.
func Validator() *validator.Validate {
	return validate()
}

// Struct validates s against its struct tags and flattens any field errors
// into a single readable error.
func Struct(s any) error {
	err := validate().Struct(s)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "ddb_table", "ddb_index", "ddb_attr":
		return fmt.Sprintf("%s is not a valid name", field)
	case "ddb_type":
		return fmt.Sprintf("%s is not a known attribute type", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
