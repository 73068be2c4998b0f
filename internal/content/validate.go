package content

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	ID     string
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	if e.ID != "" {
		return fmt.Sprintf("item %s: %s", e.ID, strings.Join(parts, "; "))
	}
	return strings.Join(parts, "; ")
}

func ValidateVocabulary(v *VocabularyItem) error {
	return check(v.ID, v)
}

func ValidateGrammar(g *GrammarItem) error {
	return check(g.ID, g)
}

func check(id string, item any) error {
	err := validate.Struct(item)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating item %s: %w", id, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Namespace()] = message(fe)
	}
	return &ValidationError{ID: id, Fields: fields}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "nefield":
		return "must differ from " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}
