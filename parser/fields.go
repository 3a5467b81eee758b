package parser

import (
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// ErrMalformed marks a field whose markup exists but does not have the
// expected shape.
var ErrMalformed = errors.New("malformed field")

// FieldExtractor maps a parsed detail page to item field values. Fields that
// fail are reported in the error slice and left out of the map.
type FieldExtractor interface {
	Extract(doc *goquery.Document) (map[string]string, []error)
}

// FieldFunc extracts one value. An absent field returns "" and a nil error.
type FieldFunc func(doc *goquery.Document) (string, error)

// Step binds a FieldFunc to the field it fills.
type Step struct {
	Field   string
	Extract FieldFunc
}

// FieldError reports a failed Step.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Steps runs independent extraction steps. A failing step contributes
// nothing and does not stop the others.
type Steps []Step

// Extract implements FieldExtractor.
func (s Steps) Extract(doc *goquery.Document) (map[string]string, []error) {
	values := make(map[string]string, len(s))
	var errs []error
	for _, step := range s {
		value, err := runStep(step, doc)
		if err != nil {
			errs = append(errs, &FieldError{Field: step.Field, Err: err})
			continue
		}
		values[step.Field] = value
	}
	return values, errs
}

func runStep(step Step, doc *goquery.Document) (value string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrMalformed, r)
		}
	}()
	return step.Extract(doc)
}
