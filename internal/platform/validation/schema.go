// Package validation checks request bodies against embedded JSON Schemas.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/hanko-field/variants/internal/platform/httpx"
)

// ErrInvalidJSON is returned when the document is not parseable JSON.
var ErrInvalidJSON = errors.New("validation: body is not valid JSON")

var printer = message.NewPrinter(language.English)

// Schema is a compiled JSON Schema.
type Schema struct {
	compiled *jsonschema.Schema
}

// Compile parses and compiles raw under the resource name id.
func Compile(id string, raw []byte) (*Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("validation: unmarshal schema %s: %w", id, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(id, doc); err != nil {
		return nil, fmt.Errorf("validation: add schema %s: %w", id, err)
	}
	compiled, err := compiler.Compile(id)
	if err != nil {
		return nil, fmt.Errorf("validation: compile schema %s: %w", id, err)
	}
	return &Schema{compiled: compiled}, nil
}

// MustCompile is Compile for package-level schemas.
func MustCompile(id string, raw []byte) *Schema {
	schema, err := Compile(id, raw)
	if err != nil {
		panic(err)
	}
	return schema
}

// Validate checks body and returns one field error per failing leaf, using dotted paths
// such as "variants.0.draft_id". A nil slice means the body is valid.
func (s *Schema) Validate(body []byte) ([]httpx.FieldError, error) {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	err = s.compiled.Validate(instance)
	if err == nil {
		return nil, nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return nil, err
	}

	var fields []httpx.FieldError
	collectLeaves(verr, &fields)
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
	return fields, nil
}

func collectLeaves(verr *jsonschema.ValidationError, out *[]httpx.FieldError) {
	if len(verr.Causes) == 0 {
		*out = append(*out, httpx.FieldError{
			Field:   strings.Join(verr.InstanceLocation, "."),
			Message: verr.ErrorKind.LocalizedString(printer),
		})
		return
	}
	for _, cause := range verr.Causes {
		collectLeaves(cause, out)
	}
}
