package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["variants"],
  "properties": {
    "variants": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["draft_id"],
        "properties": {
          "draft_id": {"type": "string", "minLength": 1},
          "sku": {"type": ["string", "null"], "maxLength": 4}
        }
      }
    }
  }
}`

func TestValidateAcceptsValidDocument(t *testing.T) {
	schema, err := Compile("test.json", []byte(testSchema))
	require.NoError(t, err)

	fields, err := schema.Validate([]byte(`{"variants":[{"draft_id":"red-s","sku":null}]}`))
	require.NoError(t, err)
	assert.Nil(t, fields)
}

func TestValidateReportsDottedFieldPaths(t *testing.T) {
	schema := MustCompile("test.json", []byte(testSchema))

	fields, err := schema.Validate([]byte(`{"variants":[{"draft_id":"red-s"},{"sku":"TOO-LONG"}]}`))
	require.NoError(t, err)
	require.Len(t, fields, 2)

	assert.Equal(t, "variants.1", fields[0].Field)
	assert.Contains(t, fields[0].Message, "draft_id")
	assert.Equal(t, "variants.1.sku", fields[1].Field)
	assert.NotEmpty(t, fields[1].Message)
}

func TestValidateRejectsMalformedJSON(t *testing.T) {
	schema := MustCompile("test.json", []byte(testSchema))

	_, err := schema.Validate([]byte(`{"variants":`))
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestCompileRejectsInvalidSchema(t *testing.T) {
	_, err := Compile("broken.json", []byte(`{"type": 12}`))
	assert.Error(t, err)
}
