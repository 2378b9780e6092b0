package ai

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const gradeSchemaJSON = `{
  "type": "object",
  "required": ["is_correct", "feedback", "grade"],
  "properties": {
    "is_correct": {"type": "boolean"},
    "feedback": {"type": "string"},
    "grade": {"type": "number", "minimum": 0, "maximum": 5}
  }
}`

const reportSchemaJSON = `{
  "type": "object",
  "required": ["overall_feedback", "strengths", "areas_for_improvement", "grade"],
  "properties": {
    "overall_feedback": {"type": "string"},
    "strengths": {"type": "array", "items": {"type": "string"}},
    "areas_for_improvement": {"type": "array", "items": {"type": "string"}},
    "grade": {"type": "number", "minimum": 0, "maximum": 5},
    "message": {"type": "string"}
  }
}`

var (
	gradeSchema  = jsonschema.MustCompileString("grade.schema.json", gradeSchemaJSON)
	reportSchema = jsonschema.MustCompileString("report.schema.json", reportSchemaJSON)
)

// decodeValidated checks content against schema before decoding it into dst.
func decodeValidated(schema *jsonschema.Schema, content string, dst any) error {
	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return fmt.Errorf("parse model json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("model json does not match schema: %w", err)
	}
	if err := json.Unmarshal([]byte(content), dst); err != nil {
		return fmt.Errorf("decode model json: %w", err)
	}
	return nil
}
