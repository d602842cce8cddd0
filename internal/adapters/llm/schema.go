package llm

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Response schemas are deliberately loose: only the fields the pipeline depends on are
// required. Anything else the model adds is ignored.

const classificationSchemaJSON = `{
  "type": "object",
  "required": ["channel", "routing"],
  "properties": {
    "channel": {"type": "string", "minLength": 1},
    "routing": {"type": "string", "enum": ["INBOX", "ARCHIVE"]},
    "topic_type": {"type": ["string", "null"]},
    "topic_title": {"type": ["string", "null"]},
    "urgency": {"type": ["string", "null"]},
    "deadline": {"type": ["string", "null"]},
    "authority": {"type": ["string", "null"]},
    "reasoning": {"type": ["string", "null"]}
  }
}`

const analysisSchemaJSON = `{
  "type": "object",
  "required": ["summary"],
  "properties": {
    "summary": {"type": "string"},
    "risk_if_ignored": {"type": ["string", "null"]},
    "status": {"type": ["string", "null"]}
  }
}`

var (
	classificationSchema = mustCompile("classification.json", classificationSchemaJSON)
	analysisSchema       = mustCompile("analysis.json", analysisSchemaJSON)
)

func mustCompile(name, src string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// validate checks an already decoded document against schema.
func validate(schema *jsonschema.Schema, doc any) error {
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
