package activities

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

// compileSchema compiles a JSON-schema document given as a Go value,
// adapted from the teacher's tool_registry.go compileSchema: marshal to
// JSON, register as an in-memory resource, compile. Used here to validate
// RPC request/response payloads at the activity boundary rather than LLM
// tool-call arguments.
func compileSchema(name string, doc map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(string(b))); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	return c.Compile(name)
}

// diagnoserResponseSchema rejects a collaborator response missing the
// fields the engine depends on, per §9's "reject unexpected shapes with
// INVALID_INPUT, rather than pattern-matching inside business logic."
var diagnoserResponseSchema = mustCompile("diagnoser-response.json", map[string]any{
	"type":     "object",
	"required": []any{"rootCause", "confidence"},
	"properties": map[string]any{
		"rootCause": map[string]any{
			"type": "string",
			"enum": []any{"DEP_UPGRADE", "API_CHANGE", "FLAKY_TEST", "CONFIG_ERROR", "ENV_ISSUE", "PERMISSION_ERROR", "TIMEOUT", "UNKNOWN"},
		},
		"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
	},
})

func mustCompile(name string, doc map[string]any) *jsonschema.Schema {
	s, err := compileSchema(name, doc)
	if err != nil {
		panic(err)
	}
	return s
}

// ValidateDiagnoserResponse checks resp against diagnoserResponseSchema,
// returning a classified selfheal.Error on violation.
func ValidateDiagnoserResponse(resp selfheal.DiagnoserResponse) error {
	asMap := map[string]any{
		"rootCause":  string(resp.RootCause),
		"confidence": resp.Confidence,
	}
	if err := diagnoserResponseSchema.Validate(asMap); err != nil {
		return selfheal.New(selfheal.KindInvalidInput, "diagnoser response failed schema validation", err)
	}
	if !resp.RootCause.Valid() {
		return selfheal.New(selfheal.KindInvalidInput, fmt.Sprintf("unrecognized root cause %q", resp.RootCause), nil)
	}
	return nil
}
