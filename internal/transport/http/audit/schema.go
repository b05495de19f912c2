package audithttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"agentaudit/internal/pkg/apperr"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const verifyRequestSchema = `{
  "type": "object",
  "required": ["hash", "trace"],
  "properties": {
    "hash": {"type": "string", "minLength": 1, "maxLength": 256},
    "trace": {"not": {"type": "null"}},
    "commitment": {"type": ["string", "null"], "maxLength": 256}
  }
}`

const decisionRequestSchema = `{
  "type": "object",
  "required": ["type", "reasoningPreview"],
  "properties": {
    "id": {"type": "string"},
    "timestamp": {"type": "integer", "minimum": 0},
    "type": {"type": "string", "enum": ["hold", "rebalance", "enter", "exit", "HOLD", "REBALANCE", "ENTER", "EXIT"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "confidencePct": {"type": "number", "minimum": 0, "maximum": 100},
    "executed": {"type": "boolean"},
    "hasError": {"type": "boolean"},
    "protocols": {"type": "array", "items": {"type": "string"}},
    "assets": {"type": "array", "items": {"type": "string"}},
    "riskChange": {"type": "string"},
    "apyImpact": {"type": "number"},
    "reasoningPreview": {"type": "string", "minLength": 1},
    "fullReasoning": {"type": "string"},
    "actions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {"type": "string", "enum": ["withdraw", "deposit", "swap"]},
          "from": {"type": "string"},
          "to": {"type": "string"},
          "expectedApyGain": {"type": "number"},
          "failed": {"type": "boolean"}
        }
      }
    },
    "txIds": {"type": "array", "items": {"type": "string"}},
    "riskAnalysis": {"type": "object"}
  },
  "not": {"required": ["confidence", "confidencePct"]}
}`

var (
	verifySchema   = mustCompileSchema("verify.json", verifyRequestSchema)
	decisionSchema = mustCompileSchema("decision.json", decisionRequestSchema)
)

func mustCompileSchema(name, raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// validateBody 按 schema 校验原始请求体，错误转换为 validation 类错误。
func validateBody(schema *jsonschema.Schema, body []byte) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return apperr.Validationf("request body must be valid JSON: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return apperr.Validationf("invalid request body: %s", strings.Join(leafMessages(ve), "; "))
		}
		return apperr.Validationf("invalid request body: %v", err)
	}
	return nil
}

func leafMessages(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{loc + ": " + ve.Message}
	}
	var out []string
	for _, cause := range ve.Causes {
		out = append(out, leafMessages(cause)...)
	}
	sort.Strings(out)
	return out
}
