package tools

import (
	"context"
	"strings"

	"github.com/codeready-toolchain/reqminer/pkg/workbench"
)

var pythonCodeExecutionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"code": map[string]any{"type": "string", "maxLength": 5000},
	},
	"required":             []string{"code"},
	"additionalProperties": false,
}

var disallowedCodeTokens = []string{"__", "import", "exec(", "eval(", "os.", "subprocess"}

// PythonCodeExecution is a deliberately inert stand-in for the sandboxed
// snippet executor the original agent exposed. It registers the same
// name, schema and validation rules but never executes anything,
// exercising ToolRegistry's generic call/error/timeout path without
// running arbitrary code.
type PythonCodeExecution struct{}

func (t PythonCodeExecution) Name() string { return "python_exec" }
func (t PythonCodeExecution) Description() string {
	return "Execution of small Python snippets in a heavily restricted environment. Disabled in this deployment."
}
func (t PythonCodeExecution) InputSchema() map[string]any { return pythonCodeExecutionSchema }

func (t PythonCodeExecution) Validate(args map[string]any) string {
	code, ok := args["code"].(string)
	if !ok {
		return "field 'code' must be a string"
	}
	if len(code) > 5000 {
		return "field 'code' exceeds maxLength 5000"
	}
	lowered := strings.ToLower(code)
	for _, tok := range disallowedCodeTokens {
		if strings.Contains(lowered, tok) {
			return "disallowed pattern detected: '" + tok + "'"
		}
	}
	return ""
}

func (t PythonCodeExecution) Run(ctx context.Context, args map[string]any) workbench.Result {
	return workbench.Ok(map[string]any{"stdout": "", "result": nil}, map[string]any{
		"reason": "execution disabled",
	})
}
