// Package workbench implements ToolRegistry: registration, listing and
// invocation of tools available to the Planner/Solver/Verifier triad
// (spec.md §4.12), grounded on arch_team/workbench/workbench.go.
package workbench

import (
	"context"
	"fmt"
)

// Status is the outcome of one tool Call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// Result is the uniform return value of a tool call.
type Result struct {
	Status  Status
	Content any
	Error   string
	Meta    map[string]any
}

// Ok builds a successful Result.
func Ok(content any, meta map[string]any) Result {
	return Result{Status: StatusSuccess, Content: content, Meta: meta}
}

// Fail builds a failed Result.
func Fail(err string, meta map[string]any) Result {
	return Result{Status: StatusError, Error: err, Meta: meta}
}

// Timeout builds a timed-out Result.
func Timeout(meta map[string]any) Result {
	if meta == nil {
		meta = map[string]any{"reason": "timeout"}
	}
	return Result{Status: StatusTimeout, Error: "timeout", Meta: meta}
}

// Descriptor is the List() entry for one registered tool.
type Descriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Tool is implemented by every Workbench occupant.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	// Validate returns a non-empty error string to short-circuit Run, or ""
	// when args are acceptable.
	Validate(args map[string]any) string
	Run(ctx context.Context, args map[string]any) Result
}

// Registry is the ToolRegistry: registration, listing and dispatch of
// tools by name (spec.md §4.12).
type Registry struct {
	tools map[string]Tool
	order []string
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any prior registration under the same
// name. The tool's own name is authoritative.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("workbench: tool name must not be empty")
	}
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
	return nil
}

// List returns every registered tool's descriptor, in registration order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		out = append(out, Descriptor{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.InputSchema(),
		})
	}
	return out
}

// Call looks up a tool by name, validates args, and runs it. Unknown
// tools, validation failures and panics surface as a failed Result
// rather than an error return, matching the original Workbench's
// "never raise" contract for the agent loop calling it.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (result Result) {
	if args == nil {
		args = map[string]any{}
	}
	tool, ok := r.tools[name]
	if !ok {
		return Fail(fmt.Sprintf("unknown tool: %s", name), nil)
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = Fail(fmt.Sprintf("tool panic in %q: %v", name, rec), nil)
		}
	}()

	if errMsg := tool.Validate(args); errMsg != "" {
		return Fail(fmt.Sprintf("validation error in %q: %s", name, errMsg), nil)
	}
	return tool.Run(ctx, args)
}
