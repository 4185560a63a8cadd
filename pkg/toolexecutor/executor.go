// Package toolexecutor manages the closed set of deterministic
// operations the agent may request. Every dispatch is gated by the
// current stage's allow-list and the call's arguments are validated
// against the tool's JSON schema before the handler runs.
package toolexecutor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// Param defines a parameter for a tool.
type Param struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Handler is the function signature for tool execution.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Definition defines a tool's metadata and handler.
type Definition struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
	Handler     Handler `json:"-"`
}

// Result is the outcome of one tool dispatch.
type Result struct {
	Success  bool                   `json:"success"`
	Output   interface{}            `json:"output,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Rejected bool                   `json:"rejected,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Err preserves the handler's error for the caller; it never
	// crosses the wire to the agent.
	Err error `json:"-"`
}

// Executor holds the registered tools and their compiled schemas.
type Executor struct {
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	timeout time.Duration
	mu      sync.RWMutex
}

// New creates an Executor. timeout bounds each handler invocation.
func New(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
		timeout: timeout,
	}
}

// Register adds a tool to the registry.
func (e *Executor) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}
	schema, err := compileSchema(def)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tools[def.Name] = &def
	e.schemas[def.Name] = schema

	log.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Get returns a tool definition by name, or nil.
func (e *Executor) Get(name string) *Definition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tools[name]
}

// Specs returns name/description/schema for the named tools, in the
// given order, for handing to the agent.
func (e *Executor) Specs(names []string) []Spec {
	e.mu.RLock()
	defer e.mu.RUnlock()

	specs := make([]Spec, 0, len(names))
	for _, name := range names {
		def, ok := e.tools[name]
		if !ok {
			continue
		}
		specs = append(specs, Spec{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schemaMap(*def),
		})
	}
	return specs
}

// Spec is the wire description of one tool.
type Spec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Execute runs a tool. Calls outside the allowed set are rejected
// deterministically without invoking anything.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]interface{}, allowed []string) Result {
	start := time.Now()

	if !nameAllowed(name, allowed) {
		log.Warn().Str("tool", name).Strs("allowed", allowed).Msg("Tool call outside stage allow-list")
		return Result{
			Rejected: true,
			Error:    fmt.Sprintf("tool %q is not available in the current stage", name),
		}
	}

	e.mu.RLock()
	def := e.tools[name]
	schema := e.schemas[name]
	e.mu.RUnlock()

	if def == nil {
		return Result{Rejected: true, Error: fmt.Sprintf("unknown tool: %s", name)}
	}

	if err := validateArgs(schema, args); err != nil {
		log.Warn().Str("tool", name).Err(err).Msg("Tool argument validation failed")
		return Result{Error: fmt.Sprintf("argument validation failed: %v", err)}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resultCh := make(chan interface{}, 1)
	errCh := make(chan error, 1)
	go func() {
		output, err := def.Handler(timeoutCtx, args)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- output
	}()

	select {
	case output := <-resultCh:
		log.Debug().Str("tool", name).Dur("duration", time.Since(start)).Msg("Tool executed")
		return Result{
			Success:  true,
			Output:   output,
			Metadata: map[string]interface{}{"duration_ms": time.Since(start).Milliseconds()},
		}
	case err := <-errCh:
		log.Warn().Str("tool", name).Dur("duration", time.Since(start)).Err(err).Msg("Tool failed")
		return Result{Error: err.Error(), Err: err}
	case <-timeoutCtx.Done():
		log.Warn().Str("tool", name).Msg("Tool execution timeout")
		return Result{Error: fmt.Sprintf("tool execution timeout after %v", e.timeout)}
	}
}

func nameAllowed(name string, allowed []string) bool {
	for _, a := range allowed {
		if a == name {
			return true
		}
	}
	return false
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}
	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, p := range def.Params {
		if p.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[p.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", p.Type, p.Name)
		}
	}
	return nil
}

func schemaMap(def Definition) map[string]interface{} {
	properties := map[string]interface{}{}
	required := []string{}
	for _, p := range def.Params {
		propSchema := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Default != nil {
			propSchema["default"] = p.Default
		}
		properties[p.Name] = propSchema
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func compileSchema(def Definition) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap(def)))
}

func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := ""
		for _, desc := range result.Errors() {
			if msgs != "" {
				msgs += "; "
			}
			msgs += desc.String()
		}
		return fmt.Errorf("%s", msgs)
	}
	return nil
}
