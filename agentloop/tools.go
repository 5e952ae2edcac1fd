package agentloop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/martinemde/gemcode/unifiedllm"
)

// ErrDuplicateTool is returned when a tool name is registered twice.
var ErrDuplicateTool = errors.New("tool already registered")

// ToolExecutor runs a tool given its raw JSON argument string.
type ToolExecutor func(ctx context.Context, arguments string, env ExecutionEnvironment) (string, error)

// RegisteredTool pairs a tool definition with its executor.
type RegisteredTool struct {
	Definition unifiedllm.ToolDefinition
	Executor   ToolExecutor
}

// ArgumentError reports arguments that failed to decode or validate. The
// dispatcher renders it differently from a failure inside the handler.
type ArgumentError struct {
	Tool string
	Err  error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

var validate = newValidator()

// newValidator reports fields by their JSON names, the names the model sees.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// NewTool builds a RegisteredTool whose advertised parameter schema is
// reflected from T, and whose executor decodes and validates arguments
// into a T before calling handler. Field descriptions come from
// jsonschema_description tags; fields tagged omitempty are optional.
func NewTool[T any](name, description string, handler func(ctx context.Context, args T, env ExecutionEnvironment) (string, error)) RegisteredTool {
	return RegisteredTool{
		Definition: unifiedllm.ToolDefinition{
			Name:        name,
			Description: description,
			Parameters:  schemaFor[T](),
		},
		Executor: func(ctx context.Context, arguments string, env ExecutionEnvironment) (string, error) {
			var args T
			if err := decodeArguments(arguments, &args); err != nil {
				return "", &ArgumentError{Tool: name, Err: err}
			}
			if err := validate.Struct(&args); err != nil {
				return "", &ArgumentError{Tool: name, Err: describeValidation(err)}
			}
			return handler(ctx, args, env)
		},
	}
}

func schemaFor[T any]() map[string]any {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("agentloop: reflect schema for %T: %v", *new(T), err))
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("agentloop: decode schema for %T: %v", *new(T), err))
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

func decodeArguments(arguments string, v any) error {
	raw := strings.TrimSpace(arguments)
	if raw == "" {
		raw = "{}"
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after arguments object")
	}
	return nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must have at least %s item(s)", field, fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// ToolRegistry manages tool registration and dispatch. Each Session gets
// its own registry; there is no package-level tool table.
type ToolRegistry struct {
	tools map[string]*RegisteredTool
	mu    sync.RWMutex
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*RegisteredTool),
	}
}

// Register adds a tool. Registering a name twice returns ErrDuplicateTool.
func (r *ToolRegistry) Register(tool RegisteredTool) error {
	name := tool.Definition.Name
	if name == "" {
		return errors.New("tool name is required")
	}
	if tool.Executor == nil {
		return fmt.Errorf("tool %q has no executor", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = &tool
	return nil
}

// Get returns a registered tool by name, or nil if not found.
func (r *ToolRegistry) Get(name string) *RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns all tool definitions sorted by name.
func (r *ToolRegistry) Definitions() []unifiedllm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]unifiedllm.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns the sorted names of all registered tools.
func (r *ToolRegistry) Names() []string {
	defs := r.Definitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Dispatch executes call and returns its result. It never returns a Go
// error: unknown tools, bad arguments and handler failures all become a
// ToolResult with IsError set, so the model sees them as tool output.
func (r *ToolRegistry) Dispatch(ctx context.Context, call unifiedllm.ToolCall, env ExecutionEnvironment) unifiedllm.ToolResult {
	name := call.Function.Name
	start := time.Now()
	result := unifiedllm.ToolResult{ToolCallID: call.ID}

	tool := r.Get(name)
	if tool == nil {
		result.Content = fmt.Sprintf("Error: Unknown tool: %s", name)
		result.IsError = true
	} else {
		out, err := tool.Executor(ctx, call.Function.Arguments, env)
		var argErr *ArgumentError
		switch {
		case errors.As(err, &argErr):
			result.Content = "Error: " + argErr.Error()
			result.IsError = true
		case err != nil:
			result.Content = fmt.Sprintf("Error executing tool %s: %v", name, err)
			result.IsError = true
		default:
			result.Content = out
		}
	}
	result.Content = FormatToolOutput(result.Content)

	slog.Debug("tool executed",
		"tool", name,
		"call_id", call.ID,
		"duration", time.Since(start),
		"is_error", result.IsError,
		"output_chars", len(result.Content),
	)
	return result
}
