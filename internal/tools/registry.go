package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aymenesoualem/bookingagent/internal/observability"
	"github.com/aymenesoualem/bookingagent/internal/policy"
	"github.com/aymenesoualem/bookingagent/internal/protocol"
)

// ParamType is the declared type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
	TypeNull    ParamType = "null"
	// TypeDate is an ISO-8601 calendar date carried as a JSON string.
	TypeDate ParamType = "date"
)

const dateLayout = "2006-01-02"

var (
	ErrDuplicateTool = errors.New("duplicate tool name")
	ErrUnknownTool   = errors.New("unknown tool")
	ErrInvalidArgs   = errors.New("invalid tool arguments")
)

// Param declares one named argument of a tool.
type Param struct {
	Name        string
	Type        ParamType
	Required    bool
	Description string
	// Items is the element type of an array parameter. Defaults to string.
	Items ParamType
}

// Handler executes a tool with validated arguments.
type Handler func(ctx context.Context, args Args) (any, error)

// Tool is a function the model may invoke mid-conversation.
type Tool struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler
}

// Schema renders the function declaration sent in session.update.
func (t Tool) Schema() protocol.ToolSchema {
	props := make(map[string]protocol.PropertySchema, len(t.Params))
	required := make([]string, 0, len(t.Params))
	for _, p := range t.Params {
		prop := protocol.PropertySchema{Type: string(p.Type), Description: p.Description}
		switch p.Type {
		case TypeDate:
			prop.Type = string(TypeString)
			prop.Format = "date"
		case TypeArray:
			prop.Items = itemSchema(p.Items)
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return protocol.ToolSchema{
		Type:        "function",
		Name:        t.Name,
		Description: t.Description,
		Parameters: protocol.ParameterSchema{
			Type:       "object",
			Properties: props,
			Required:   required,
		},
	}
}

func itemSchema(t ParamType) *protocol.PropertySchema {
	switch t {
	case "":
		return &protocol.PropertySchema{Type: string(TypeString)}
	case TypeDate:
		return &protocol.PropertySchema{Type: string(TypeString), Format: "date"}
	default:
		return &protocol.PropertySchema{Type: string(t)}
	}
}

// Registry is the static name-to-tool table built at startup.
type Registry struct {
	tools   map[string]Tool
	order   []string
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewRegistry(logger zerolog.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		logger:  logger,
		metrics: metrics,
	}
}

// Register adds tools in order. Names must be unique.
func (r *Registry) Register(tools ...Tool) error {
	for _, t := range tools {
		name := strings.TrimSpace(t.Name)
		if name == "" || t.Handler == nil {
			return fmt.Errorf("register tool %q: name and handler are required", t.Name)
		}
		if _, exists := r.tools[name]; exists {
			return fmt.Errorf("register tool %q: %w", name, ErrDuplicateTool)
		}
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	return nil
}

// Subset returns a registry exposing only the named tools, in the given order.
func (r *Registry) Subset(names ...string) (*Registry, error) {
	sub := NewRegistry(r.logger, r.metrics)
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			return nil, fmt.Errorf("subset %q: %w", name, ErrUnknownTool)
		}
		if err := sub.Register(t); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// Names lists registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Schemas returns the function declarations in registration order.
func (r *Registry) Schemas() []protocol.ToolSchema {
	out := make([]protocol.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Schema())
	}
	return out
}

// Dispatch runs the named tool with JSON-encoded arguments. An unknown name
// yields an explanatory string. Validation failures, handler errors and
// panics are logged and yield nil; Dispatch never fails the call.
func (r *Registry) Dispatch(ctx context.Context, name, arguments string) (result any) {
	t, ok := r.tools[name]
	if !ok {
		r.logger.Warn().Str("tool", name).Msg("model requested unknown tool")
		r.metrics.ObserveToolCall(name, "unknown", 0)
		return fmt.Sprintf("Function %s is not recognized.", name)
	}

	started := time.Now()
	outcome := "ok"
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("tool", name).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("tool panicked")
			outcome = "panic"
			result = nil
		}
		r.metrics.ObserveToolCall(name, outcome, time.Since(started))
	}()

	args, err := decodeArgs(t.Params, arguments)
	if err != nil {
		r.logger.Error().Err(err).Str("tool", name).Str("arguments", redactedArgs(arguments)).Msg("tool arguments rejected")
		outcome = "invalid"
		return nil
	}

	result, err = t.Handler(ctx, args)
	if err != nil {
		r.logger.Error().Err(err).Str("tool", name).Str("arguments", redactedArgs(arguments)).Msg("tool failed")
		outcome = "error"
		return nil
	}
	r.logger.Debug().Str("tool", name).Dur("elapsed", time.Since(started)).Msg("tool invoked")
	return result
}

// redactedArgs strips caller PII from raw arguments before they are logged.
func redactedArgs(raw string) string {
	out, _ := policy.RedactPII(raw)
	return out
}

// Args holds validated, typed arguments keyed by parameter name.
type Args map[string]any

func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

func (a Args) Int(name string) int64 {
	n, _ := a[name].(int64)
	return n
}

func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

func (a Args) Date(name string) time.Time {
	d, _ := a[name].(time.Time)
	return d
}

// OptionalString returns nil when the argument was omitted.
func (a Args) OptionalString(name string) *string {
	s, ok := a[name].(string)
	if !ok {
		return nil
	}
	return &s
}

// OptionalDate returns nil when the argument was omitted.
func (a Args) OptionalDate(name string) *time.Time {
	d, ok := a[name].(time.Time)
	if !ok {
		return nil
	}
	return &d
}

func decodeArgs(params []Param, raw string) (Args, error) {
	fields := map[string]json.RawMessage{}
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
		}
	}

	declared := make(map[string]Param, len(params))
	for _, p := range params {
		declared[p.Name] = p
	}
	unknown := make([]string, 0)
	for key := range fields {
		if _, ok := declared[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: unknown argument(s) %s", ErrInvalidArgs, strings.Join(unknown, ", "))
	}

	args := make(Args, len(fields))
	for _, p := range params {
		v, ok := fields[p.Name]
		if !ok || (p.Type != TypeNull && bytes.Equal(bytes.TrimSpace(v), []byte("null"))) {
			if p.Required {
				return nil, fmt.Errorf("%w: missing required argument %q", ErrInvalidArgs, p.Name)
			}
			continue
		}
		value, err := convert(p.Type, v)
		if err != nil {
			return nil, fmt.Errorf("%w: argument %q: %v", ErrInvalidArgs, p.Name, err)
		}
		args[p.Name] = value
	}
	return args, nil
}

func convert(t ParamType, raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	switch t {
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		if n, ok := v.(json.Number); ok {
			return n.String(), nil
		}
	case TypeInteger:
		switch x := v.(type) {
		case json.Number:
			if n, err := x.Int64(); err == nil {
				return n, nil
			}
			if f, err := x.Float64(); err == nil && f == float64(int64(f)) {
				return int64(f), nil
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
				return n, nil
			}
		}
	case TypeNumber:
		switch x := v.(type) {
		case json.Number:
			return x.Float64()
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return f, nil
			}
		}
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeDate:
		if s, ok := v.(string); ok {
			return time.Parse(dateLayout, strings.TrimSpace(s))
		}
	case TypeArray:
		if arr, ok := v.([]any); ok {
			return arr, nil
		}
	case TypeObject:
		if obj, ok := v.(map[string]any); ok {
			return obj, nil
		}
	case TypeNull:
		if v == nil {
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("unsupported parameter type %q", t)
	}
	return nil, fmt.Errorf("expected %s, got %s", t, string(raw))
}
