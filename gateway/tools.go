package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/mcpauth/authgate/auth"
	"github.com/mcpauth/authgate/fileref"
)

// ErrToolNotFound is returned by Registry.Call for names with no handler.
var ErrToolNotFound = errors.New("tool not found")

// ToolDescriptor is the listing entry for one tool.
type ToolDescriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema is the simplified JSON Schema shape advertised for tool inputs.
type InputSchema struct {
	Type                 string                    `json:"type"`
	Properties           map[string]SchemaProperty `json:"properties"`
	Required             []string                  `json:"required,omitempty"`
	AdditionalProperties bool                      `json:"additionalProperties"`
}

// SchemaProperty is one property in an InputSchema.
type SchemaProperty struct {
	Type        string                    `json:"type,omitempty"`
	Description string                    `json:"description,omitempty"`
	Enum        []any                     `json:"enum,omitempty"`
	Items       *SchemaProperty           `json:"items,omitempty"`
	Properties  map[string]SchemaProperty `json:"properties,omitempty"`
}

// ContentBlock is one piece of a tool result.
type ContentBlock struct {
	Type string                 `json:"type"`
	Text string                 `json:"text,omitempty"`
	File *fileref.FileReference `json:"file,omitempty"`
}

// CallToolResult is the wire shape of a completed tool call. AuthRequired
// carries the in-band challenge encoding when the gateway runs in inline
// challenge mode; tool handlers never populate it themselves.
type CallToolResult struct {
	Content           []ContentBlock `json:"content"`
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
	IsError           bool           `json:"isError,omitempty"`
	AuthRequired      *auth.Hint     `json:"authRequired,omitempty"`
}

// CallToolRequest is the decoded params of a tools/call request.
type CallToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolHandler handles one tool invocation. Returning an error signals an
// internal fault; tool-level failures the caller should see are expressed via
// an IsError result instead.
type ToolHandler func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error)

// Tool pairs a descriptor with its handler.
type Tool struct {
	Descriptor ToolDescriptor
	Handler    ToolHandler
}

// ResponseWriter accumulates a tool result as the handler runs.
type ResponseWriter interface {
	// AppendText appends a text content block.
	AppendText(format string, args ...any)
	// AppendFile appends a file reference block. The gateway resolves it to a
	// fresh download URL before the response is written.
	AppendFile(ref fileref.FileReference)
	// SetStructured sets the structured content of the result. v must marshal
	// to a JSON object.
	SetStructured(v any)
	// SetError marks the result as a tool-level failure.
	SetError()
}

type toolResponseWriter struct {
	blocks     []ContentBlock
	structured any
	isError    bool
}

func (w *toolResponseWriter) AppendText(format string, args ...any) {
	w.blocks = append(w.blocks, ContentBlock{Type: "text", Text: fmt.Sprintf(format, args...)})
}

func (w *toolResponseWriter) AppendFile(ref fileref.FileReference) {
	w.blocks = append(w.blocks, ContentBlock{Type: "file", File: &ref})
}

func (w *toolResponseWriter) SetStructured(v any) { w.structured = v }

func (w *toolResponseWriter) SetError() { w.isError = true }

func (w *toolResponseWriter) result() *CallToolResult {
	res := &CallToolResult{Content: w.blocks, IsError: w.isError}
	if res.Content == nil {
		res.Content = []ContentBlock{}
	}
	if w.structured != nil {
		if b, err := json.Marshal(w.structured); err == nil {
			var m map[string]any
			if err := json.Unmarshal(b, &m); err == nil {
				res.StructuredContent = m
			}
		}
	}
	return res
}

// ToolRequest carries the typed arguments of an invocation.
type ToolRequest[A any] struct {
	name string
	raw  json.RawMessage
	args A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	allowAdditionalProperties bool
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolAllowAdditionalProperties controls whether unknown argument fields
// are allowed. When false (default) the advertised schema sets
// additionalProperties=false and runtime decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool constructs a Tool from a typed argument struct A. The input schema
// is reflected from A; the handler decodes arguments before invoking fn with
// a writer for composing the result.
func NewTool[A any](name string, fn func(ctx context.Context, w ResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) Tool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	desc := ToolDescriptor{
		Name:        name,
		Description: cfg.description,
		InputSchema: reflectInputSchema[A](cfg.allowAdditionalProperties),
	}

	handler := func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error) {
		var a A
		if len(req.Arguments) > 0 {
			if cfg.allowAdditionalProperties {
				if err := json.Unmarshal(req.Arguments, &a); err != nil {
					return Errorf("invalid arguments: %v", err), nil
				}
			} else {
				dec := json.NewDecoder(bytes.NewReader(req.Arguments))
				dec.DisallowUnknownFields()
				if err := dec.Decode(&a); err != nil {
					return Errorf("invalid arguments: %v", err), nil
				}
			}
		}
		w := &toolResponseWriter{}
		r := &ToolRequest[A]{name: req.Name, raw: req.Arguments, args: a}
		if err := fn(ctx, w, r); err != nil {
			return nil, err
		}
		return w.result(), nil
	}

	return Tool{Descriptor: desc, Handler: handler}
}

// TextResult builds a single-text-block result.
func TextResult(s string) *CallToolResult {
	return &CallToolResult{Content: []ContentBlock{{Type: "text", Text: s}}}
}

// Errorf builds a tool-level error result with a single text block.
func Errorf(format string, a ...any) *CallToolResult {
	return &CallToolResult{
		Content: []ContentBlock{{Type: "text", Text: fmt.Sprintf(format, a...)}},
		IsError: true,
	}
}

// reflectInputSchema reflects a Go type A into the simplified InputSchema.
func reflectInputSchema[A any](allowAdditional bool) InputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))

	if s == nil || s.Type != "object" {
		return InputSchema{
			Type:                 "object",
			Properties:           map[string]SchemaProperty{},
			AdditionalProperties: allowAdditional,
		}
	}

	props := make(map[string]SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toSchemaProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return InputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: allowAdditional,
	}
}

func toSchemaProperty(s *jsonschema.Schema) SchemaProperty {
	if s == nil {
		return SchemaProperty{}
	}
	p := SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toSchemaProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toSchemaProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

// Registry owns the set of tools the gateway dispatches to. The set is fixed
// at construction; policy decisions key off the same names.
type Registry struct {
	mu       sync.RWMutex
	tools    []ToolDescriptor
	handlers map[string]ToolHandler
}

// NewRegistry builds a registry. Duplicate or empty tool names are
// configuration mistakes and fail fast.
func NewRegistry(tools ...Tool) (*Registry, error) {
	reg := &Registry{handlers: make(map[string]ToolHandler, len(tools))}
	for _, t := range tools {
		name := t.Descriptor.Name
		if name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if _, exists := reg.handlers[name]; exists {
			return nil, fmt.Errorf("duplicate tool name %q", name)
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("tool %q has no handler", name)
		}
		reg.tools = append(reg.tools, t.Descriptor)
		reg.handlers[name] = t.Handler
	}
	return reg, nil
}

// List returns a copy of the tool descriptors in registration order.
func (reg *Registry) List() []ToolDescriptor {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]ToolDescriptor, len(reg.tools))
	copy(out, reg.tools)
	return out
}

// Call dispatches a request to the named tool.
func (reg *Registry) Call(ctx context.Context, req *CallToolRequest) (*CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("invalid tool request: missing name")
	}
	reg.mu.RLock()
	h := reg.handlers[req.Name]
	reg.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, req.Name)
	}
	return h(ctx, req)
}
