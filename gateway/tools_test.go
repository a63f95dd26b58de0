package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

func TestNewTool_SchemaAndDecoding(t *testing.T) {
	tool := NewTool("add", func(ctx context.Context, w ResponseWriter, r *ToolRequest[addArgs]) error {
		w.SetStructured(map[string]int{"sum": r.Args().A + r.Args().B})
		w.AppendText("ok")
		return nil
	}, WithToolDescription("Adds two numbers."))

	require.Equal(t, "add", tool.Descriptor.Name)
	require.Equal(t, "object", tool.Descriptor.InputSchema.Type)
	require.Contains(t, tool.Descriptor.InputSchema.Properties, "a")
	require.Contains(t, tool.Descriptor.InputSchema.Properties, "b")
	require.False(t, tool.Descriptor.InputSchema.AdditionalProperties)

	res, err := tool.Handler(context.Background(), &CallToolRequest{
		Name:      "add",
		Arguments: json.RawMessage(`{"a":2,"b":3}`),
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.EqualValues(t, 5, res.StructuredContent["sum"])
}

func TestNewTool_RejectsUnknownFields(t *testing.T) {
	tool := NewTool("add", func(ctx context.Context, w ResponseWriter, r *ToolRequest[addArgs]) error {
		return nil
	})

	res, err := tool.Handler(context.Background(), &CallToolRequest{
		Name:      "add",
		Arguments: json.RawMessage(`{"a":1,"bogus":true}`),
	})
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestRegistry_Validation(t *testing.T) {
	echo := NewTool("echo", func(ctx context.Context, w ResponseWriter, r *ToolRequest[struct{}]) error {
		return nil
	})

	_, err := NewRegistry(echo, echo)
	require.Error(t, err, "duplicate names must fail fast")

	_, err = NewRegistry(Tool{Descriptor: ToolDescriptor{Name: "noop"}})
	require.Error(t, err, "handlerless tool must fail fast")

	reg, err := NewRegistry(echo)
	require.NoError(t, err)

	_, err = reg.Call(context.Background(), &CallToolRequest{Name: "missing"})
	require.ErrorIs(t, err, ErrToolNotFound)
}
