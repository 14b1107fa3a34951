package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Separator joins a provider name and a local tool name into a tool ID.
const Separator = "__"

// ErrInvalidToolID is returned when a tool ID does not have the
// "<provider>__<tool>" shape.
var ErrInvalidToolID = errors.New("invalid tool id")

// Descriptor describes one tool offered by a provider.
type Descriptor struct {
	Provider    string
	Name        string
	Description string
	InputSchema map[string]any
}

// ID returns the namespaced identifier of the tool.
func (d Descriptor) ID() string {
	return JoinID(d.Provider, d.Name)
}

// Schema returns the input schema, falling back to an empty object schema
// when the provider did not declare one.
func (d Descriptor) Schema() map[string]any {
	if len(d.InputSchema) == 0 {
		return DefaultSchema()
	}
	return d.InputSchema
}

// DefaultSchema is the schema used for tools that declare no input.
func DefaultSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
		"required":   []any{},
	}
}

// JoinID builds the namespaced tool identifier.
func JoinID(provider, tool string) string {
	return provider + Separator + tool
}

// SplitID splits a namespaced identifier at the first separator.
func SplitID(id string) (provider, tool string, err error) {
	provider, tool, ok := strings.Cut(id, Separator)
	if !ok || provider == "" || tool == "" {
		return "", "", fmt.Errorf("%w: %q (expected provider%stool)", ErrInvalidToolID, id, Separator)
	}
	return provider, tool, nil
}

// Invoker calls a tool by its provider-local name.
type Invoker interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}
