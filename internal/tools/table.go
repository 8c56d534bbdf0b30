package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ent0n29/tastecall/internal/protocol"
)

var ErrUnknownFunction = errors.New("unknown function")

// Handler runs one function call. Expected failures are reported inside the
// returned JSON as an "error" field; a non-nil error means the call could not
// complete at all.
type Handler func(ctx context.Context, args map[string]any, ec *EntityContext) (string, error)

// Function is one operation offered to the model.
type Function struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler
}

// Table is the function dispatch table. It is immutable after construction.
type Table struct {
	byName map[string]Function
	order  []string
}

func NewTable(fns ...Function) (*Table, error) {
	t := &Table{byName: make(map[string]Function, len(fns))}
	for i, fn := range fns {
		name := strings.TrimSpace(fn.Name)
		if name == "" {
			return nil, fmt.Errorf("function %d: name must be non-empty", i)
		}
		if fn.Handler == nil {
			return nil, fmt.Errorf("function %q: handler is nil", name)
		}
		if _, dup := t.byName[name]; dup {
			return nil, fmt.Errorf("function %q registered twice", name)
		}
		fn.Name = name
		t.byName[name] = fn
		t.order = append(t.order, name)
	}
	return t, nil
}

func (t *Table) Lookup(name string) (Function, bool) {
	if t == nil {
		return Function{}, false
	}
	fn, ok := t.byName[name]
	return fn, ok
}

// Names returns the registered names sorted alphabetically.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	out := append([]string(nil), t.order...)
	sort.Strings(out)
	return out
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// Definitions renders the tool list for session negotiation, in registration order.
func (t *Table) Definitions() []protocol.ToolDefinition {
	if t == nil {
		return []protocol.ToolDefinition{}
	}
	out := make([]protocol.ToolDefinition, 0, len(t.order))
	for _, name := range t.order {
		fn := t.byName[name]
		params := fn.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, protocol.ToolDefinition{
			Type:        "function",
			Name:        fn.Name,
			Description: fn.Description,
			Parameters:  params,
		})
	}
	return out
}
