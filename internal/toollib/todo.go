package toollib

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/xonecas/symbcore/internal/toolset"
)

// Scratchpad holds the agent's current todo list as free-form text.
type Scratchpad struct {
	mu      sync.RWMutex
	content string
}

// NewScratchpad creates an empty scratchpad.
func NewScratchpad() *Scratchpad { return &Scratchpad{} }

// Content returns the current scratchpad text.
func (s *Scratchpad) Content() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.content
}

func (s *Scratchpad) set(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content = content
}

// TodoWriteArgs are the arguments to the TodoWrite tool.
type TodoWriteArgs struct {
	Content string `json:"content"`
}

// NewTodoWriteFactory builds the TodoWrite tool: it replaces the
// session's scratchpad content wholesale, a one-shot overwrite rather
// than an append.
func NewTodoWriteFactory() toolset.Factory {
	return func(inj *toolset.Injector) (toolset.Definition, toolset.Handler, error) {
		pad := toolset.MustGet[*Scratchpad](inj)

		def := toolset.Definition{
			Name:        "TodoWrite",
			Description: "Replace the current todo list with new content. Pass the full list each time — this overwrites, it doesn't append.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"content": {"type": "string", "description": "The full todo list content, e.g. a markdown checklist"}
				},
				"required": ["content"]
			}`),
		}

		handler := func(ctx context.Context, raw json.RawMessage) (*toolset.Result, error) {
			var args TodoWriteArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return toolset.Errorf("invalid arguments: %v", err), nil
			}
			pad.set(args.Content)
			return toolset.Text("todo list updated"), nil
		}

		return def, handler, nil
	}
}
