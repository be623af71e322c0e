package agentloop

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xonecas/symbcore/internal/contextstore"
	"github.com/xonecas/symbcore/internal/provider"
	"github.com/xonecas/symbcore/internal/toolset"
)

// newID mints a random hex identifier for messages and tool calls, the
// same crypto/rand-then-hex idiom cmd/symbcore/main.go's newSessionID uses
// for session IDs.
func newID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		log.Warn().Err(err).Msg("agentloop: failed to read random bytes for id")
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// toProviderMessages flattens the journal's Parts-based Message model
// into the provider package's flat per-role fields, splitting a tool
// message's parts (normally exactly one tool_result) into one
// provider.Message per part, and an assistant message's tool_call parts
// into its ToolCalls slice.
func toProviderMessages(history []contextstore.Message) []provider.Message {
	out := make([]provider.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case contextstore.RoleTool:
			for _, p := range m.Parts {
				if p.Type != "tool_result" {
					continue
				}
				out = append(out, provider.Message{
					Role:         "tool",
					Content:      p.Text,
					ToolCallID:   p.ToolCallID,
					FunctionName: p.ToolName,
					CreatedAt:    m.CreatedAt,
				})
			}
		case contextstore.RoleAssistant:
			pm := provider.Message{Role: "assistant", CreatedAt: m.CreatedAt}
			for _, p := range m.Parts {
				switch p.Type {
				case "text":
					pm.Content += p.Text
				case "thinking":
					pm.Reasoning += p.Text
				case "tool_call":
					pm.ToolCalls = append(pm.ToolCalls, provider.ToolCall{ID: p.ToolCallID, Name: p.ToolName, Arguments: p.Args})
				}
			}
			out = append(out, pm)
		default: // user, system
			out = append(out, provider.Message{Role: string(m.Role), Content: textOf(m), CreatedAt: m.CreatedAt})
		}
	}
	return out
}

func textOf(m contextstore.Message) string {
	var s string
	for _, p := range m.Parts {
		if p.Type == "text" {
			s += p.Text
		}
	}
	return s
}

// toProviderTools adapts the toolset's advertised Definitions to the
// provider package's Tool shape.
func toProviderTools(defs []toolset.Definition) []provider.Tool {
	out := make([]provider.Tool, len(defs))
	for i, d := range defs {
		out[i] = provider.Tool{Name: d.Name, Description: d.Description, Parameters: d.InputSchema}
	}
	return out
}
