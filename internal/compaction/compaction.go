// Package compaction implements the strategies that reduce a turn's
// history when context pressure exceeds the model's budget. The agent
// loop depends only on the Strategy contract; which concrete strategy
// runs is a matter of configuration, not of the loop's code.
package compaction

import (
	"context"

	"github.com/xonecas/symbcore/internal/contextstore"
)

// ShouldCompact reports whether the top-of-step compaction trigger
// fires: tokenCount + reserved at or past maxContextSize.
func ShouldCompact(tokenCount, maxContextSize, reservedContextSize int) bool {
	return tokenCount+reservedContextSize >= maxContextSize
}

// Strategy reduces history to fit within budget. Returning a nil slice
// (with a nil error) means no-op: the caller makes no change. Budget
// arguments are passed through unused by some strategies (e.g. hiding
// doesn't need maxContextSize) but kept uniform across the interface so
// strategies can be composed without the caller caring which one needs
// what.
type Strategy interface {
	Compact(ctx context.Context, history []contextstore.Message, tokenCount, maxContextSize, reservedContextSize int) ([]contextstore.Message, error)
}

// StrategyFunc adapts a plain function to Strategy.
type StrategyFunc func(ctx context.Context, history []contextstore.Message, tokenCount, maxContextSize, reservedContextSize int) ([]contextstore.Message, error)

func (f StrategyFunc) Compact(ctx context.Context, history []contextstore.Message, tokenCount, maxContextSize, reservedContextSize int) ([]contextstore.Message, error) {
	return f(ctx, history, tokenCount, maxContextSize, reservedContextSize)
}

// toolCallIDs returns the tool_call_id of every tool_call part in msg.
func toolCallIDs(msg contextstore.Message) []string {
	var ids []string
	for _, p := range msg.Parts {
		if p.Type == "tool_call" {
			ids = append(ids, p.ToolCallID)
		}
	}
	return ids
}

func isToolResult(msg contextstore.Message) (string, bool) {
	if msg.Role != contextstore.RoleTool {
		return "", false
	}
	for _, p := range msg.Parts {
		if p.Type == "tool_result" {
			return p.ToolCallID, true
		}
	}
	return "", false
}

// group is one assistant message (possibly with tool calls) plus the
// contiguous run of tool messages that answer its calls, together with
// every message since the previous group ended (e.g. the system prompt
// and user messages that precede it). Messages after the last group
// boundary form one final group.
type group struct {
	start, end int // half-open [start, end) index range into history
}

// groupHistory partitions history into groups split at each
// assistant-with-tool-calls boundary.
func groupHistory(history []contextstore.Message) []group {
	var groups []group
	start := 0
	for i, m := range history {
		if m.Role == contextstore.RoleAssistant && len(toolCallIDs(m)) > 0 {
			// Extend this group past the assistant message's run of
			// matching tool results.
			end := i + 1
			for end < len(history) {
				if _, ok := isToolResult(history[end]); !ok {
					break
				}
				end++
			}
			groups = append(groups, group{start: start, end: end})
			start = end
		}
	}
	if start < len(history) {
		groups = append(groups, group{start: start, end: len(history)})
	}
	return groups
}
