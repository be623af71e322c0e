package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/xonecas/symbcore/internal/contextstore"
	"github.com/xonecas/symbcore/internal/provider"
)

// summaryPrompt asks the model to compress a history prefix into a few
// dense paragraphs a future step can resume from.
const summaryPrompt = `Summarize the conversation so far in a few dense paragraphs. ` +
	`Preserve: the user's goal, decisions made, files touched, and anything ` +
	`still outstanding. Do not include pleasantries or meta-commentary — ` +
	`write only the summary itself.`

// Summary asks an LLM to compress everything but the system prompt and
// the last MaxPreserved messages into a single system-role message,
// grounded on subagent.Run's pattern of a one-shot call with a synthetic
// prompt and extracting only the final assistant text.
type Summary struct {
	Provider     provider.Provider
	MaxPreserved int // default 2
}

// NewSummary returns a Summary strategy backed by prov, preserving the
// last maxPreserved messages verbatim (2 if maxPreserved <= 0).
func NewSummary(prov provider.Provider, maxPreserved int) *Summary {
	if maxPreserved <= 0 {
		maxPreserved = 2
	}
	return &Summary{Provider: prov, MaxPreserved: maxPreserved}
}

func (s *Summary) Compact(ctx context.Context, history []contextstore.Message, _, _, _ int) ([]contextstore.Message, error) {
	if len(history) <= s.MaxPreserved+1 {
		return nil, nil
	}

	cut := len(history) - s.MaxPreserved
	var systemMsg *contextstore.Message
	cutStart := 0
	if len(history) > 0 && history[0].Role == contextstore.RoleSystem {
		systemMsg = &history[0]
		cutStart = 1
	}
	if cut <= cutStart {
		return nil, nil
	}

	transcript := renderTranscript(history[cutStart:cut])
	if transcript == "" {
		return nil, nil
	}

	req := []provider.Message{{Role: "user", Content: summaryPrompt + "\n\n---\n\n" + transcript}}
	resp, err := streamCollect(ctx, s.Provider, req)
	if err != nil {
		return nil, fmt.Errorf("compaction: summary call failed: %w", err)
	}
	if resp == "" {
		return nil, nil
	}

	out := make([]contextstore.Message, 0, len(history)-cut+2)
	if systemMsg != nil {
		out = append(out, *systemMsg)
	}
	out = append(out, contextstore.TextMessage(contextstore.RoleSystem, "", "Summary of earlier conversation:\n\n"+resp))
	out = append(out, history[cut:]...)
	return out, nil
}

// renderTranscript flattens a message slice into plain text for the
// summarizer prompt. Tool calls and results are rendered compactly so
// the summary call itself doesn't re-inflate the very budget compaction
// is trying to relieve.
func renderTranscript(history []contextstore.Message) string {
	var b strings.Builder
	for _, m := range history {
		for _, p := range m.Parts {
			switch p.Type {
			case "text", "thinking":
				if p.Text != "" {
					fmt.Fprintf(&b, "%s: %s\n", m.Role, p.Text)
				}
			case "tool_call":
				fmt.Fprintf(&b, "%s called %s(%s)\n", m.Role, p.ToolName, string(p.Args))
			case "tool_result":
				fmt.Fprintf(&b, "tool result [%s]: %s\n", p.ToolCallID, p.Text)
			}
		}
	}
	return b.String()
}

// streamCollect runs one non-streaming-shaped chat call and returns the
// assembled text content, like internal/agentloop's streamAndCollect but
// without tool support (the summary call never needs tools) and without
// retries: the call is made once.
func streamCollect(ctx context.Context, prov provider.Provider, messages []provider.Message) (string, error) {
	ch, err := prov.ChatStream(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	var content string
	for evt := range ch {
		switch evt.Type {
		case provider.EventContentDelta:
			content += evt.Content
		case provider.EventError:
			return "", evt.Err
		}
	}
	return content, nil
}
