package compaction

import (
	"context"

	"github.com/xonecas/symbcore/internal/contextstore"
)

// hiddenPlaceholder replaces a hidden tool result's content. The
// tool_call_id is preserved so the assistant-tool-call/tool-message
// pairing invariant still holds after hiding.
const hiddenPlaceholder = "[tool result hidden]"

// Hiding preserves tool messages in the last PreserveGroups assistant
// tool-call groups; in earlier groups, it replaces each tool message's
// content with hiddenPlaceholder while keeping its tool_call_id. If no
// message needed replacing (there were PreserveGroups groups or fewer),
// Compact returns (nil, nil): a no-op.
type Hiding struct {
	PreserveGroups int // default 5
}

// NewHiding returns a Hiding strategy preserving the last preserveGroups
// groups (5 if preserveGroups <= 0).
func NewHiding(preserveGroups int) *Hiding {
	if preserveGroups <= 0 {
		preserveGroups = 5
	}
	return &Hiding{PreserveGroups: preserveGroups}
}

func (h *Hiding) Compact(_ context.Context, history []contextstore.Message, _, _, _ int) ([]contextstore.Message, error) {
	groups := groupHistory(history)
	if len(groups) <= h.PreserveGroups {
		return nil, nil
	}

	cutoff := len(groups) - h.PreserveGroups
	out := make([]contextstore.Message, len(history))
	copy(out, history)

	changed := false
	for gi := 0; gi < cutoff; gi++ {
		g := groups[gi]
		for i := g.start; i < g.end; i++ {
			msg := out[i]
			if _, ok := isToolResult(msg); !ok {
				continue
			}
			if alreadyHidden(msg) {
				continue
			}
			out[i] = hideToolResult(msg)
			changed = true
		}
	}

	if !changed {
		return nil, nil
	}
	return out, nil
}

func alreadyHidden(msg contextstore.Message) bool {
	for _, p := range msg.Parts {
		if p.Type == "tool_result" {
			return p.Hidden
		}
	}
	return false
}

func hideToolResult(msg contextstore.Message) contextstore.Message {
	parts := make([]contextstore.Part, len(msg.Parts))
	copy(parts, msg.Parts)
	for i, p := range parts {
		if p.Type == "tool_result" {
			parts[i].Text = hiddenPlaceholder
			parts[i].Hidden = true
		}
	}
	msg.Parts = parts
	return msg
}
