package agentloop

import (
	"context"
	"fmt"
	"time"

	"github.com/xonecas/symbcore/internal/contextstore"
	"github.com/xonecas/symbcore/internal/provider"
	"github.com/xonecas/symbcore/internal/toolset"
	"github.com/xonecas/symbcore/internal/wire"
)

// outcomeKind tags a step's result; the D-Mail rewind is a variant here
// rather than an error, so the loop branches on it instead of unwinding.
type outcomeKind int

const (
	outcomeContinue outcomeKind = iota // assistant issued tool calls, loop again
	outcomeDone                        // turn is over: no tool calls, or a rejection
	outcomeRewind                      // a D-Mail is pending; caller must revert
)

type stepResult struct {
	kind  outcomeKind
	dmail DMail
}

// step runs a single LLM-call-plus-tool-round. The caller (runOneStep,
// in loop.go) has already run compaction and taken this step's
// checkpoint before calling step.
func (l *Loop) step(ctx context.Context) (stepResult, error) {
	history := toProviderMessages(l.Ctx.Messages())
	if l.SystemPrompt != "" {
		history = append([]provider.Message{{Role: "system", Content: l.SystemPrompt}}, history...)
	}
	tools := toProviderTools(l.Tools.Definitions())

	if tc, ok := l.Provider.(provider.ThinkingConfigurable); ok {
		tc.SetThinkingEffort(string(l.ThinkingEffort))
	}

	resp, err := streamAndCollect(ctx, l.Provider, history, tools, l.Cfg.MaxRetriesPerStep)
	if err != nil {
		return stepResult{}, fmt.Errorf("agentloop: LLM call failed: %w", err)
	}

	wire.Emit(ctx, wire.KindStatusUpdate, StatusUpdateEvent{
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		ContextUsage: resp.InputTokens,
	})

	assistantMsg := assistantMessage(resp)

	var calls []toolset.Call
	for _, p := range assistantMsg.Parts {
		if p.Type == "tool_call" {
			calls = append(calls, toolset.Call{ID: p.ToolCallID, Name: p.ToolName, Arguments: p.Args})
		}
	}

	// Tool results are awaited shielded from outer cancellation —
	// the step's final append-and-commit must never leave an orphaned
	// assistant tool call without its tool messages in the journal.
	shieldCtx := context.WithoutCancel(ctx)
	var results []toolset.CallResult
	if len(calls) > 0 {
		results = l.Tools.Dispatch(shieldCtx, calls)
	}

	if err := l.Ctx.Append(assistantMsg); err != nil {
		return stepResult{}, fmt.Errorf("agentloop: append assistant message: %w", err)
	}

	rejected := false
	for _, r := range results {
		toolMsg := toolResultMessage(r)
		if err := l.Ctx.Append(toolMsg); err != nil {
			return stepResult{}, fmt.Errorf("agentloop: append tool message: %w", err)
		}
		if r.Result != nil && r.Result.Rejected {
			rejected = true
		}
	}

	// The usage row follows the step's message rows in the journal.
	if resp.InputTokens > 0 || resp.OutputTokens > 0 {
		if err := l.Ctx.AppendUsage(resp.InputTokens, resp.OutputTokens); err != nil {
			return stepResult{}, fmt.Errorf("agentloop: record usage: %w", err)
		}
	}

	// Any tool rejected ends the turn; a pending D-Mail is discarded
	// rather than acted on.
	if rejected {
		l.DMail.Clear()
		return stepResult{kind: outcomeDone}, nil
	}

	// A pending D-Mail takes priority over the "done" check —
	// even if the assistant also chose to stop calling tools, an
	// outstanding D-Mail still triggers a rewind next.
	if d, ok := l.DMail.Take(); ok {
		return stepResult{kind: outcomeRewind, dmail: d}, nil
	}

	// Done when the assistant chose to answer without tools.
	if len(calls) == 0 {
		return stepResult{kind: outcomeDone}, nil
	}
	return stepResult{kind: outcomeContinue}, nil
}

func (l *Loop) runCompaction(ctx context.Context) error {
	if l.Compactor == nil {
		return nil
	}
	wire.Emit(ctx, wire.KindCompactionBegin, CompactionBeginEvent{TokenCount: l.Ctx.TokenCount()})
	history := l.Ctx.Messages()
	newHistory, err := l.Compactor.Compact(ctx, history, l.Ctx.TokenCount(), l.Cfg.MaxContextSize, l.Cfg.ReservedContextSize)
	if err != nil {
		return err
	}
	after := len(history)
	if newHistory != nil {
		if err := l.Ctx.ReplaceFrom(0, newHistory); err != nil {
			return err
		}
		after = len(newHistory)
	}
	wire.Emit(ctx, wire.KindCompactionEnd, CompactionEndEvent{Before: len(history), After: after})
	return nil
}

func assistantMessage(resp *provider.ChatResponse) contextstore.Message {
	msg := contextstore.Message{ID: newID(), Role: contextstore.RoleAssistant, CreatedAt: time.Now()}
	if resp.Reasoning != "" {
		msg.Parts = append(msg.Parts, contextstore.Part{Type: "thinking", Text: resp.Reasoning})
	}
	if resp.Content != "" {
		msg.Parts = append(msg.Parts, contextstore.Part{Type: "text", Text: resp.Content})
	}
	for _, tc := range resp.ToolCalls {
		msg.Parts = append(msg.Parts, contextstore.Part{
			Type:       "tool_call",
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Args:       tc.Arguments,
		})
	}
	return msg
}

func toolResultMessage(r toolset.CallResult) contextstore.Message {
	text := toolset.ResultText(r.Result)
	isErr := r.Result == nil || r.Result.IsError
	return contextstore.Message{
		ID:   newID(),
		Role: contextstore.RoleTool,
		Parts: []contextstore.Part{{
			Type:       "tool_result",
			Text:       text,
			ToolCallID: r.ToolCallID,
			IsError:    isErr,
		}},
		CreatedAt: time.Now(),
	}
}
