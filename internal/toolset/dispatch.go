package toolset

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/xonecas/symbcore/internal/approval"
	"github.com/xonecas/symbcore/internal/wire"
)

// Call is one tool invocation as declared by the assistant message.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// CallResult pairs a Call's ID with its outcome, in the order Dispatch
// was asked to run them — never completion order.
type CallResult struct {
	ToolCallID string
	Result     *Result
	Err        error // not set by Dispatch; every outcome, "tool not found" included, is folded into Result
}

// ToolCallBeginEvent is the wire.KindToolCallBegin payload.
type ToolCallBeginEvent struct {
	ToolCallID string
	Name       string
	Arguments  json.RawMessage
}

// ToolCallEndEvent is the wire.KindToolCallEnd payload.
type ToolCallEndEvent struct {
	ToolCallID string
	Result     *Result
}

// Dispatch runs every call concurrently, one goroutine each, and returns
// results reassembled in calls' declared order — never completion order.
//
// Before invoking a tool's Handler, Dispatch binds the call's ID into ctx
// via approval.WithToolCall so the mediator can associate any approval
// request the tool issues with the right tool_call_id, and emits
// ToolCallBegin/ToolCallEnd wire events around the call.
func (t *Toolset) Dispatch(ctx context.Context, calls []Call) []CallResult {
	out := make([]CallResult, len(calls))

	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func(i int, c Call) {
			defer wg.Done()
			out[i] = t.dispatchOne(ctx, c)
		}(i, c)
	}
	wg.Wait()
	return out
}

func (t *Toolset) dispatchOne(ctx context.Context, c Call) CallResult {
	wire.Emit(ctx, wire.KindToolCallBegin, ToolCallBeginEvent{ToolCallID: c.ID, Name: c.Name, Arguments: c.Arguments})

	res := t.invoke(ctx, c)

	wire.Emit(ctx, wire.KindToolCallEnd, ToolCallEndEvent{ToolCallID: c.ID, Result: res})
	return CallResult{ToolCallID: c.ID, Result: res}
}

func (t *Toolset) invoke(ctx context.Context, c Call) *Result {
	handler, ok := t.lookup(c.Name)
	if !ok {
		return Errorf("tool not found: %s", c.Name)
	}

	// A schema violation (here, simply malformed JSON — the tool itself
	// validates its own shape) synthesizes a rejected result without
	// invoking the tool body.
	if len(c.Arguments) > 0 && !json.Valid(c.Arguments) {
		return Rejected("invalid arguments: not valid JSON")
	}

	callCtx := approval.WithToolCall(ctx, c.ID)
	result, err := handler(callCtx, c.Arguments)
	if err != nil {
		return Errorf("%v", err)
	}
	if result == nil {
		return Text("")
	}
	return result
}
