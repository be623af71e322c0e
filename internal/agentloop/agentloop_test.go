package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xonecas/symbcore/internal/approval"
	"github.com/xonecas/symbcore/internal/compaction"
	"github.com/xonecas/symbcore/internal/config"
	"github.com/xonecas/symbcore/internal/contextstore"
	"github.com/xonecas/symbcore/internal/provider"
	"github.com/xonecas/symbcore/internal/toolset"
	"github.com/xonecas/symbcore/internal/wire"
)

func newTestCtx(t *testing.T) *contextstore.Context {
	t.Helper()
	c, err := contextstore.Open(filepath.Join(t.TempDir(), "context.jsonl"))
	if err != nil {
		t.Fatalf("contextstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newTestLoop(t *testing.T, prov provider.Provider, tools *toolset.Toolset, appr *approval.Mediator) (*Loop, *contextstore.Context, *wire.Bus, *wire.Recorder) {
	t.Helper()
	ctxStore := newTestCtx(t)
	bus := wire.New()
	rec := wire.NewRecorder(context.Background(), bus)
	if tools == nil {
		tools = toolset.New()
	}
	if appr == nil {
		appr = approval.New(false, nil)
	}
	l := New(ctxStore, bus, tools, prov, appr, nil, config.AgentConfig{MaxStepsPerRun: 40}, "system prompt")
	return l, ctxStore, bus, rec
}

// A simple text turn with no tool calls.
func TestSimpleTextTurn(t *testing.T) {
	prov := provider.NewMock("mock", "hello")
	l, ctxStore, _, rec := newTestLoop(t, prov, nil, nil)

	if err := l.Run(context.Background(), "hi"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs := ctxStore.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2 (user, assistant)", len(msgs))
	}
	if msgs[0].Role != contextstore.RoleUser {
		t.Errorf("messages[0].Role = %v, want user", msgs[0].Role)
	}
	if msgs[1].Role != contextstore.RoleAssistant {
		t.Errorf("messages[1].Role = %v, want assistant", msgs[1].Role)
	}
	if got := textOf(msgs[1]); got != "hello" {
		t.Errorf("assistant text = %q, want %q", got, "hello")
	}
	if ctxStore.TokenCount() == 0 {
		t.Error("expected a non-zero recorded token count after the step")
	}

	// The Recorder appends from its own goroutine; wait for the turn's
	// last event to land before reading what it holds.
	deadline := time.Now().Add(time.Second)
	for len(rec.OfKind(wire.KindTurnFinished)) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	kinds := []wire.Kind{}
	for _, ev := range rec.Events() {
		kinds = append(kinds, ev.Kind)
	}
	want := []wire.Kind{wire.KindTurnStarted, wire.KindStepStarted, wire.KindTextDelta, wire.KindStatusUpdate, wire.KindTurnFinished}
	if !containsInOrder(kinds, want) {
		t.Errorf("wire kinds = %v, want to contain in order %v", kinds, want)
	}
}

// The journal rows for a simple turn land in checkpoint, user,
// checkpoint, assistant, usage order.
func TestSimpleTurnJournalOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context.jsonl")
	ctxStore, err := contextstore.Open(path)
	if err != nil {
		t.Fatalf("contextstore.Open: %v", err)
	}
	l := New(ctxStore, wire.New(), toolset.New(), provider.NewMock("mock", "hello"), approval.New(true, nil), nil, config.AgentConfig{MaxStepsPerRun: 5}, "system prompt")

	if err := l.Run(context.Background(), "hi"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := ctxStore.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	var roles []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var row struct {
			Role string `json:"role"`
		}
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			t.Fatalf("parse journal line %q: %v", line, err)
		}
		roles = append(roles, row.Role)
	}
	want := []string{"_checkpoint", "user", "_checkpoint", "assistant", "_usage"}
	if len(roles) != len(want) {
		t.Fatalf("journal roles = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("journal roles = %v, want %v", roles, want)
		}
	}
}

// containsInOrder reports whether want appears as a (not necessarily
// contiguous) subsequence of got.
func containsInOrder(got, want []wire.Kind) bool {
	i := 0
	for _, k := range got {
		if i < len(want) && k == want[i] {
			i++
		}
	}
	return i == len(want)
}

// A single tool call that gets approved, then a final text reply.
func TestSingleToolCallApproved(t *testing.T) {
	toolArgs, _ := json.Marshal(map[string]string{"command": "echo hi"})
	prov := provider.NewMockSequence("mock",
		provider.ChatResponse{ToolCalls: []provider.ToolCall{{ID: "tc-1", Name: "Echo", Arguments: toolArgs}}},
		provider.ChatResponse{Content: "done"},
	)

	var reqCount int
	var capturedReq approval.Request
	appr := approval.New(false, func(r approval.Request) { reqCount++; capturedReq = r })

	// The handler requires approval before doing its work.
	tools := toolset.New()
	tools.Register(toolset.Definition{Name: "Echo", Description: "echoes its input", InputSchema: json.RawMessage(`{"type":"object"}`)},
		func(ctx context.Context, args json.RawMessage) (*toolset.Result, error) {
			d, err := appr.Request(ctx, "Echo", "echo.run", "run echo")
			if err != nil {
				return nil, err
			}
			if d == approval.Reject {
				return toolset.Rejected("user rejected Echo"), nil
			}
			return toolset.Text("hi"), nil
		})

	l, ctxStore, _, rec := newTestLoop(t, prov, tools, appr)

	// Resolve the approval request as soon as it's published.
	go func() {
		deadline := time.Now().Add(time.Second)
		for capturedReq.ID == "" && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		if capturedReq.ID != "" {
			_ = appr.Resolve(capturedReq.ID, approval.ApproveOnce)
		}
	}()

	if err := l.Run(context.Background(), "run echo for me"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs := ctxStore.Messages()
	if len(msgs) != 4 {
		t.Fatalf("len(messages) = %d, want 4 (user, assistant(tool_call), tool, assistant)", len(msgs))
	}
	if msgs[1].Role != contextstore.RoleAssistant || len(msgs[1].ToolCallIDs()) != 1 {
		t.Fatalf("messages[1] = %+v, want assistant with one tool call", msgs[1])
	}
	if msgs[2].Role != contextstore.RoleTool {
		t.Fatalf("messages[2].Role = %v, want tool", msgs[2].Role)
	}
	if msgs[3].Role != contextstore.RoleAssistant || textOf(msgs[3]) != "done" {
		t.Fatalf("messages[3] = %+v, want assistant text %q", msgs[3], "done")
	}

	if reqCount != 1 {
		t.Errorf("approval requests published = %d, want 1", reqCount)
	}
	steps := rec.OfKind(wire.KindStepStarted)
	if len(steps) != 2 {
		t.Errorf("StepStarted count = %d, want 2", len(steps))
	}
}

// A rejected tool call ends the turn immediately.
func TestRejectedToolCallEndsTurn(t *testing.T) {
	toolArgs, _ := json.Marshal(map[string]string{"command": "rm -rf /"})
	prov := provider.NewMockSequence("mock",
		provider.ChatResponse{ToolCalls: []provider.ToolCall{{ID: "tc-1", Name: "Echo", Arguments: toolArgs}}},
		provider.ChatResponse{Content: "should never be reached"},
	)

	// A mediator that auto-rejects every request it publishes, simulating
	// the UI responding "reject" to the approval prompt.
	var m *approval.Mediator
	m = approval.New(false, func(r approval.Request) {
		go func() { _ = m.Resolve(r.ID, approval.Reject) }()
	})

	tools := toolset.New()
	tools.Register(toolset.Definition{Name: "Echo"}, func(ctx context.Context, args json.RawMessage) (*toolset.Result, error) {
		d, err := m.Request(ctx, "Echo", "echo.run", "dangerous command")
		if err != nil {
			return nil, err
		}
		if d == approval.Reject {
			return toolset.Rejected("rejected by user"), nil
		}
		return toolset.Text("hi"), nil
	})

	l, ctxStore, _, rec := newTestLoop(t, prov, tools, m)

	if err := l.Run(context.Background(), "do something dangerous"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs := ctxStore.Messages()
	if len(msgs) != 3 {
		t.Fatalf("len(messages) = %d, want 3 (user, assistant(tool_call), tool(rejected))", len(msgs))
	}
	lastPart := msgs[2].Parts[0]
	if !lastPart.IsError {
		t.Error("rejected tool result should be marked IsError")
	}
	steps := rec.OfKind(wire.KindStepStarted)
	if len(steps) != 1 {
		t.Errorf("StepStarted count = %d, want 1 (turn ends after the rejection's step)", len(steps))
	}

	// The next turn must not inherit any pending D-Mail.
	if _, ok := l.DMail.Take(); ok {
		t.Error("no D-Mail should be pending after a rejected-tool-call turn")
	}
}

// D-Mail rewind.
func TestDMailRewind(t *testing.T) {
	// Checkpoint 0 is taken by Run itself before appending the user
	// message; checkpoint 1 at the top of step 1.
	// Step 1: the assistant calls SendDMail targeting checkpoint 1.
	// Step 2 (after the rewind): the assistant replies with plain text.
	dmailArgs, _ := json.Marshal(map[string]any{"checkpoint_id": 1, "message": "try approach B"})
	prov := provider.NewMockSequence("mock",
		provider.ChatResponse{ToolCalls: []provider.ToolCall{{ID: "tc-1", Name: "SendDMail", Arguments: dmailArgs}}},
		provider.ChatResponse{Content: "done after rewind"},
	)

	l, ctxStore, _, rec := newTestLoop(t, prov, nil, nil)

	box := l.DMail
	sendDMail := func(ctx context.Context, args json.RawMessage) (*toolset.Result, error) {
		var a struct {
			CheckpointID int    `json:"checkpoint_id"`
			Message      string `json:"message"`
		}
		if err := json.Unmarshal(args, &a); err != nil {
			return toolset.Errorf("%v", err), nil
		}
		if !ctxStore.HasCheckpoint(a.CheckpointID) {
			return toolset.Errorf("unknown checkpoint %d", a.CheckpointID), nil
		}
		if err := box.Send(DMail{CheckpointID: a.CheckpointID, Message: a.Message}); err != nil {
			return toolset.Errorf("%v", err), nil
		}
		return toolset.Text("queued"), nil
	}
	l.Tools.Register(toolset.Definition{Name: "SendDMail"}, sendDMail)

	// Checkpoint 1 is the one taken at the start of step 1, before its
	// LLM call — so target it directly.
	if err := l.Run(context.Background(), "try approach A first"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs := ctxStore.Messages()
	// After the rewind to checkpoint 1 (taken at the top of step 1, after
	// Run appended the user message), the history holds the injected
	// system note and the final assistant text.
	var sawNote, sawFinal bool
	for _, m := range msgs {
		if m.Role == contextstore.RoleSystem && textOf(m) == "try approach B" {
			sawNote = true
		}
		if m.Role == contextstore.RoleAssistant && textOf(m) == "done after rewind" {
			sawFinal = true
		}
	}
	if !sawNote {
		t.Error("expected the D-Mail's message to be injected as a system note")
	}
	if !sawFinal {
		t.Error("expected the turn to complete with the post-rewind assistant reply")
	}

	steps := rec.OfKind(wire.KindStepStarted)
	if len(steps) < 2 {
		t.Errorf("expected at least 2 steps (one before rewind, one after), got %d", len(steps))
	}

	// Checkpoint IDs recorded in the journal must be strictly increasing.
	assertMonotonicCheckpoints(t, ctxStore)
}

func assertMonotonicCheckpoints(t *testing.T, ctxStore *contextstore.Context) {
	t.Helper()
	// NextCheckpointID only tells us the count; re-derive monotonicity by
	// checking every id 0..n-1 is known (dense) — a weaker but still
	// meaningful proxy for "strictly increasing ids were allocated".
	n := ctxStore.NextCheckpointID()
	for i := 0; i < n; i++ {
		if !ctxStore.HasCheckpoint(i) {
			t.Errorf("checkpoint id %d missing; ids should be dense and monotonic up to %d", i, n)
		}
	}
}

// Max steps exceeded.
func TestMaxStepsReached(t *testing.T) {
	toolArgs, _ := json.Marshal(map[string]string{})
	var resps []provider.ChatResponse
	for i := 0; i < 5; i++ {
		resps = append(resps, provider.ChatResponse{ToolCalls: []provider.ToolCall{{ID: "tc", Name: "Echo", Arguments: toolArgs}}})
	}
	prov := provider.NewMockSequence("mock", resps...)

	tools := toolset.New()
	tools.Register(toolset.Definition{Name: "Echo"}, func(ctx context.Context, args json.RawMessage) (*toolset.Result, error) {
		return toolset.Text("hi"), nil
	})

	ctxStore := newTestCtx(t)
	bus := wire.New()
	rec := wire.NewRecorder(context.Background(), bus)
	appr := approval.New(true, nil)
	l := New(ctxStore, bus, tools, prov, appr, nil, config.AgentConfig{MaxStepsPerRun: 3}, "system prompt")

	err := l.Run(context.Background(), "keep calling tools forever")
	if err != ErrMaxStepsReached {
		t.Fatalf("Run err = %v, want ErrMaxStepsReached", err)
	}

	if got := len(rec.OfKind(wire.KindTurnFinished)); got != 0 {
		t.Errorf("TurnFinished emitted %d times, want 0 on MaxStepsReached", got)
	}
	steps := rec.OfKind(wire.KindStepStarted)
	if len(steps) != 3 {
		t.Errorf("StepStarted count = %d, want 3 (fails entering step 4)", len(steps))
	}
}

// Compaction triggered at the top of a step.
func TestCompactionTriggeredAtStepTop(t *testing.T) {
	prov := provider.NewMock("mock", "ok")
	var compactCalls int
	strat := compaction.StrategyFunc(func(ctx context.Context, history []contextstore.Message, tokenCount, maxContextSize, reservedContextSize int) ([]contextstore.Message, error) {
		compactCalls++
		if len(history) == 0 {
			return nil, nil
		}
		return []contextstore.Message{contextstore.TextMessage(contextstore.RoleSystem, "summary", "compacted summary")}, nil
	})

	ctxStore := newTestCtx(t)
	bus := wire.New()
	rec := wire.NewRecorder(context.Background(), bus)
	appr := approval.New(true, nil)
	tools := toolset.New()
	l := New(ctxStore, bus, tools, prov, appr, strat, config.AgentConfig{MaxStepsPerRun: 5, MaxContextSize: 1000, ReservedContextSize: 200}, "system")

	// Force token_count past the compaction trigger by recording usage
	// directly before the turn starts, simulating an already-loaded
	// session whose prior step reported heavy usage.
	if err := ctxStore.Append(contextstore.TextMessage(contextstore.RoleUser, "u0", "earlier message")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := ctxStore.AppendUsage(850, 10); err != nil {
		t.Fatalf("AppendUsage: %v", err)
	}

	if err := l.Run(context.Background(), "hi again"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if compactCalls == 0 {
		t.Error("expected compaction to run when token_count + reserved >= max_context_size")
	}
	begins := rec.OfKind(wire.KindCompactionBegin)
	ends := rec.OfKind(wire.KindCompactionEnd)
	if len(begins) == 0 || len(ends) == 0 {
		t.Error("expected CompactionBegin/CompactionEnd events to be emitted")
	}
}

// Property: revert_to(k); revert_to(k) has the same effect as revert_to(k).
func TestRevertIdempotence(t *testing.T) {
	ctxStore := newTestCtx(t)
	if _, err := ctxStore.Checkpoint(); err != nil {
		t.Fatal(err)
	}
	if err := ctxStore.Append(contextstore.TextMessage(contextstore.RoleUser, "1", "one")); err != nil {
		t.Fatal(err)
	}
	cp, err := ctxStore.Checkpoint()
	if err != nil {
		t.Fatal(err)
	}
	if err := ctxStore.Append(contextstore.TextMessage(contextstore.RoleUser, "2", "two")); err != nil {
		t.Fatal(err)
	}

	if err := ctxStore.RevertTo(cp); err != nil {
		t.Fatal(err)
	}
	lenAfterFirst := ctxStore.Len()
	if err := ctxStore.RevertTo(cp); err != nil {
		t.Fatal(err)
	}
	if got := ctxStore.Len(); got != lenAfterFirst {
		t.Errorf("len after second revert_to(%d) = %d, want %d (idempotent)", cp, got, lenAfterFirst)
	}
}

// Property: YOLO mode never emits an ApprovalRequest wire event, even
// when a tool calls approval.Request.
func TestYOLONeverEmitsApprovalRequest(t *testing.T) {
	toolArgs, _ := json.Marshal(map[string]string{})
	prov := provider.NewMockSequence("mock",
		provider.ChatResponse{ToolCalls: []provider.ToolCall{{ID: "tc-1", Name: "Echo", Arguments: toolArgs}}},
		provider.ChatResponse{Content: "done"},
	)

	var m *approval.Mediator
	m = approval.New(true, func(r approval.Request) {
		wire.Emit(context.Background(), wire.KindApprovalRequest, r)
	})

	tools := toolset.New()
	tools.Register(toolset.Definition{Name: "Echo"}, func(ctx context.Context, args json.RawMessage) (*toolset.Result, error) {
		d, err := m.Request(ctx, "Echo", "echo.run", "run it")
		if err != nil {
			return nil, err
		}
		if d == approval.Reject {
			return toolset.Rejected("rejected"), nil
		}
		return toolset.Text("hi"), nil
	})

	l, _, _, rec := newTestLoop(t, prov, tools, m)
	if err := l.Run(context.Background(), "go"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(rec.OfKind(wire.KindApprovalRequest)); got != 0 {
		t.Errorf("ApprovalRequest emitted %d times under YOLO, want 0", got)
	}
}

// A registered slash command runs instead of an LLM turn and leaves the
// journal untouched.
func TestSlashCommandDispatch(t *testing.T) {
	prov := provider.NewMock("mock", "should never run")
	l, ctxStore, _, rec := newTestLoop(t, prov, nil, nil)

	var gotArgs string
	l.Commands = map[string]Command{
		"think": func(_ context.Context, args string) error {
			gotArgs = args
			return nil
		},
	}

	if err := l.Run(context.Background(), "/think high"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gotArgs != "high" {
		t.Errorf("command args = %q, want %q", gotArgs, "high")
	}
	if got := ctxStore.Len(); got != 0 {
		t.Errorf("journal has %d messages after a slash command, want 0", got)
	}
	// The Recorder appends from its own goroutine; wait for TurnFinished
	// (the last event of the turn) before counting.
	deadline := time.Now().Add(time.Second)
	for len(rec.OfKind(wire.KindTurnFinished)) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := len(rec.OfKind(wire.KindStepStarted)); got != 0 {
		t.Errorf("StepStarted emitted %d times for a slash command, want 0", got)
	}
	if got := len(rec.OfKind(wire.KindTurnFinished)); got != 1 {
		t.Errorf("TurnFinished emitted %d times, want 1", got)
	}
}

// An unregistered "/word" input falls through to the model as ordinary
// input.
func TestUnknownSlashCommandFallsThrough(t *testing.T) {
	prov := provider.NewMock("mock", "treated as chat")
	l, ctxStore, _, _ := newTestLoop(t, prov, nil, nil)
	l.Commands = map[string]Command{}

	if err := l.Run(context.Background(), "/unknown thing"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := ctxStore.Len(); got != 2 {
		t.Errorf("journal has %d messages, want 2 (user, assistant)", got)
	}
}

// Image input against a text-only provider fails before anything is
// journaled.
func TestImageInputUnsupported(t *testing.T) {
	prov := provider.NewMock("mock", "never reached")
	l, ctxStore, _, _ := newTestLoop(t, prov, nil, nil)

	msg := contextstore.Message{
		ID:   "u1",
		Role: contextstore.RoleUser,
		Parts: []contextstore.Part{
			{Type: "text", Text: "what's in this picture?"},
			{Type: "image", ImageRef: "photo.png"},
		},
	}
	err := l.RunMessage(context.Background(), msg)
	if !errors.Is(err, ErrLLMNotSupported) {
		t.Fatalf("RunMessage err = %v, want ErrLLMNotSupported", err)
	}
	if got := ctxStore.Len(); got != 0 {
		t.Errorf("journal has %d messages after a rejected turn, want 0", got)
	}
}

// The configured system prompt leads the history handed to the provider
// without ever being journaled.
func TestSystemPromptPrependedToProviderHistory(t *testing.T) {
	var captured []provider.Message
	prov := &capturingProvider{text: "ok", capture: func(msgs []provider.Message) { captured = msgs }}

	l, ctxStore, _, _ := newTestLoop(t, prov, nil, nil)
	if err := l.Run(context.Background(), "hi"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(captured) == 0 || captured[0].Role != "system" || captured[0].Content != "system prompt" {
		t.Fatalf("provider history head = %+v, want the configured system prompt", captured)
	}
	for _, m := range ctxStore.Messages() {
		if m.Role == contextstore.RoleSystem {
			t.Error("system prompt must not be journaled")
		}
	}
}

type capturingProvider struct {
	text    string
	capture func([]provider.Message)
}

func (p *capturingProvider) Name() string { return "capturing" }
func (p *capturingProvider) ChatStream(ctx context.Context, messages []provider.Message, tools []provider.Tool) (<-chan provider.StreamEvent, error) {
	p.capture(messages)
	ch := make(chan provider.StreamEvent, 3)
	ch <- provider.StreamEvent{Type: provider.EventContentDelta, Content: p.text}
	ch <- provider.StreamEvent{Type: provider.EventUsage, InputTokens: 10, OutputTokens: 2}
	ch <- provider.StreamEvent{Type: provider.EventDone}
	close(ch)
	return ch, nil
}
func (p *capturingProvider) ListModels(ctx context.Context) ([]provider.Model, error) { return nil, nil }
func (p *capturingProvider) Close() error                                             { return nil }

// Property: every assistant tool call in history is immediately followed
// by a matching tool result, for a multi-call step.
func TestToolCallPairingWithMultipleCalls(t *testing.T) {
	args1, _ := json.Marshal(map[string]string{"n": "1"})
	args2, _ := json.Marshal(map[string]string{"n": "2"})
	prov := provider.NewMockSequence("mock",
		provider.ChatResponse{ToolCalls: []provider.ToolCall{
			{ID: "tc-1", Name: "Echo", Arguments: args1},
			{ID: "tc-2", Name: "Echo", Arguments: args2},
		}},
		provider.ChatResponse{Content: "done"},
	)

	tools := toolset.New()
	tools.Register(toolset.Definition{Name: "Echo"}, func(ctx context.Context, args json.RawMessage) (*toolset.Result, error) {
		return toolset.Text("hi"), nil
	})

	l, ctxStore, _, _ := newTestLoop(t, prov, tools, nil)
	if err := l.Run(context.Background(), "run two"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs := ctxStore.Messages()
	// [user, assistant(tc-1,tc-2), tool(tc-1), tool(tc-2), assistant(done)]
	if len(msgs) != 5 {
		t.Fatalf("len(messages) = %d, want 5", len(msgs))
	}
	ids := msgs[1].ToolCallIDs()
	if len(ids) != 2 || ids[0] != "tc-1" || ids[1] != "tc-2" {
		t.Fatalf("assistant tool call ids = %v, want [tc-1 tc-2] in declared order", ids)
	}
	for i, wantID := range ids {
		toolMsg := msgs[2+i]
		if toolMsg.Role != contextstore.RoleTool {
			t.Fatalf("messages[%d].Role = %v, want tool", 2+i, toolMsg.Role)
		}
		if toolMsg.Parts[0].ToolCallID != wantID {
			t.Errorf("tool message %d's tool_call_id = %q, want %q (results appended in declared order)", i, toolMsg.Parts[0].ToolCallID, wantID)
		}
	}
}
