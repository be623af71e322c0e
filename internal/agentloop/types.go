// Package agentloop is the "soul": it drives a turn step-by-step, calls
// the LLM, dispatches tool calls through the toolset runtime, triggers
// compaction, mediates approvals over the wire, and supports checkpoint
// rewind ("D-Mail"). It is the orchestrator that ties together the
// context journal (contextstore), the event bus (wire), the approval
// mediator, the toolset, and the compaction strategy.
//
// The package is split one file per concern: loop.go holds the
// turn-level Run, step.go the single-step execution, dmail.go the
// checkpoint-rewind side channel.
package agentloop

import (
	"context"
	"errors"

	"github.com/xonecas/symbcore/internal/approval"
	"github.com/xonecas/symbcore/internal/compaction"
	"github.com/xonecas/symbcore/internal/config"
	"github.com/xonecas/symbcore/internal/contextstore"
	"github.com/xonecas/symbcore/internal/provider"
	"github.com/xonecas/symbcore/internal/toolset"
	"github.com/xonecas/symbcore/internal/wire"
)

// ThinkingEffort selects how hard the model should think. The loop passes
// it through to the provider call untouched.
type ThinkingEffort string

const (
	ThinkingOff    ThinkingEffort = "off"
	ThinkingLow    ThinkingEffort = "low"
	ThinkingMedium ThinkingEffort = "medium"
	ThinkingHigh   ThinkingEffort = "high"
)

// Sentinel errors surfaced to the caller of Run. Transient provider
// failures are retried internally (up to MaxRetriesPerStep) and reach
// the caller only once retries are exhausted, wrapped as an LLM-call
// error; the D-Mail rewind is modeled as a stepResult variant, never an
// error.
var (
	ErrLLMNotConfigured = errors.New("agentloop: no LLM provider configured")
	ErrLLMNotSupported  = errors.New("agentloop: input requires a model capability the provider lacks")
	ErrMaxStepsReached  = errors.New("agentloop: max steps per run reached")
)

// Command is a slash-command handler. Commands run instead of an LLM
// turn: Run dispatches "/name rest-of-line" to Commands["name"] and
// returns without touching the journal.
type Command func(ctx context.Context, args string) error

// Loop drives one session's turns. One Loop is constructed per session
// (or per subagent spawn — see runtime.LaborMarket) and is not safe to
// call Run on concurrently; a turn must finish before the next begins.
type Loop struct {
	Ctx       *contextstore.Context
	Bus       *wire.Bus
	Tools     *toolset.Toolset
	Provider  provider.Provider
	Approval  *approval.Mediator
	Compactor compaction.Strategy
	Cfg       config.AgentConfig
	DMail     *DMailBox

	// Commands maps slash-command names (without the leading "/") to
	// handlers. An input line starting with a registered command is
	// dispatched here and never reaches the model; an unregistered
	// "/word" falls through as ordinary input.
	Commands map[string]Command

	SystemPrompt   string
	ThinkingEffort ThinkingEffort
}

// New builds a Loop from its constituent parts, applying cfg's defaults.
func New(ctx *contextstore.Context, bus *wire.Bus, tools *toolset.Toolset, prov provider.Provider, appr *approval.Mediator, compactor compaction.Strategy, cfg config.AgentConfig, systemPrompt string) *Loop {
	return &Loop{
		Ctx:            ctx,
		Bus:            bus,
		Tools:          tools,
		Provider:       prov,
		Approval:       appr,
		Compactor:      compactor,
		Cfg:            cfg.WithDefaults(),
		DMail:          NewDMailBox(),
		SystemPrompt:   systemPrompt,
		ThinkingEffort: ThinkingMedium,
	}
}

// --- wire payloads the loop emits ---

// TurnStartedEvent is the wire.KindTurnStarted payload.
type TurnStartedEvent struct {
	Input string
}

// TurnFinishedEvent is the wire.KindTurnFinished payload.
type TurnFinishedEvent struct{}

// StepStartedEvent is the wire.KindStepStarted payload.
type StepStartedEvent struct {
	Step int
}

// StepInterruptedEvent is the wire.KindStepInterrupted payload, emitted
// when a step ends via an error rather than a normal outcome.
type StepInterruptedEvent struct {
	Step int
	Err  string
}

// StatusUpdateEvent is the wire.KindStatusUpdate payload, emitted once a
// step's LLM call completes.
type StatusUpdateEvent struct {
	InputTokens  int
	OutputTokens int
	ContextUsage int
}

// CompactionBeginEvent/CompactionEndEvent bracket a compaction run.
type CompactionBeginEvent struct {
	TokenCount int
}

type CompactionEndEvent struct {
	Before, After int
}

// TextDeltaEvent/ThinkDeltaEvent carry one streamed chunk of content or
// reasoning text, forwarded verbatim from the provider.
type TextDeltaEvent struct {
	Content string
}

type ThinkDeltaEvent struct {
	Content string
}

// ToolCallAnnounceEvent fires when the LLM stream announces a new tool
// call's id and name, before its arguments have finished streaming.
type ToolCallAnnounceEvent struct {
	ToolCallID string
	Name       string
}

// ToolCallPartEvent carries one argument-delta chunk for a tool call
// that's still streaming in; the UI reconstructs arguments by
// concatenation.
type ToolCallPartEvent struct {
	ToolCallID string
	ArgsDelta  string
}
