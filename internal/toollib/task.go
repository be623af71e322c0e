package toollib

import (
	"context"
	"encoding/json"
	"os"

	"github.com/xonecas/symbcore/internal/agentloop"
	"github.com/xonecas/symbcore/internal/approval"
	"github.com/xonecas/symbcore/internal/contextstore"
	"github.com/xonecas/symbcore/internal/delta"
	"github.com/xonecas/symbcore/internal/lsp"
	"github.com/xonecas/symbcore/internal/runtime"
	"github.com/xonecas/symbcore/internal/shell"
	"github.com/xonecas/symbcore/internal/store"
	"github.com/xonecas/symbcore/internal/toolset"
	"github.com/xonecas/symbcore/internal/treesitter"
	"github.com/xonecas/symbcore/internal/wire"
)

// A sub-agent defaults to 5 steps and may not be asked for more than 20.
const (
	defaultSubAgentIterations = 5
	maxSubAgentIterations     = 20
)

// TaskArgs are the arguments to the Task tool.
type TaskArgs struct {
	Prompt        string `json:"prompt"`
	Agent         string `json:"agent,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

// subagentSystemPrompt is the system prompt a spawned sub-agent runs
// under when no named template overrides it.
const subagentSystemPrompt = `You are a focused sub-agent spawned to complete one task. You cannot spawn further sub-agents and cannot send D-Mails. Work efficiently within your iteration budget, then report your findings or result as your final message — that final message is all the caller sees.`

// NewTaskFactory builds the Task tool: it spawns an isolated agentloop.Loop
// (fresh context, fresh approval mediator inheriting YOLO, the same wire
// re-published wrapped in wire.KindSubagentEvent) running a capped number
// of steps over a filtered toolset that excludes Task and SendDMail. The
// optional "agent" argument selects a template from the runtime's labor
// market, which supplies the system prompt, tool subset, and step ceiling.
func NewTaskFactory() toolset.Factory {
	return func(inj *toolset.Injector) (toolset.Definition, toolset.Handler, error) {
		rt := toolset.MustGet[*runtime.Runtime](inj)
		cache := toolset.MustGet[*store.Cache](inj)
		sh := toolset.MustGet[*shell.Shell](inj)
		dt, _ := toolset.Get[*delta.Tracker](inj)
		lspMgr, _ := toolset.Get[*lsp.Manager](inj)
		tsIndex, _ := toolset.Get[*treesitter.Index](inj)
		exaKey, _ := toolset.Get[ExaAPIKey](inj)

		def := toolset.Definition{
			Name:        "Task",
			Description: `Spawn a sub-agent to handle a focused piece of work. The sub-agent has the same tools minus Task and SendDMail, and cannot spawn further sub-agents. Use this to decompose a larger task into smaller, independently verifiable pieces. Only the sub-agent's final message is returned to you.`,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"prompt":         {"type": "string", "description": "Task description for the sub-agent. Be specific about the goal and the expected output."},
					"agent":          {"type": "string", "description": "Name of a registered sub-agent template to spawn. Omit for the general-purpose default."},
					"max_iterations": {"type": "integer", "description": "Maximum steps for the sub-agent (default 5, max 20)"}
				},
				"required": ["prompt"]
			}`),
		}

		handler := func(ctx context.Context, raw json.RawMessage) (*toolset.Result, error) {
			if err := ctx.Err(); err != nil {
				return toolset.Errorf("task cancelled: %v", err), nil
			}
			var args TaskArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return toolset.Errorf("invalid arguments: %v", err), nil
			}
			if args.Prompt == "" {
				return toolset.Errorf("prompt is required"), nil
			}
			systemPrompt := subagentSystemPrompt
			toolNames := SubAgentNames
			maxIter := defaultSubAgentIterations
			if args.Agent != "" {
				spec, ok := rt.Labor.Get(args.Agent)
				if !ok {
					return toolset.Errorf("unknown sub-agent template %q (registered: %v)", args.Agent, rt.Labor.Names()), nil
				}
				if spec.SystemPrompt != "" {
					systemPrompt = spec.SystemPrompt
				}
				if len(spec.ToolNames) > 0 {
					// Templates cannot smuggle in the tools sub-agents are
					// barred from.
					toolNames = dropRootOnlyTools(spec.ToolNames)
				}
				if spec.MaxIterations > 0 {
					maxIter = spec.MaxIterations
				}
			}
			if args.MaxIterations > 0 {
				if args.MaxIterations > maxSubAgentIterations {
					return toolset.Errorf("max_iterations too large (max %d)", maxSubAgentIterations), nil
				}
				maxIter = args.MaxIterations
			}

			journal, err := os.CreateTemp("", "symbcore-subagent-*.jsonl")
			if err != nil {
				return toolset.Errorf("create sub-agent context: %v", err), nil
			}
			journalPath := journal.Name()
			journal.Close()
			defer os.Remove(journalPath)

			subCtx, err := contextstore.Open(journalPath)
			if err != nil {
				return toolset.Errorf("open sub-agent context: %v", err), nil
			}
			defer subCtx.Close()

			subInj := toolset.NewInjector()
			subRt := rt.WithProvider(rt.Provider)
			toolset.Provide(subInj, subRt)
			toolset.Provide(subInj, cache)
			toolset.Provide(subInj, sh)
			toolset.Provide(subInj, NewReadTracker())
			toolset.Provide(subInj, NewScratchpad())
			if dt != nil {
				toolset.Provide(subInj, dt)
			}
			if lspMgr != nil {
				toolset.Provide(subInj, lspMgr)
			}
			if tsIndex != nil {
				toolset.Provide(subInj, tsIndex)
			}
			if exaKey != "" {
				toolset.Provide(subInj, exaKey)
			}

			subTools := toolset.New()
			if err := subTools.Load(subInj, Factories(), toolNames); err != nil {
				return toolset.Errorf("build sub-agent toolset: %v", err), nil
			}

			subBus := wire.New()
			subApproval := approval.New(rt.Config.Agent.YOLO, func(req approval.Request) {
				subBus.Publish(wire.KindApprovalRequest, req)
			})
			forwardCtx, stopForward := context.WithCancel(ctx)
			defer stopForward()
			sub := subBus.Subscribe(forwardCtx)
			go func() {
				for ev := range sub.C {
					wire.Emit(ctx, wire.KindSubagentEvent, ev)
				}
			}()

			loop := agentloop.New(subCtx, subBus, subTools, rt.Provider, subApproval, nil, rt.Config.Agent.WithDefaults(), systemPrompt)
			loop.Cfg.MaxStepsPerRun = maxIter

			if err := loop.Run(ctx, args.Prompt); err != nil {
				return toolset.Errorf("sub-agent failed: %v", err), nil
			}

			final := lastAssistantText(subCtx)
			if final == "" {
				final = "(sub-agent produced no final message)"
			}
			return toolset.Text(final), nil
		}

		return def, handler, nil
	}
}

func dropRootOnlyTools(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "Task" || n == "SendDMail" {
			continue
		}
		out = append(out, n)
	}
	return out
}

func lastAssistantText(c *contextstore.Context) string {
	msgs := c.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != contextstore.RoleAssistant {
			continue
		}
		var text string
		for _, p := range msgs[i].Parts {
			if p.Type == "text" {
				text += p.Text
			}
		}
		if text != "" {
			return text
		}
	}
	return ""
}
