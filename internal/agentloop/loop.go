package agentloop

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xonecas/symbcore/internal/approval"
	"github.com/xonecas/symbcore/internal/compaction"
	"github.com/xonecas/symbcore/internal/contextstore"
	"github.com/xonecas/symbcore/internal/provider"
	"github.com/xonecas/symbcore/internal/wire"
)

// Run drives one turn to completion. It returns once the turn ends
// normally (TurnFinished emitted) or fails (MaxStepsReached, an LLM
// error, or ctx cancellation). An input line starting with a registered
// slash command is dispatched to its handler instead of the model.
func (l *Loop) Run(ctx context.Context, userInput string) error {
	if name, rest, ok := splitCommand(userInput); ok {
		if cmd, found := l.Commands[name]; found {
			ctx = wire.WithBus(ctx, l.Bus)
			wire.Emit(ctx, wire.KindTurnStarted, TurnStartedEvent{Input: userInput})
			if err := cmd(ctx, rest); err != nil {
				return fmt.Errorf("agentloop: command /%s: %w", name, err)
			}
			wire.Emit(ctx, wire.KindTurnFinished, TurnFinishedEvent{})
			return nil
		}
	}
	return l.RunMessage(ctx, contextstore.TextMessage(contextstore.RoleUser, newID(), userInput))
}

// RunMessage drives one turn from an already-built user message, the
// multi-part entry point Run wraps.
func (l *Loop) RunMessage(ctx context.Context, userMsg contextstore.Message) error {
	ctx = wire.WithBus(ctx, l.Bus)
	wire.Emit(ctx, wire.KindTurnStarted, TurnStartedEvent{Input: textOf(userMsg)})

	if l.Provider == nil {
		return ErrLLMNotConfigured
	}
	if err := l.checkCapabilities(userMsg); err != nil {
		return err
	}

	// A cancelled turn resolves every pending approval request as
	// reject, so no blocked Request call (and no piping goroutine
	// waiting on it) outlives the turn.
	if l.Approval != nil {
		stop := context.AfterFunc(ctx, l.Approval.RejectAll)
		defer stop()
	}

	if _, err := l.Ctx.Checkpoint(); err != nil {
		return fmt.Errorf("agentloop: checkpoint: %w", err)
	}
	if err := l.Ctx.Append(userMsg); err != nil {
		return fmt.Errorf("agentloop: append user message: %w", err)
	}

	l.DMail.Clear()
	if err := l.runSteps(ctx); err != nil {
		return err
	}

	wire.Emit(ctx, wire.KindTurnFinished, TurnFinishedEvent{})
	return nil
}

// runSteps is the agent loop proper: one step per iteration until a
// terminal outcome or the step ceiling.
func (l *Loop) runSteps(ctx context.Context) error {
	stepNo := 0
	for {
		stepNo++
		if stepNo > l.Cfg.MaxStepsPerRun {
			return ErrMaxStepsReached
		}
		wire.Emit(ctx, wire.KindStepStarted, StepStartedEvent{Step: stepNo})

		outcome, err := l.runOneStep(ctx, stepNo)
		if err != nil {
			wire.Emit(ctx, wire.KindStepInterrupted, StepInterruptedEvent{Step: stepNo, Err: err.Error()})
			return err
		}

		switch outcome.kind {
		case outcomeRewind:
			if err := l.applyDMail(outcome.dmail); err != nil {
				return fmt.Errorf("agentloop: apply D-Mail: %w", err)
			}
			continue
		case outcomeDone:
			return nil
		default: // outcomeContinue
			continue
		}
	}
}

// runOneStep wraps a single step() call with its approval-piping task
// (spawned and torn down per step) and a checkpoint taken immediately
// before the step runs.
func (l *Loop) runOneStep(ctx context.Context, stepNo int) (stepResult, error) {
	pipeCtx, cancelPipe := context.WithCancel(ctx)
	var pipeWG sync.WaitGroup
	pipeWG.Add(1)
	go func() {
		defer pipeWG.Done()
		l.pipeApprovals(pipeCtx)
	}()
	defer func() {
		cancelPipe()
		pipeWG.Wait()
	}()

	// Compaction must run before this step's checkpoint is taken —
	// taking the checkpoint first would record a cut point that
	// compaction could shrink history past, corrupting any later revert
	// to it.
	if compaction.ShouldCompact(l.Ctx.TokenCount(), l.Cfg.MaxContextSize, l.Cfg.ReservedContextSize) {
		if err := l.runCompaction(ctx); err != nil {
			return stepResult{}, fmt.Errorf("agentloop: compaction: %w", err)
		}
	}

	if _, err := l.Ctx.Checkpoint(); err != nil {
		return stepResult{}, fmt.Errorf("agentloop: checkpoint step %d: %w", stepNo, err)
	}

	return l.step(ctx)
}

// applyDMail performs the D-Mail rewind: revert the context to the
// checkpoint the D-Mail names, mark a fresh checkpoint, and inject the
// D-Mail's message as a system-role note so the next step sees it as
// freshly delivered history.
func (l *Loop) applyDMail(d DMail) error {
	if !l.Ctx.HasCheckpoint(d.CheckpointID) {
		return fmt.Errorf("agentloop: D-Mail targets unknown checkpoint %d", d.CheckpointID)
	}
	if err := l.Ctx.RevertTo(d.CheckpointID); err != nil {
		return err
	}
	if _, err := l.Ctx.Checkpoint(); err != nil {
		return err
	}
	note := contextstore.TextMessage(contextstore.RoleSystem, newID(), d.Message)
	return l.Ctx.Append(note)
}

// splitCommand parses "/name rest of line" into (name, rest). ok is
// false for input that doesn't start with "/" or is "/" alone.
func splitCommand(input string) (name, rest string, ok bool) {
	if !strings.HasPrefix(input, "/") {
		return "", "", false
	}
	body := strings.TrimPrefix(input, "/")
	name, rest, _ = strings.Cut(body, " ")
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(rest), true
}

// checkCapabilities verifies the user message only uses content kinds the
// provider can accept. A provider that doesn't report capabilities is
// treated as text-only.
func (l *Loop) checkCapabilities(msg contextstore.Message) error {
	hasImage := false
	for _, p := range msg.Parts {
		if p.Type == "image" {
			hasImage = true
		}
	}
	if !hasImage {
		return nil
	}
	if cr, ok := l.Provider.(provider.CapabilityReporter); ok && cr.Capabilities().ImageIn {
		return nil
	}
	return fmt.Errorf("%w: image input", ErrLLMNotSupported)
}

// pipeApprovals subscribes to the wire and forwards every
// wire.KindApprovalDecision event into the approval mediator, resolving
// the pending request it names. It runs as a peer task of the current
// step and is cancelled when the step ends.
func (l *Loop) pipeApprovals(ctx context.Context) {
	if l.Bus == nil || l.Approval == nil {
		<-ctx.Done()
		return
	}
	sub := l.Bus.Subscribe(ctx)
	defer sub.Unsubscribe()
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if ev.Kind != wire.KindApprovalDecision {
				continue
			}
			resp, ok := ev.Payload.(approval.Response)
			if !ok {
				continue
			}
			_ = l.Approval.Resolve(resp.RequestID, resp.Decision)
		case <-ctx.Done():
			return
		}
	}
}
