package agentloop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xonecas/symbcore/internal/provider"
	"github.com/xonecas/symbcore/internal/wire"
)

// transientMarkers identify retryable LLM-level errors: 429/500/502/503
// and connection or timeout failures.
var transientMarkers = []string{"429", "500", "502", "503", "timeout", "connection", "econnreset", "eof"}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func isEmptyResponse(resp *provider.ChatResponse) bool {
	if resp == nil {
		return true
	}
	return resp.Content == "" && resp.Reasoning == "" && len(resp.ToolCalls) == 0
}

// backoff returns an exponentially growing, jittered delay for the given
// zero-indexed retry attempt.
func backoff(attempt int) time.Duration {
	base := time.Duration(math.Pow(2, float64(attempt))) * 200 * time.Millisecond
	return base + time.Duration(rand.Int63n(int64(base)+1))
}

// streamAndCollect runs one LLM call, retrying transient failures and
// empty responses up to maxRetries times with exponential-jittered
// backoff. Every streamed part is forwarded to the wire as it arrives
// (TextDelta/ThinkDelta/ToolCallAnnounce/ToolCallPart).
func streamAndCollect(ctx context.Context, prov provider.Provider, history []provider.Message, tools []provider.Tool, maxRetries int) (*provider.ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff(attempt - 1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		stream, err := prov.ChatStream(ctx, history, tools)
		if err != nil {
			lastErr = err
			if isTransient(err) {
				log.Warn().Err(err).Int("attempt", attempt+1).Msg("agentloop: transient LLM error, retrying")
				continue
			}
			return nil, err
		}

		resp, err := collectWithDeltas(ctx, stream)
		if err != nil {
			lastErr = err
			if isTransient(err) {
				log.Warn().Err(err).Int("attempt", attempt+1).Msg("agentloop: transient LLM stream error, retrying")
				continue
			}
			return nil, err
		}

		if isEmptyResponse(resp) {
			lastErr = errors.New("empty response from provider")
			log.Warn().Int("attempt", attempt+1).Msg("agentloop: empty LLM response, retrying")
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("agentloop: LLM call failed after %d attempts: %w", maxRetries+1, lastErr)
}

// toolCallAccumulator assembles streamed tool-call-begin/delta events
// into complete provider.ToolCall values.
type toolCallAccumulator struct {
	byIndex     map[int]int
	calls       []provider.ToolCall
	argBuilders []strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]int)}
}

func (a *toolCallAccumulator) begin(evt provider.StreamEvent) {
	pos := len(a.calls)
	a.byIndex[evt.ToolCallIndex] = pos
	a.calls = append(a.calls, provider.ToolCall{ID: evt.ToolCallID, Name: evt.ToolCallName, ThoughtSignature: evt.ToolCallSignature})
	a.argBuilders = append(a.argBuilders, strings.Builder{})
}

func (a *toolCallAccumulator) delta(evt provider.StreamEvent) {
	if pos, ok := a.byIndex[evt.ToolCallIndex]; ok {
		a.argBuilders[pos].WriteString(evt.ToolCallArgs)
	}
}

func (a *toolCallAccumulator) finalize() []provider.ToolCall {
	for i := range a.calls {
		a.calls[i].Arguments = []byte(a.argBuilders[i].String())
	}
	return a.calls
}

// collectWithDeltas reads all events from a stream, forwarding each to
// the ambient wire, and assembles them into a ChatResponse.
func collectWithDeltas(ctx context.Context, ch <-chan provider.StreamEvent) (*provider.ChatResponse, error) {
	var result provider.ChatResponse
	tca := newToolCallAccumulator()

	for evt := range ch {
		switch evt.Type {
		case provider.EventContentDelta:
			result.Content += evt.Content
			wire.Emit(ctx, wire.KindTextDelta, TextDeltaEvent{Content: evt.Content})
		case provider.EventReasoningDelta:
			result.Reasoning += evt.Content
			wire.Emit(ctx, wire.KindThinkDelta, ThinkDeltaEvent{Content: evt.Content})
		case provider.EventToolCallBegin:
			tca.begin(evt)
			wire.Emit(ctx, wire.KindToolCallAnnounce, ToolCallAnnounceEvent{ToolCallID: evt.ToolCallID, Name: evt.ToolCallName})
		case provider.EventToolCallDelta:
			tca.delta(evt)
			id := evt.ToolCallID
			if pos, ok := tca.byIndex[evt.ToolCallIndex]; ok && id == "" {
				id = tca.calls[pos].ID
			}
			wire.Emit(ctx, wire.KindToolCallPart, ToolCallPartEvent{ToolCallID: id, ArgsDelta: evt.ToolCallArgs})
		case provider.EventUsage:
			if evt.InputTokens > result.InputTokens {
				result.InputTokens = evt.InputTokens
			}
			if evt.OutputTokens > result.OutputTokens {
				result.OutputTokens = evt.OutputTokens
			}
		case provider.EventError:
			return nil, evt.Err
		case provider.EventDone:
			// finalize below
		}
	}

	if calls := tca.finalize(); len(calls) > 0 {
		result.ToolCalls = calls
	}
	return &result, nil
}
