package compaction

import (
	"context"

	"github.com/xonecas/symbcore/internal/contextstore"
)

// HidingThenSummary tries Hiding first; only if that was a no-op does it
// fall through to Summary. Summary calls never see content hiding would
// have replaced anyway.
type HidingThenSummary struct {
	Hiding  *Hiding
	Summary *Summary
}

// NewHidingThenSummary composes the two built-in strategies.
func NewHidingThenSummary(hiding *Hiding, summary *Summary) *HidingThenSummary {
	return &HidingThenSummary{Hiding: hiding, Summary: summary}
}

func (c *HidingThenSummary) Compact(ctx context.Context, history []contextstore.Message, tokenCount, maxContextSize, reservedContextSize int) ([]contextstore.Message, error) {
	hidden, err := c.Hiding.Compact(ctx, history, tokenCount, maxContextSize, reservedContextSize)
	if err != nil {
		return nil, err
	}
	if hidden != nil {
		return hidden, nil
	}
	return c.Summary.Compact(ctx, history, tokenCount, maxContextSize, reservedContextSize)
}
