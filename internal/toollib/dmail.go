package toollib

import (
	"context"
	"encoding/json"

	"github.com/xonecas/symbcore/internal/agentloop"
	"github.com/xonecas/symbcore/internal/contextstore"
	"github.com/xonecas/symbcore/internal/toolset"
)

// SendDMailArgs are the arguments to the SendDMail tool.
type SendDMailArgs struct {
	CheckpointID int    `json:"checkpoint_id"`
	Message      string `json:"message"`
}

// NewSendDMailFactory builds the SendDMail tool: the agent's own escape
// hatch for correcting a mistake it recognizes only after the fact — it
// queues a rewind to an earlier checkpoint, delivered as a note once the
// current step finishes. CheckpointID is
// validated against the live context's recorded checkpoints before the
// box will accept it, so a bad ID fails the tool call instead of
// surfacing as a broken rewind two steps later.
func NewSendDMailFactory() toolset.Factory {
	return func(inj *toolset.Injector) (toolset.Definition, toolset.Handler, error) {
		box := toolset.MustGet[*agentloop.DMailBox](inj)
		ctxStore := toolset.MustGet[*contextstore.Context](inj)

		def := toolset.Definition{
			Name: "SendDMail",
			Description: `Send a "D-Mail": rewind the conversation to an earlier checkpoint and
leave yourself a note there, as if you'd known then what you know now.
Use this when you recognize a mistake made several steps ago that's
cheaper to undo than to work around. Only one D-Mail may be pending at
a time; it takes effect at the end of the current step.`,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"checkpoint_id": {"type": "integer", "description": "The checkpoint to rewind to (0-indexed; must be a checkpoint already taken in this context)"},
					"message":       {"type": "string", "description": "The note to deliver at the rewound point"}
				},
				"required": ["checkpoint_id", "message"]
			}`),
		}

		handler := func(ctx context.Context, raw json.RawMessage) (*toolset.Result, error) {
			var args SendDMailArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return toolset.Errorf("invalid arguments: %v", err), nil
			}
			if !ctxStore.HasCheckpoint(args.CheckpointID) {
				return toolset.Errorf("checkpoint %d does not exist", args.CheckpointID), nil
			}
			if err := box.Send(agentloop.DMail{CheckpointID: args.CheckpointID, Message: args.Message}); err != nil {
				return toolset.Errorf("%v", err), nil
			}
			return toolset.Text("D-Mail queued; it will take effect at the end of this step"), nil
		}

		return def, handler, nil
	}
}
