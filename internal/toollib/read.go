package toollib

import (
	"context"
	"encoding/json"

	"github.com/xonecas/symbcore/internal/hashline"
	"github.com/xonecas/symbcore/internal/highlight"
	"github.com/xonecas/symbcore/internal/lsp"
	"github.com/xonecas/symbcore/internal/runtime"
	"github.com/xonecas/symbcore/internal/toolset"
	"github.com/xonecas/symbcore/internal/treesitter"
	"github.com/xonecas/symbcore/internal/wire"
)

// FilePreviewEvent is the wire.KindFilePreview payload: an ANSI-colored
// rendering of a file the Read tool just loaded, for a UI to display
// alongside (never instead of) the hash-tagged text handed to the model.
type FilePreviewEvent struct {
	File     string
	Rendered string
}

// ReadArgs are the arguments to the Read tool.
type ReadArgs struct {
	File  string `json:"file"`
	Start int    `json:"start,omitempty"`
	End   int    `json:"end,omitempty"`
}

// NewReadFactory builds the Read tool: it returns a file's contents with
// each line tagged "num:hash|content" so a later Edit call can anchor on
// exact lines without reproducing them verbatim.
func NewReadFactory() toolset.Factory {
	return func(inj *toolset.Injector) (toolset.Definition, toolset.Handler, error) {
		rt := toolset.MustGet[*runtime.Runtime](inj)
		tracker := toolset.MustGet[*ReadTracker](inj)
		lspMgr, _ := toolset.Get[*lsp.Manager](inj)
		tsIndex, _ := toolset.Get[*treesitter.Index](inj)

		def := toolset.Definition{
			Name: "Read",
			Description: `Read a file's contents. Returns each line tagged with its number and a
short content hash ("num:hash|content"). Quote the hash exactly when
using Edit to anchor a change to a line — if the file changed since the
last Read, the hash won't match and the edit is rejected before
anything is corrupted.`,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"file":  {"type": "string", "description": "Path to the file, relative to the working directory"},
					"start": {"type": "integer", "description": "First line to return (1-indexed). Omit to start at line 1."},
					"end":   {"type": "integer", "description": "Last line to return (1-indexed, inclusive). Omit to read to EOF."}
				},
				"required": ["file"]
			}`),
		}

		handler := func(ctx context.Context, raw json.RawMessage) (*toolset.Result, error) {
			var args ReadArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return toolset.Errorf("invalid arguments: %v", err), nil
			}
			abs, err := validatePath(rt.WorkDir, args.File)
			if err != nil {
				return toolset.Errorf("%v", err), nil
			}
			data, err := rt.FS.ReadFile(abs)
			if err != nil {
				return toolset.Errorf("read %s: %v", args.File, err), nil
			}

			tracker.MarkRead(abs)
			if lspMgr != nil {
				go lspMgr.TouchFile(context.WithoutCancel(ctx), abs)
			}
			if tsIndex != nil {
				go tsIndex.UpdateFile(abs)
			}
			if rendered, ok := highlight.Render(args.File, data); ok {
				wire.Emit(ctx, wire.KindFilePreview, FilePreviewEvent{File: args.File, Rendered: rendered})
			}

			tagged := hashline.TagLines(string(data), 1)
			tagged = extractRange(tagged, args.Start, args.End)
			return toolset.Text(hashline.FormatTagged(tagged)), nil
		}

		return def, handler, nil
	}
}

// extractRange slices tagged to [start, end] (1-indexed, inclusive),
// treating a zero bound as "unbounded on that side".
func extractRange(tagged []hashline.TaggedLine, start, end int) []hashline.TaggedLine {
	if start <= 0 && end <= 0 {
		return tagged
	}
	lo, hi := 0, len(tagged)
	if start > 0 {
		lo = start - 1
	}
	if end > 0 && end < len(tagged) {
		hi = end
	}
	if lo < 0 {
		lo = 0
	}
	if lo > len(tagged) {
		lo = len(tagged)
	}
	if hi < lo {
		hi = lo
	}
	return tagged[lo:hi]
}
