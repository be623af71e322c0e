package toollib

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"

	"github.com/xonecas/symbcore/internal/delta"
	"github.com/xonecas/symbcore/internal/hashline"
	"github.com/xonecas/symbcore/internal/lsp"
	"github.com/xonecas/symbcore/internal/runtime"
	"github.com/xonecas/symbcore/internal/toolset"
	"github.com/xonecas/symbcore/internal/treesitter"
	"github.com/xonecas/symbcore/internal/wire"
)

// FileDiffEvent is the wire.KindFileDiff payload: a unified diff of the
// change an Edit call just applied, for a UI to render as a diff block.
type FileDiffEvent struct {
	File string
	Diff string
}

// EditArgs are the arguments to the Edit tool. Exactly one of the
// operation fields must be set.
type EditArgs struct {
	File    string     `json:"file"`
	Replace *ReplaceOp `json:"replace,omitempty"`
	Insert  *InsertOp  `json:"insert,omitempty"`
	Delete  *DeleteOp  `json:"delete,omitempty"`
	Create  *CreateOp  `json:"create,omitempty"`
}

// ReplaceOp replaces lines start..end (inclusive) with Content.
type ReplaceOp struct {
	Start   hashline.Anchor `json:"start"`
	End     hashline.Anchor `json:"end"`
	Content string          `json:"content"`
}

// InsertOp inserts Content after the anchored line.
type InsertOp struct {
	After   hashline.Anchor `json:"after"`
	Content string          `json:"content"`
}

// DeleteOp deletes lines start..end (inclusive).
type DeleteOp struct {
	Start hashline.Anchor `json:"start"`
	End   hashline.Anchor `json:"end"`
}

// CreateOp creates a new file with Content.
type CreateOp struct {
	Content string `json:"content"`
}

const anchorSchema = `{"type": "object", "properties": {"line": {"type": "integer", "description": "1-indexed line number"}, "hash": {"type": "string", "description": "2-char hex hash from Read output"}}, "required": ["line", "hash"]}`

// NewEditFactory builds the Edit tool: hash-anchored line operations
// that refuse to apply against a file whose content has drifted since
// the agent last Read it.
func NewEditFactory() toolset.Factory {
	return func(inj *toolset.Injector) (toolset.Definition, toolset.Handler, error) {
		rt := toolset.MustGet[*runtime.Runtime](inj)
		tracker := toolset.MustGet[*ReadTracker](inj)
		dt, _ := toolset.Get[*delta.Tracker](inj)
		lspMgr, _ := toolset.Get[*lsp.Manager](inj)
		tsIndex, _ := toolset.Get[*treesitter.Index](inj)

		def := toolset.Definition{
			Name: "Edit",
			Description: `Edit a file using hash-anchored operations. You MUST Read the file first to get line hashes.
Each line from Read is tagged "linenum:hash|content" — use the line number and hash as anchors.
Exactly one operation per call: replace, insert, delete, or create.
If a hash does not match, the file changed since you read it — re-Read and retry.
Each edit returns fresh hashes; use those for the next edit, not the old ones.`,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"file": {"type": "string", "description": "Path to the file to edit"},
					"replace": {
						"type": "object",
						"description": "Replace lines from start to end (inclusive) with new content",
						"properties": {
							"start":   ` + anchorSchema + `,
							"end":     ` + anchorSchema + `,
							"content": {"type": "string", "description": "Replacement text (may be multiple lines)"}
						},
						"required": ["start", "end", "content"]
					},
					"insert": {
						"type": "object",
						"description": "Insert new lines after the anchored line",
						"properties": {
							"after":   ` + anchorSchema + `,
							"content": {"type": "string", "description": "Text to insert (may be multiple lines)"}
						},
						"required": ["after", "content"]
					},
					"delete": {
						"type": "object",
						"description": "Delete lines from start to end (inclusive)",
						"properties": {
							"start": ` + anchorSchema + `,
							"end":   ` + anchorSchema + `
						},
						"required": ["start", "end"]
					},
					"create": {
						"type": "object",
						"description": "Create a new file (fails if file already exists)",
						"properties": {
							"content": {"type": "string", "description": "Full file content"}
						},
						"required": ["content"]
					}
				},
				"required": ["file"]
			}`),
		}

		handler := func(ctx context.Context, raw json.RawMessage) (*toolset.Result, error) {
			var args EditArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return toolset.Errorf("invalid arguments: %v", err), nil
			}
			if err := validateEditOps(args); err != nil {
				return toolset.Errorf("%v", err), nil
			}
			abs, err := validatePath(rt.WorkDir, args.File)
			if err != nil {
				return toolset.Errorf("%v", err), nil
			}

			if args.Create != nil {
				return handleCreate(ctx, rt, dt, lspMgr, tsIndex, abs, args.File, args.Create)
			}
			if !tracker.WasRead(abs) {
				return toolset.Errorf("you must Read %s before editing it — the edit needs current line hashes", args.File), nil
			}
			return applyEdit(ctx, rt, dt, lspMgr, tsIndex, abs, args)
		}

		return def, handler, nil
	}
}

func validateEditOps(args EditArgs) error {
	ops := 0
	for _, set := range []bool{args.Replace != nil, args.Insert != nil, args.Delete != nil, args.Create != nil} {
		if set {
			ops++
		}
	}
	if ops != 1 {
		return fmt.Errorf("exactly one operation (replace, insert, delete, or create) must be specified")
	}
	return nil
}

func applyEdit(ctx context.Context, rt *runtime.Runtime, dt *delta.Tracker, lspMgr *lsp.Manager, tsIndex *treesitter.Index, abs string, args EditArgs) (*toolset.Result, error) {
	content, err := rt.FS.ReadFile(abs)
	if err != nil {
		return toolset.Errorf("read %s: %v", args.File, err), nil
	}
	lines := strings.Split(string(content), "\n")

	var result string
	switch {
	case args.Replace != nil:
		result, err = applyReplace(lines, args.Replace)
	case args.Insert != nil:
		result, err = applyInsert(lines, args.Insert)
	case args.Delete != nil:
		result, err = applyDelete(lines, args.Delete)
	}
	if err != nil {
		return toolset.Errorf("%v", err), nil
	}

	if dt != nil {
		dt.RecordModify(abs, content)
	}
	if err := rt.FS.WriteFile(abs, []byte(result), 0o600); err != nil {
		return toolset.Errorf("write %s: %v", args.File, err), nil
	}

	uri := span.URIFromPath(abs)
	edits := myers.ComputeEdits(uri, string(content), result)
	if len(edits) > 0 {
		diff := fmt.Sprint(gotextdiff.ToUnified(args.File, args.File, string(content), edits))
		if strings.TrimSpace(diff) != "" {
			wire.Emit(ctx, wire.KindFileDiff, FileDiffEvent{File: args.File, Diff: diff})
		}
	}

	tagged := hashline.TagLines(result, 1)
	text := fmt.Sprintf("Edited %s (%d lines):\n\n%s", args.File, len(tagged), hashline.FormatTagged(tagged))

	if lspMgr != nil {
		diags := lspMgr.NotifyAndWait(ctx, abs, 5*time.Second)
		text += lsp.FormatDiagnostics(args.File, diags)
	}
	if tsIndex != nil {
		tsIndex.UpdateFile(abs)
	}
	return toolset.Text(text), nil
}

func handleCreate(ctx context.Context, rt *runtime.Runtime, dt *delta.Tracker, lspMgr *lsp.Manager, tsIndex *treesitter.Index, abs, displayPath string, op *CreateOp) (*toolset.Result, error) {
	if _, err := rt.FS.Stat(abs); err == nil {
		return toolset.Errorf("%s already exists (use replace/insert/delete to modify)", displayPath), nil
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return toolset.Errorf("create directories: %v", err), nil
	}
	if dt != nil {
		dt.RecordCreate(abs)
	}
	if err := rt.FS.WriteFile(abs, []byte(op.Content), 0o600); err != nil {
		return toolset.Errorf("create %s: %v", displayPath, err), nil
	}

	tagged := hashline.TagLines(op.Content, 1)
	text := fmt.Sprintf("Created %s (%d lines):\n\n%s", displayPath, len(tagged), hashline.FormatTagged(tagged))

	if lspMgr != nil {
		diags := lspMgr.NotifyAndWait(ctx, abs, 5*time.Second)
		text += lsp.FormatDiagnostics(displayPath, diags)
	}
	if tsIndex != nil {
		tsIndex.UpdateFile(abs)
	}
	return toolset.Text(text), nil
}

func applyReplace(lines []string, op *ReplaceOp) (string, error) {
	if err := hashline.ValidateRange(op.Start, op.End, lines); err != nil {
		return "", fmt.Errorf("replace: %w", err)
	}
	newLines := make([]string, 0, len(lines))
	newLines = append(newLines, lines[:op.Start.Num-1]...)
	newLines = append(newLines, strings.Split(op.Content, "\n")...)
	newLines = append(newLines, lines[op.End.Num:]...)
	return strings.Join(newLines, "\n"), nil
}

func applyInsert(lines []string, op *InsertOp) (string, error) {
	if err := op.After.Validate(lines); err != nil {
		return "", fmt.Errorf("insert: after anchor: %w", err)
	}
	newLines := make([]string, 0, len(lines)+1)
	newLines = append(newLines, lines[:op.After.Num]...)
	newLines = append(newLines, strings.Split(op.Content, "\n")...)
	newLines = append(newLines, lines[op.After.Num:]...)
	return strings.Join(newLines, "\n"), nil
}

func applyDelete(lines []string, op *DeleteOp) (string, error) {
	if err := hashline.ValidateRange(op.Start, op.End, lines); err != nil {
		return "", fmt.Errorf("delete: %w", err)
	}
	newLines := make([]string, 0, len(lines))
	newLines = append(newLines, lines[:op.Start.Num-1]...)
	newLines = append(newLines, lines[op.End.Num:]...)
	return strings.Join(newLines, "\n"), nil
}
