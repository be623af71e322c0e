package toollib

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xonecas/symbcore/internal/approval"
	"github.com/xonecas/symbcore/internal/delta"
	"github.com/xonecas/symbcore/internal/runtime"
	"github.com/xonecas/symbcore/internal/shell"
	"github.com/xonecas/symbcore/internal/toolset"
)

// ShellArgs are the arguments to the Shell tool.
type ShellArgs struct {
	Command     string `json:"command"`
	Description string `json:"description"`
	Timeout     int    `json:"timeout,omitempty"`
}

const (
	maxOutputChars = 30000
	maxTimeoutSec  = 600
)

// NewShellFactory builds the Shell tool: an in-process POSIX interpreter
// anchored to the working directory, gated by the approval mediator
// (every command is a consent-requiring action) and snapshot-tracked
// for undo.
func NewShellFactory() toolset.Factory {
	return func(inj *toolset.Injector) (toolset.Definition, toolset.Handler, error) {
		rt := toolset.MustGet[*runtime.Runtime](inj)
		sh := toolset.MustGet[*shell.Shell](inj)
		dt, _ := toolset.Get[*delta.Tracker](inj)

		def := toolset.Definition{
			Name: "Shell",
			Description: `Execute a shell command in an in-process POSIX interpreter.
Commands run inside the project working directory. Shell state (cwd, env vars) persists across calls within the same session.
Every command requires approval before it runs.
Use this for: running builds, tests, linters, git operations, file manipulation, and inspecting project state.`,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"command":     {"type": "string", "description": "The shell command to execute"},
					"description": {"type": "string", "description": "Brief description of what this command does (5-10 words)"},
					"timeout":     {"type": "integer", "description": "Timeout in seconds (default 60)"}
				},
				"required": ["command", "description"]
			}`),
		}

		handler := func(ctx context.Context, raw json.RawMessage) (*toolset.Result, error) {
			var args ShellArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return toolset.Errorf("invalid arguments: %v", err), nil
			}
			if args.Command == "" {
				return toolset.Errorf("command is required"), nil
			}

			if rt.Approval != nil {
				decision, err := rt.Approval.Request(ctx, "Shell", args.Command, args.Description)
				if err != nil {
					return toolset.Rejected(fmt.Sprintf("approval request failed: %v", err)), nil
				}
				if decision == approval.Reject {
					return toolset.Rejected(fmt.Sprintf("rejected: %s", args.Command)), nil
				}
			}

			timeout := 60
			if args.Timeout > 0 {
				timeout = args.Timeout
			}
			if timeout > maxTimeoutSec {
				timeout = maxTimeoutSec
			}
			runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
			defer cancel()

			shellCwd := sh.Dir()
			trackDeltas := dt != nil && dt.TurnID() > 0
			var preSnap map[string]delta.FileSnapshot
			if trackDeltas {
				preSnap = delta.SnapshotDir(shellCwd)
			}

			var stdout, stderr bytes.Buffer
			execErr := sh.ExecStream(runCtx, args.Command, &stdout, &stderr)

			if trackDeltas {
				postSnap := delta.SnapshotDir(shellCwd)
				delta.RecordDeltas(dt, shellCwd, preSnap, postSnap)
			}

			exitCode := shell.ExitCode(execErr)
			output := formatShellOutput(stdout.String(), stderr.String(), exitCode, runCtx.Err())
			if output == "" {
				output = "(no output)\n"
			}
			if len([]rune(output)) > maxOutputChars {
				output = truncateMiddle(output, maxOutputChars)
			}

			if exitCode != 0 {
				return &toolset.Result{
					Content: []toolset.ContentBlock{{Type: "text", Text: output}},
					IsError: true,
				}, nil
			}
			return toolset.Text(output), nil
		}

		return def, handler, nil
	}
}

func formatShellOutput(stdout, stderr string, exitCode int, ctxErr error) string {
	var b strings.Builder
	if stdout != "" {
		b.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			b.WriteByte('\n')
		}
	}
	if stderr != "" {
		b.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			b.WriteByte('\n')
		}
	}
	if ctxErr != nil {
		fmt.Fprintf(&b, "[timed out]\n")
	}
	if exitCode != 0 {
		fmt.Fprintf(&b, "[exit code: %d]\n", exitCode)
	}
	return b.String()
}

func truncateMiddle(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	half := maxChars / 2
	return string(runes[:half]) + "\n\n... [truncated] ...\n\n" + string(runes[len(runes)-half:])
}
