// Package toollib is the concrete built-in tool library the toolset
// runtime dispatches to: Read, Edit, Grep, Glob, Shell, WebFetch,
// WebSearch, TodoWrite, Task, and SendDMail. Each tool is a toolset.Factory
// that resolves its dependencies (filesystem, shell, LSP manager,
// tree-sitter index, delta tracker, web cache, D-Mail box) out of the
// toolset.Injector built at session setup, so the same factory table can
// assemble a root agent's toolset or a subagent's reduced one.
package toollib

import (
	"fmt"
	"path/filepath"
	"strings"
)

// validatePath resolves name against root and rejects any path that
// would escape it.
func validatePath(root, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("path is required")
	}
	var abs string
	if filepath.IsAbs(name) {
		abs = filepath.Clean(name)
	} else {
		abs = filepath.Join(root, name)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the working directory", name)
	}
	return abs, nil
}

// Names is the default set of tools a root agent loads, in the order
// they're advertised to the LLM.
var Names = []string{
	"Read", "Edit", "Grep", "Glob", "Shell",
	"WebFetch", "WebSearch", "TodoWrite", "Task", "SendDMail",
}

// SubAgentNames is the subset a spawned subagent is given — no Task
// (subagents don't nest) and no SendDMail (a D-Mail rewinds the root
// turn; a subagent has no turn of its own to rewind).
var SubAgentNames = []string{
	"Read", "Edit", "Grep", "Glob", "Shell", "WebFetch", "WebSearch", "TodoWrite",
}
