// Package agentspec builds the system prompt handed to agentloop.New: a
// fixed base prompt plus any AGENTS.md instructions found in the project
// tree and the user's config directory, plus a tree-sitter outline of the
// working directory when one is available. The agent loop itself only
// needs a string; this package is one way to build one. A single
// embedded base prompt serves every model — the loop does not pick a
// prompt by model family.
package agentspec

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xonecas/symbcore/internal/config"
	"github.com/xonecas/symbcore/internal/treesitter"
)

//go:embed default.md
var basePrompt string

// BasePrompt returns the fixed base system prompt, with no project- or
// user-level AGENTS.md instructions folded in.
func BasePrompt() string {
	return basePrompt
}

// LoadAgentInstructions walks up from the working directory collecting
// AGENTS.md files, then prepends ~/.config/symb/AGENTS.md if present, and
// joins them most-general-first so project-level instructions (read
// last) take precedence in a reader's attention.
func LoadAgentInstructions(workDir string) string {
	var found []string
	dir := workDir
	for {
		if text := readFileIfExists(filepath.Join(dir, "AGENTS.md")); text != "" {
			found = append(found, text)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	// found is deepest-first; reverse so the project root comes before
	// nested subdirectories.
	for i, j := 0, len(found)-1; i < j; i, j = i+1, j-1 {
		found[i], found[j] = found[j], found[i]
	}

	if dataDir, err := config.DataDir(); err == nil {
		if text := readFileIfExists(filepath.Join(dataDir, "AGENTS.md")); text != "" {
			found = append([]string{text}, found...)
		}
	}

	return strings.Join(found, "\n\n")
}

// BuildSystemPrompt combines agent instructions, an optional tree-sitter
// outline of the working directory, and the base prompt into one system
// prompt string, in that order so the most specific, most recently
// changed material comes first.
func BuildSystemPrompt(workDir string, idx *treesitter.Index) string {
	parts := make([]string, 0, 3)
	if instructions := LoadAgentInstructions(workDir); instructions != "" {
		parts = append(parts, instructions)
	}
	if idx != nil {
		if outline := renderOutline(idx); outline != "" {
			parts = append(parts, outline)
		}
	}
	parts = append(parts, basePrompt)
	return strings.Join(parts, "\n\n---\n\n")
}

// renderOutline renders a top-level symbol listing per file from idx,
// capped so a large project doesn't crowd out the rest of the prompt.
func renderOutline(idx *treesitter.Index) string {
	snap := idx.Snapshot()
	if len(snap) == 0 {
		return ""
	}
	files := make([]string, 0, len(snap))
	for f := range snap {
		files = append(files, f)
	}
	sort.Strings(files)

	const maxFiles = 200
	if len(files) > maxFiles {
		files = files[:maxFiles]
	}

	var b strings.Builder
	b.WriteString("Project symbol outline:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "%s:\n", f)
		for _, sym := range snap[f] {
			if sym.Receiver != "" {
				fmt.Fprintf(&b, "  (%s) %s\n", sym.Receiver, sym.Signature)
			} else {
				fmt.Fprintf(&b, "  %s\n", sym.Signature)
			}
		}
	}
	return b.String()
}

func readFileIfExists(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
