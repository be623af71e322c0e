package toollib

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xonecas/symbcore/internal/filesearch"
	"github.com/xonecas/symbcore/internal/runtime"
	"github.com/xonecas/symbcore/internal/toolset"
)

// GrepArgs are the arguments shared by Grep and Glob.
type GrepArgs struct {
	Pattern       string `json:"pattern"`
	MaxResults    int    `json:"max_results,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
}

const defaultMaxResults = 100

// NewGrepFactory builds the Grep tool: a regex content search over the
// working directory, respecting .gitignore.
func NewGrepFactory() toolset.Factory {
	return func(inj *toolset.Injector) (toolset.Definition, toolset.Handler, error) {
		rt := toolset.MustGet[*runtime.Runtime](inj)
		def := toolset.Definition{
			Name:        "Grep",
			Description: "Search file contents for a regular expression pattern. Respects .gitignore. Returns matching file:line:content triples.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"pattern":        {"type": "string", "description": "Regular expression to search for"},
					"max_results":    {"type": "integer", "description": "Cap on returned matches (default 100)"},
					"case_sensitive": {"type": "boolean", "description": "Match case-sensitively (default false)"}
				},
				"required": ["pattern"]
			}`),
		}
		handler := makeSearchHandler(rt, true)
		return def, handler, nil
	}
}

// NewGlobFactory builds the Glob tool: a filename search over the
// working directory. A regex filename match and a content grep are
// different enough LLM intents to warrant separate names.
func NewGlobFactory() toolset.Factory {
	return func(inj *toolset.Injector) (toolset.Definition, toolset.Handler, error) {
		rt := toolset.MustGet[*runtime.Runtime](inj)
		def := toolset.Definition{
			Name:        "Glob",
			Description: "Search file paths for a regular expression pattern. Respects .gitignore. Returns matching file paths.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"pattern":        {"type": "string", "description": "Regular expression to match against file paths"},
					"max_results":    {"type": "integer", "description": "Cap on returned paths (default 100)"},
					"case_sensitive": {"type": "boolean", "description": "Match case-sensitively (default false)"}
				},
				"required": ["pattern"]
			}`),
		}
		handler := makeSearchHandler(rt, false)
		return def, handler, nil
	}
}

func makeSearchHandler(rt *runtime.Runtime, contentSearch bool) toolset.Handler {
	return func(ctx context.Context, raw json.RawMessage) (*toolset.Result, error) {
		var args GrepArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return toolset.Errorf("invalid arguments: %v", err), nil
		}
		if args.Pattern == "" {
			return toolset.Errorf("pattern is required"), nil
		}
		max := args.MaxResults
		if max <= 0 {
			max = defaultMaxResults
		}

		searcher, err := filesearch.NewSearcher(rt.WorkDir)
		if err != nil {
			return toolset.Errorf("search init: %v", err), nil
		}
		results, err := searcher.Search(ctx, filesearch.Options{
			Pattern:       args.Pattern,
			ContentSearch: contentSearch,
			MaxResults:    max,
			CaseSensitive: args.CaseSensitive,
			RootDir:       rt.WorkDir,
		})
		if err != nil {
			return toolset.Errorf("search: %v", err), nil
		}
		if len(results) == 0 {
			return toolset.Text("no matches"), nil
		}

		var b strings.Builder
		for i, r := range results {
			if i >= max {
				fmt.Fprintf(&b, "\n... (truncated at %d results)", max)
				break
			}
			if r.Line > 0 {
				fmt.Fprintf(&b, "%s:%d: %s\n", r.Path, r.Line, r.Content)
			} else {
				fmt.Fprintf(&b, "%s\n", r.Path)
			}
		}
		return toolset.Text(strings.TrimRight(b.String(), "\n")), nil
	}
}
