// Package highlight renders source file previews with ANSI syntax
// coloring for the wire's display surface. It never touches the plain,
// hash-tagged text the Read tool hands back to the model — Edit's line
// anchors depend on that text staying byte-for-byte what was hashed, so
// highlighting only ever feeds a side event for a UI to render.
package highlight

import (
	"bytes"

	chroma "github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Theme is the chroma style used for rendered previews. Chroma ships many
// more (dracula, nord, gruvbox, tokyonight-storm, ...); this is the one
// value the rest of the system reads.
const Theme = "monokai"

// Render returns an ANSI-colored rendering of source, picking a lexer by
// filename (falling back to content sniffing) the way chroma's own
// quick.Highlight does, but without pulling in its stdout dependency.
// There is no plain-text fallback: ok is false when source is empty,
// when no lexer matches by name or by content, or when tokenising or
// formatting fails.
func Render(filename string, source []byte) (rendered string, ok bool) {
	if len(source) == 0 {
		return "", false
	}
	lexer := lexers.Match(filename)
	if lexer == nil {
		lexer = lexers.Analyse(string(source))
	}
	if lexer == nil {
		return "", false
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, string(source))
	if err != nil {
		return "", false
	}

	var buf bytes.Buffer
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}
	style := styles.Get(Theme)
	if style == nil {
		style = styles.Fallback
	}
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return "", false
	}
	return buf.String(), true
}

// RenderOrPlain renders source for display, falling back to the
// unmodified text when no lexer applies. Used by callers that always
// want something to show rather than branching on ok themselves.
func RenderOrPlain(filename string, source []byte) string {
	if out, ok := Render(filename, source); ok {
		return out
	}
	return string(source)
}
