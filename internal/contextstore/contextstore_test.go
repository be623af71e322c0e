package contextstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openTest(t *testing.T) *Context {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Append(TextMessage(RoleUser, "u1", "hello")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := c.Append(TextMessage(RoleAssistant, "a1", "hi there")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	c.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	msgs := reopened.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages after replay, want 2", len(msgs))
	}
	if msgs[0].ID != "u1" || msgs[1].ID != "a1" {
		t.Errorf("replay order wrong: %+v", msgs)
	}
}

func TestCheckpointMonotonic(t *testing.T) {
	c := openTest(t)

	id0, err := c.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	id1, err := c.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if id1 <= id0 {
		t.Fatalf("checkpoint ids not increasing: %d then %d", id0, id1)
	}
	if next := c.NextCheckpointID(); next != id1+1 {
		t.Errorf("NextCheckpointID() = %d, want %d", next, id1+1)
	}
}

func TestRevertToDiscardsTail(t *testing.T) {
	c := openTest(t)

	_ = c.Append(TextMessage(RoleUser, "u1", "step 1"))
	ckpt, err := c.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	_ = c.Append(TextMessage(RoleAssistant, "a1", "step 2"))
	_ = c.Append(TextMessage(RoleAssistant, "a2", "step 3"))

	if got := c.Len(); got != 3 {
		t.Fatalf("Len() = %d before revert, want 3", got)
	}

	if err := c.RevertTo(ckpt); err != nil {
		t.Fatalf("RevertTo: %v", err)
	}
	if got := c.Len(); got != 1 {
		t.Fatalf("Len() = %d after revert, want 1", got)
	}
	if msgs := c.Messages(); msgs[0].ID != "u1" {
		t.Errorf("unexpected message survived revert: %+v", msgs)
	}
}

func TestRevertToUnknownCheckpointFails(t *testing.T) {
	c := openTest(t)
	if err := c.RevertTo(99); err == nil {
		t.Fatal("expected error reverting to an unknown checkpoint")
	}
}

func TestRevertSurvivesReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = c.Append(TextMessage(RoleUser, "u1", "keep"))
	ckpt, _ := c.Checkpoint()
	_ = c.Append(TextMessage(RoleAssistant, "a1", "discard me"))
	if err := c.RevertTo(ckpt); err != nil {
		t.Fatalf("RevertTo: %v", err)
	}
	c.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	msgs := reopened.Messages()
	if len(msgs) != 1 || msgs[0].ID != "u1" {
		t.Fatalf("revert did not survive replay: %+v", msgs)
	}
}

func TestReplaceFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = c.Append(TextMessage(RoleUser, "u1", "a"))
	_ = c.Append(TextMessage(RoleAssistant, "a1", "b"))
	_ = c.Append(TextMessage(RoleAssistant, "a2", "c"))

	replacement := []Message{TextMessage(RoleSystem, "sum1", "summary of the above")}
	if err := c.ReplaceFrom(1, replacement); err != nil {
		t.Fatalf("ReplaceFrom: %v", err)
	}

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[1].ID != "sum1" {
		t.Errorf("replacement not applied: %+v", msgs)
	}
	c.Close()

	// Replay must reproduce the compacted state, not the pre-compaction
	// rows followed by a duplicate tail.
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got := reopened.Messages()
	if len(got) != 2 || got[0].ID != "u1" || got[1].ID != "sum1" {
		t.Fatalf("replay after ReplaceFrom = %+v, want [u1 sum1]", got)
	}
}

func TestReplaceFromSameLengthSurvivesReplay(t *testing.T) {
	// A replacement the same length as the original (tool-result hiding
	// rewrites messages in place) must not double the history on replay.
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = c.Append(TextMessage(RoleUser, "u1", "a"))
	_ = c.Append(TextMessage(RoleTool, "t1", "big tool output"))

	hidden := []Message{
		TextMessage(RoleUser, "u1", "a"),
		TextMessage(RoleTool, "t1", "[tool result hidden]"),
	}
	if err := c.ReplaceFrom(0, hidden); err != nil {
		t.Fatalf("ReplaceFrom: %v", err)
	}
	c.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got := reopened.Messages()
	if len(got) != 2 {
		t.Fatalf("replay yielded %d messages, want 2", len(got))
	}
	if text := got[1].Parts[0].Text; text != "[tool result hidden]" {
		t.Errorf("replayed tool message text = %q, want the hidden placeholder", text)
	}
}

func TestReplaceFromClampsLaterCheckpoints(t *testing.T) {
	c := openTest(t)
	_ = c.Append(TextMessage(RoleUser, "u1", "a"))
	ckpt, err := c.Checkpoint() // cut point 1, inside the tail ReplaceFrom discards
	if err != nil {
		t.Fatal(err)
	}
	_ = c.Append(TextMessage(RoleAssistant, "a1", "b"))

	if err := c.ReplaceFrom(0, []Message{TextMessage(RoleSystem, "sum1", "summary")}); err != nil {
		t.Fatalf("ReplaceFrom: %v", err)
	}
	if err := c.RevertTo(ckpt); err != nil {
		t.Fatalf("RevertTo after compaction: %v", err)
	}
	if got := c.Len(); got != 0 {
		t.Errorf("Len() after reverting to a clamped checkpoint = %d, want 0", got)
	}
}

func TestAppendUsageUpdatesTokenCount(t *testing.T) {
	c := openTest(t)
	if got := c.TokenCount(); got != 0 {
		t.Fatalf("TokenCount() = %d before any usage, want 0", got)
	}
	if err := c.AppendUsage(1200, 80); err != nil {
		t.Fatalf("AppendUsage: %v", err)
	}
	if got := c.TokenCount(); got != 1200 {
		t.Errorf("TokenCount() = %d, want 1200", got)
	}
}

func TestTruncatedTrailingLineDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = c.Append(TextMessage(RoleUser, "u1", "survives"))
	c.Close()

	// Simulate a crash mid-write: a final line with no closing brace.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("append to journal: %v", err)
	}
	if _, err := f.WriteString(`{"role":"assistant","id":"a1","parts":[{"ty`); err != nil {
		t.Fatalf("write truncated line: %v", err)
	}
	f.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen with truncated tail: %v", err)
	}
	defer reopened.Close()

	msgs := reopened.Messages()
	if len(msgs) != 1 || msgs[0].ID != "u1" {
		t.Fatalf("valid prefix not authoritative after truncated tail: %+v", msgs)
	}
}

func TestJournalLineShapes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := c.Checkpoint(); err != nil {
		t.Fatal(err)
	}
	_ = c.Append(TextMessage(RoleUser, "u1", "hi"))
	_ = c.AppendUsage(42, 7)
	c.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d journal lines, want 3", len(lines))
	}

	var ckpt map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &ckpt); err != nil {
		t.Fatalf("parse checkpoint row: %v", err)
	}
	if ckpt["role"] != "_checkpoint" || ckpt["id"] != float64(0) {
		t.Errorf("checkpoint row = %v, want {role:_checkpoint, id:0}", ckpt)
	}
	if _, has := ckpt["token_count"]; has {
		t.Errorf("checkpoint row carries a token_count field: %v", ckpt)
	}

	var usage map[string]any
	if err := json.Unmarshal([]byte(lines[2]), &usage); err != nil {
		t.Fatalf("parse usage row: %v", err)
	}
	if usage["role"] != "_usage" || usage["token_count"] != float64(42) {
		t.Errorf("usage row = %v, want {role:_usage, token_count:42}", usage)
	}

	var msg map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &msg); err != nil {
		t.Fatalf("parse message row: %v", err)
	}
	if msg["role"] != "user" || msg["id"] != "u1" {
		t.Errorf("message row = %v, want user row with id u1", msg)
	}
}

func TestToolCallIDs(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Parts: []Part{
			{Type: "text", Text: "calling tools"},
			{Type: "tool_call", ToolCallID: "tc1", ToolName: "Read"},
			{Type: "tool_call", ToolCallID: "tc2", ToolName: "Grep"},
		},
	}
	ids := msg.ToolCallIDs()
	if len(ids) != 2 || ids[0] != "tc1" || ids[1] != "tc2" {
		t.Fatalf("ToolCallIDs() = %v, want [tc1 tc2]", ids)
	}
}
