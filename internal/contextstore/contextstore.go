// Package contextstore implements the durable, checkpointed turn journal.
// The on-disk format is an append-only JSONL file: every line is either a
// message record or a discriminated control record (_checkpoint, _usage,
// _truncate). Revert and compaction never rewrite the file — each appends
// a compensating control record and the in-memory tail is discarded, so
// the journal always reflects everything that really happened, including
// rewinds, and replay reproduces the post-rewind state exactly.
package contextstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Role identifies the speaker of a message part.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// controlRole values distinguish control records from message records in
// the same flat journal. Readers of the journal format ignore roles they
// don't know, so _truncate (private to this package, written by
// ReplaceFrom) doesn't break an external reader that only understands
// checkpoints and usage rows.
const (
	controlCheckpoint = "_checkpoint"
	controlUsage      = "_usage"
	controlTruncate   = "_truncate"
)

// Part is one piece of message content: text, thinking, an image
// reference, a tool call (assistant role only), or a tool result (tool
// role only).
type Part struct {
	Type       string          `json:"type"` // "text", "thinking", "image", "tool_call", "tool_result"
	Text       string          `json:"text,omitempty"`
	ImageRef   string          `json:"image_ref,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	Hidden     bool            `json:"hidden,omitempty"` // set by compaction's tool-result-hiding strategy
}

// Message is one journaled turn entry.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"created_at"`
}

// record is the on-disk envelope. Exactly one shape is written per line,
// discriminated by the "role" field: a message row ({role, id, parts,
// created_at}), a checkpoint row ({role:"_checkpoint", id}), a usage row
// ({role:"_usage", token_count}), or a truncation row
// ({role:"_truncate", len}) written by ReplaceFrom before it re-appends
// the compacted history. There is no separate "mark"/"revert"
// discriminator on checkpoint rows — replay tells them apart by whether
// the id has been seen before (see replay below).
type record struct {
	Kind         string // message role, or a control discriminator; never marshaled directly
	MsgID        string
	Parts        []Part
	CreatedAt    time.Time
	CheckpointID int
	TokenCount   int
	Length       int // _truncate only: message count to cut back to
}

func (r record) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case controlCheckpoint:
		return json.Marshal(struct {
			Role string `json:"role"`
			ID   int    `json:"id"`
		}{r.Kind, r.CheckpointID})
	case controlUsage:
		return json.Marshal(struct {
			Role       string `json:"role"`
			TokenCount int    `json:"token_count"`
		}{r.Kind, r.TokenCount})
	case controlTruncate:
		return json.Marshal(struct {
			Role string `json:"role"`
			Len  int    `json:"len"`
		}{r.Kind, r.Length})
	default:
		return json.Marshal(struct {
			Role      string    `json:"role"`
			ID        string    `json:"id"`
			Parts     []Part    `json:"parts,omitempty"`
			CreatedAt time.Time `json:"created_at"`
		}{r.Kind, r.MsgID, r.Parts, r.CreatedAt})
	}
}

func (r *record) UnmarshalJSON(data []byte) error {
	var probe struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	r.Kind = probe.Role

	switch probe.Role {
	case controlCheckpoint:
		var v struct {
			ID int `json:"id"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		r.CheckpointID = v.ID
	case controlUsage:
		var v struct {
			TokenCount int `json:"token_count"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		r.TokenCount = v.TokenCount
	case controlTruncate:
		var v struct {
			Len int `json:"len"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		r.Length = v.Len
	default:
		var v struct {
			ID        string    `json:"id"`
			Parts     []Part    `json:"parts"`
			CreatedAt time.Time `json:"created_at"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		r.MsgID = v.ID
		r.Parts = v.Parts
		r.CreatedAt = v.CreatedAt
	}
	return nil
}

// Context is a live, append-only turn journal backed by an open file.
type Context struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer

	messages    []Message
	checkpoints map[int]int // checkpoint id -> message count at that point
	nextCkpt    int
	tokenCount  int // last reported prompt-token usage; tool-result tokens not included
}

// Open opens (creating if necessary) the journal at path and replays it
// to rebuild in-memory state (see replay).
func Open(path string) (*Context, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("contextstore: open %s: %w", path, err)
	}

	c := &Context{
		file:        f,
		w:           bufio.NewWriter(f),
		checkpoints: make(map[int]int),
	}
	if err := c.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

// replay reads every existing line and rebuilds messages/checkpoints,
// applying "highest-checkpoint-wins, discard in-memory tail on revert":
// a revert record truncates the in-memory message slice back to the
// message count recorded at its target checkpoint, without touching the
// file itself.
func (c *Context) replay() error {
	if _, err := c.file.Seek(0, 0); err != nil {
		return err
	}
	sc := bufio.NewScanner(c.file)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			// A truncated final line is the only corruption we expect in
			// practice (a crash mid-write): log it and treat everything
			// read so far as authoritative rather than failing Open.
			log.Warn().Err(err).Msg("contextstore: discarding truncated trailing journal line")
			break
		}

		switch rec.Kind {
		case controlCheckpoint:
			// A checkpoint id at or below the highest id seen so far is a
			// compensating revert record, not a fresh mark. Fresh marks
			// always carry a strictly greater id than any seen before,
			// since nextCkpt only advances on a genuine mark.
			if rec.CheckpointID < c.nextCkpt {
				if cut, ok := c.checkpoints[rec.CheckpointID]; ok && cut <= len(c.messages) {
					c.messages = c.messages[:cut]
				}
			} else {
				c.checkpoints[rec.CheckpointID] = len(c.messages)
				c.nextCkpt = rec.CheckpointID + 1
			}
		case controlUsage:
			c.tokenCount = rec.TokenCount
		case controlTruncate:
			cut := rec.Length
			if cut > len(c.messages) {
				log.Warn().Int("len", rec.Length).Int("messages", len(c.messages)).
					Msg("contextstore: truncation record exceeds replayed history, clamping")
				cut = len(c.messages)
			}
			c.messages = c.messages[:cut]
			c.clampCheckpoints(cut)
		default:
			c.messages = append(c.messages, Message{
				ID:        rec.MsgID,
				Role:      Role(rec.Kind),
				Parts:     rec.Parts,
				CreatedAt: rec.CreatedAt,
			})
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("contextstore: scan journal: %w", err)
	}
	// Resume appending after the last line.
	if _, err := c.file.Seek(0, 2); err != nil {
		return err
	}
	c.w = bufio.NewWriter(c.file)
	return nil
}

// Append writes a new message to the journal and to memory.
func (c *Context) Append(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeRecord(record{
		Kind:      string(msg.Role),
		MsgID:     msg.ID,
		Parts:     msg.Parts,
		CreatedAt: msg.CreatedAt,
	}); err != nil {
		return err
	}
	c.messages = append(c.messages, msg)
	return nil
}

// AppendUsage records token usage for the turn and updates TokenCount to
// inTokens — the last reported prompt-token usage. Tool-result tokens
// added later in the same step are not folded back in; the next step's
// reported usage covers them. outTokens is carried for the caller's wire
// status event only — the journal's usage row records a single
// token_count.
func (c *Context) AppendUsage(inTokens, outTokens int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeRecord(record{Kind: controlUsage, TokenCount: inTokens}); err != nil {
		return err
	}
	c.tokenCount = inTokens
	return nil
}

// TokenCount returns the most recently recorded prompt-token usage, or
// zero if none has been reported yet.
func (c *Context) TokenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenCount
}

// Checkpoint marks the current message count as a restorable point and
// returns its id, monotonically increasing within this journal's lifetime.
func (c *Context) Checkpoint() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextCkpt
	c.nextCkpt++
	c.checkpoints[id] = len(c.messages)
	if err := c.writeRecord(record{Kind: controlCheckpoint, CheckpointID: id}); err != nil {
		return 0, err
	}
	return id, nil
}

// RevertTo rewinds in-memory state to checkpoint id's message count and
// appends a compensating checkpoint record carrying that same id — the
// journal file itself is never truncated, preserving a durable record of
// the rewind. Replay recognizes a repeated (non-advancing) id as a revert
// rather than a fresh mark; see replay above.
func (c *Context) RevertTo(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cut, ok := c.checkpoints[id]
	if !ok {
		return fmt.Errorf("contextstore: unknown checkpoint %d", id)
	}
	if err := c.writeRecord(record{Kind: controlCheckpoint, CheckpointID: id}); err != nil {
		return err
	}
	if cut > len(c.messages) {
		// A checkpoint recorded before a later compaction shrank history
		// is no longer a valid cut point; clamp rather than slice out of
		// range. Ordinary turns never hit this: compaction always runs
		// before the step's own checkpoint (see agentloop.runOneStep).
		log.Warn().Int("checkpoint", id).Int("cut", cut).Int("len", len(c.messages)).
			Msg("contextstore: checkpoint target predates a compaction, clamping revert")
		cut = len(c.messages)
	}
	c.messages = c.messages[:cut]
	return nil
}

// NextCheckpointID returns the id the next call to Checkpoint will
// allocate, equivalently the count of checkpoints written so far.
func (c *Context) NextCheckpointID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextCkpt
}

// HasCheckpoint reports whether id has been recorded and can be the
// target of RevertTo.
func (c *Context) HasCheckpoint(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.checkpoints[id]
	return ok
}

// Messages returns a snapshot of the current in-memory message list.
func (c *Context) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len reports the current message count.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// ReplaceFrom overwrites the in-memory tail starting at index from with
// replacement, used by compaction to swap in hidden/summarized parts.
// The file stays append-only: a _truncate record marks where the old
// tail ends, then the replacement is journaled as a fresh run of message
// records, so replay reproduces the compacted state instead of the
// pre-compaction rows followed by a duplicate tail. Checkpoints whose
// cut point lay inside the replaced tail are pulled back to from — the
// history they referred to no longer exists.
func (c *Context) ReplaceFrom(from int, replacement []Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if from < 0 || from > len(c.messages) {
		return fmt.Errorf("contextstore: replace index %d out of range", from)
	}
	if err := c.writeRecord(record{Kind: controlTruncate, Length: from}); err != nil {
		return err
	}
	for _, m := range replacement {
		if err := c.writeRecord(record{Kind: string(m.Role), MsgID: m.ID, Parts: m.Parts, CreatedAt: m.CreatedAt}); err != nil {
			return err
		}
	}
	c.messages = append(c.messages[:from:from], replacement...)
	c.clampCheckpoints(from)
	return nil
}

// clampCheckpoints pulls every recorded checkpoint cut point that lies
// past limit back to limit. Callers hold c.mu.
func (c *Context) clampCheckpoints(limit int) {
	for id, cut := range c.checkpoints {
		if cut > limit {
			c.checkpoints[id] = limit
		}
	}
}

func (c *Context) writeRecord(rec record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("contextstore: marshal record: %w", err)
	}
	if _, err := c.w.Write(b); err != nil {
		return err
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("contextstore: flush: %w", err)
	}
	return c.file.Sync()
}

// TextMessage builds a single-part text Message, stamped with the current
// time. A convenience used by callers that don't need multi-part content.
func TextMessage(role Role, id, text string) Message {
	return Message{ID: id, Role: role, Parts: []Part{{Type: "text", Text: text}}, CreatedAt: time.Now()}
}

// ToolCallIDs returns the tool_call_id of every tool_call part in m, in
// declared order. Empty for non-assistant messages or assistant messages
// with no tool calls.
func (m Message) ToolCallIDs() []string {
	var ids []string
	for _, p := range m.Parts {
		if p.Type == "tool_call" {
			ids = append(ids, p.ToolCallID)
		}
	}
	return ids
}

// Close flushes and closes the underlying file.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.w.Flush(); err != nil {
		return err
	}
	return c.file.Close()
}
