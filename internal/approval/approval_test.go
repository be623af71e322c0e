package approval

import (
	"context"
	"testing"
	"time"
)

func TestYOLOBypassesAllRequests(t *testing.T) {
	var published int
	m := New(true, func(Request) { published++ })

	d, err := m.Request(context.Background(), "Shell", "shell.exec", "run tests")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if d != ApproveOnce {
		t.Errorf("decision = %v, want ApproveOnce", d)
	}
	if published != 0 {
		t.Errorf("published %d requests under YOLO, want 0", published)
	}
}

func TestWhitelistBypassesAfterApproveForSession(t *testing.T) {
	var req Request
	published := 0
	m := New(false, func(r Request) { req = r; published++ })

	go func() {
		for i := 0; i < 50 && req.ID == ""; i++ {
			time.Sleep(time.Millisecond)
		}
		_ = m.Resolve(req.ID, ApproveForSession)
	}()

	d, err := m.Request(context.Background(), "Shell", "shell.exec", "first run")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if d != ApproveForSession {
		t.Fatalf("decision = %v, want ApproveForSession", d)
	}
	if !m.Whitelisted("shell.exec") {
		t.Fatal("expected shell.exec to be whitelisted after ApproveForSession")
	}
	if published != 1 {
		t.Fatalf("published %d requests for the first call, want 1", published)
	}

	// Second call for the same action must not publish again.
	d2, err := m.Request(context.Background(), "Shell", "shell.exec", "second run")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if d2 != ApproveOnce {
		t.Errorf("decision = %v, want ApproveOnce (from whitelist)", d2)
	}
	if published != 1 {
		t.Errorf("published %d requests total, want still 1 (whitelisted action shouldn't re-publish)", published)
	}
}

func TestRequestRejected(t *testing.T) {
	var req Request
	m := New(false, func(r Request) { req = r })

	go func() {
		for i := 0; i < 50 && req.ID == ""; i++ {
			time.Sleep(time.Millisecond)
		}
		_ = m.Resolve(req.ID, Reject)
	}()

	d, err := m.Request(context.Background(), "Shell", "shell.exec", "rm -rf /")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if d != Reject {
		t.Errorf("decision = %v, want Reject", d)
	}
	if m.Whitelisted("shell.exec") {
		t.Error("a rejected action must not become whitelisted")
	}
}

func TestContextCancelResolvesAsReject(t *testing.T) {
	m := New(false, func(Request) {})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	d, err := m.Request(ctx, "Shell", "shell.exec", "slow approval")
	if err == nil {
		t.Fatal("expected an error when the request context is canceled")
	}
	if d != Reject {
		t.Errorf("decision on context cancellation = %v, want Reject", d)
	}
}

func TestResolveUnknownRequestFails(t *testing.T) {
	m := New(false, func(Request) {})
	if err := m.Resolve("nonexistent", ApproveOnce); err == nil {
		t.Fatal("expected error resolving an unknown request id")
	}
}

func TestRejectAllUnblocksPending(t *testing.T) {
	m := New(false, func(Request) {})
	done := make(chan Decision, 1)
	go func() {
		d, _ := m.Request(context.Background(), "Shell", "shell.exec", "blocked forever")
		done <- d
	}()

	deadline := time.Now().Add(time.Second)
	for m.PendingCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	m.RejectAll()

	select {
	case d := <-done:
		if d != Reject {
			t.Errorf("decision after RejectAll = %v, want Reject", d)
		}
	case <-time.After(time.Second):
		t.Fatal("RejectAll did not unblock the pending request")
	}
}

func TestToolCallContext(t *testing.T) {
	ctx := WithToolCall(context.Background(), "tc-1")
	if got := toolCallIDFromContext(ctx); got != "tc-1" {
		t.Errorf("toolCallIDFromContext = %q, want tc-1", got)
	}
	if got := toolCallIDFromContext(context.Background()); got != "" {
		t.Errorf("toolCallIDFromContext on bare context = %q, want empty", got)
	}
}
