package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xandylearning/zulip-sub000/internal/completion"
	"github.com/xandylearning/zulip-sub000/internal/history"
)

// countingCompleter replies with a fixed text (or error) and counts calls.
type countingCompleter struct {
	calls atomic.Int32

	mu       sync.Mutex
	text     string
	err      error
	requests []completion.Request
}

func (c *countingCompleter) Complete(_ context.Context, req completion.Request) (completion.Result, error) {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.err != nil {
		return completion.Result{}, c.err
	}
	return completion.Result{Text: c.text, Model: "fake"}, nil
}

func (c *countingCompleter) Calls() int {
	return int(c.calls.Load())
}

func (c *countingCompleter) LastRequest() completion.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return completion.Request{}
	}
	return c.requests[len(c.requests)-1]
}

var errCompletionDown = errors.New("completion service unavailable")

// fakeMessages serves canned history.
type fakeMessages struct {
	recent     []history.Message
	convo      []history.Message
	last       time.Time
	hasLast    bool
	err        error
	fetchCalls atomic.Int32
}

func (f *fakeMessages) FetchRecentMessages(_ context.Context, _ string, limit int, _ time.Time) ([]history.Message, error) {
	f.fetchCalls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && len(f.recent) > limit {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func (f *fakeMessages) FetchConversation(_ context.Context, _, _ string, _ int) ([]history.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.convo, nil
}

func (f *fakeMessages) LastMessageAt(_ context.Context, _ string) (time.Time, bool, error) {
	if f.err != nil {
		return time.Time{}, false, f.err
	}
	return f.last, f.hasLast, nil
}

// spreadMessages returns n messages sent by user, newest first, one day apart
// starting at newest.
func spreadMessages(user string, n int, newest time.Time, content string) []history.Message {
	out := make([]history.Message, n)
	for i := range out {
		out[i] = history.Message{
			ID:          user + "-" + string(rune('a'+i)),
			SenderID:    user,
			RecipientID: "someone",
			Content:     content,
			SentAt:      newest.Add(-time.Duration(i) * 24 * time.Hour),
		}
	}
	return out
}

type fakeInteractionLog struct {
	mu      sync.Mutex
	records []history.AutoResponse
	err     error
}

func (f *fakeInteractionLog) RecordAutoResponse(_ context.Context, rec history.AutoResponse) (history.AutoResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return history.AutoResponse{}, f.err
	}
	if rec.ID == "" {
		rec.ID = "rec"
	}
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeInteractionLog) CountAutoResponsesSince(_ context.Context, responderID string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	n := 0
	for _, r := range f.records {
		if r.ResponderID == responderID && !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type fakeActivity struct {
	absence time.Duration
	known   bool
	count   int
	err     error
}

func (f fakeActivity) Absence(context.Context, string) (time.Duration, bool, error) {
	return f.absence, f.known, f.err
}

func (f fakeActivity) DailyCount(context.Context, string) (int, error) {
	return f.count, f.err
}
