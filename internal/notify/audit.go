package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/xandylearning/zulip-sub000/internal/config"
)

const redactedMarker = "[REDACTED]"

// AuditFilter narrows Query results. Zero fields match everything.
type AuditFilter struct {
	ResponderID string
	Type        Type
	StartTime   time.Time
	EndTime     time.Time
}

// AuditSink appends events as JSON lines to a local file.
type AuditSink struct {
	mu       sync.RWMutex
	path     string
	patterns []*regexp.Regexp
	literals []string
}

func NewAuditSink(path string, redactPatterns []string) (*AuditSink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("audit path cannot be empty")
	}
	if err := config.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	s := &AuditSink{path: path}
	for _, p := range redactPatterns {
		if p == "" {
			continue
		}
		if re, err := regexp.Compile(p); err == nil {
			s.patterns = append(s.patterns, re)
		} else {
			s.literals = append(s.literals, p)
		}
	}
	return s, nil
}

func (s *AuditSink) Name() string {
	return "audit"
}

func (s *AuditSink) Path() string {
	return s.path
}

func (s *AuditSink) Send(ctx context.Context, evt Event) error {
	line, err := json.Marshal(s.redact(evt))
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// Query reads back events, skipping lines that no longer parse.
func (s *AuditSink) Query(ctx context.Context, filter *AuditFilter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return []Event{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			slog.Warn("Failed to parse audit line", "error", err)
			continue
		}
		if filter == nil || filter.matches(evt) {
			events = append(events, evt)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (f *AuditFilter) matches(evt Event) bool {
	if f.ResponderID != "" && evt.ResponderID != f.ResponderID {
		return false
	}
	if f.Type != "" && evt.Type != f.Type {
		return false
	}
	if !f.StartTime.IsZero() && evt.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && evt.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}

// redact scrubs free-text fields; identifiers are kept for filtering.
func (s *AuditSink) redact(evt Event) Event {
	evt.Message = s.redactString(evt.Message)
	return evt
}

func (s *AuditSink) redactString(v string) string {
	if v == "" {
		return v
	}
	for _, re := range s.patterns {
		v = re.ReplaceAllString(v, redactedMarker)
	}
	for _, lit := range s.literals {
		v = strings.ReplaceAll(v, lit, redactedMarker)
	}
	return v
}
